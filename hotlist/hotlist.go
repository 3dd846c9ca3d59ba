package hotlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HotList is a snapshot of the identifiers currently of interest
type HotList struct {
	Version   string    `yaml:"version" json:"version,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updatedAt,omitempty"`
	IDs       []string  `yaml:"ids" json:"ids"`
}

// Format is the encoding of a hot list file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// FormatFor picks the format from a file extension; anything but .yaml/.yml is text.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// Load reads and parses the hot list at path
func Load(path string) (*HotList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hot list: %w", err)
	}
	defer f.Close()

	list, err := Parse(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hot list %s: %w", path, err)
	}
	return list, nil
}

// Parse decodes a hot list. Text lists hold one identifier per line; blank
// lines and lines starting with # are skipped.
func Parse(r io.Reader, format Format) (*HotList, error) {
	var list HotList

	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&list); err != nil && err != io.EOF {
			return nil, err
		}
	case FormatText:
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			list.IDs = append(list.IDs, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown hot list format %q", format)
	}

	list.IDs = normalize(list.IDs)
	return &list, nil
}

// normalize trims identifiers and drops empties and duplicates, keeping order.
func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Contains reports whether id is on the list
func (h *HotList) Contains(id string) bool {
	for _, candidate := range h.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// Save writes the list to path as YAML
func (h *HotList) Save(path string) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
