package scansource

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandrut83/sentinel/sentinel"
)

type collectingSink struct {
	mu     sync.Mutex
	events []sentinel.ObservedEvent
	errs   []error
}

func (c *collectingSink) Observe(e sentinel.ObservedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingSink) SourceError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collectingSink) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.events))
	for _, e := range c.events {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestTCPSourceDeliversLines(t *testing.T) {
	source := NewTCPSource("127.0.0.1:0", nil)
	sink := &collectingSink{}
	require.NoError(t, source.Start(sink))
	defer source.Stop()

	assert.Error(t, source.Start(sink), "double start is rejected")

	conn, err := net.Dial("tcp", source.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn,
		`{"id":"AA:BB:CC:DD:EE:01","signalStrength":-61,"displayName":"Taxi 12"}`+"\n"+
			"not json\n"+
			"\n"+
			`{"id":"STOLEN-123"}`+"\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"AA:BB:CC:DD:EE:01", "STOLEN-123"}, sink.ids())

	sink.mu.Lock()
	first := sink.events[0]
	sink.mu.Unlock()
	require.NotNil(t, first.SignalStrength)
	assert.Equal(t, -61.0, *first.SignalStrength)
	assert.Equal(t, "Taxi 12", first.DisplayName)
}

func TestTCPSourceStopClosesBridges(t *testing.T) {
	source := NewTCPSource("127.0.0.1:0", nil)
	require.NoError(t, source.Start(&collectingSink{}))

	conn, err := net.Dial("tcp", source.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Give the accept loop a moment to register the bridge.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, source.Stop())
	assert.Nil(t, source.Addr())
	require.NoError(t, source.Stop(), "second stop is a no-op")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestTailSourceReplaysFromHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"A"}`+"\n"+`{"id":"B"}`+"\n"), 0o644))

	source := NewTailSource(path, true, nil)
	sink := &collectingSink{}
	require.NoError(t, source.Start(sink))
	defer source.Stop()

	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"C"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		return len(sink.ids()) == 3
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, sink.ids())
}
