package sentinel

import (
	"encoding/binary"
	"math"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// MembershipIndex is a fixed-size bloom filter over hot-list identifiers.
// MayContain never returns false for an inserted id; it may return true for
// an id that was never inserted.
type MembershipIndex struct {
	mu         sync.RWMutex
	bits       []uint64
	bitCount   uint64
	hashRounds int
	inserted   int
}

// NewMembershipIndex allocates a zeroed index of bitCount bits using hashRounds positions per id
func NewMembershipIndex(bitCount, hashRounds int) (*MembershipIndex, error) {
	if bitCount <= 0 {
		return nil, InvalidConfiguration("bit count must be positive, got %d", bitCount)
	}
	if hashRounds <= 0 {
		return nil, InvalidConfiguration("hash rounds must be positive, got %d", hashRounds)
	}

	return &MembershipIndex{
		bits:       make([]uint64, (bitCount+63)/64),
		bitCount:   uint64(bitCount),
		hashRounds: hashRounds,
	}, nil
}

// NewMembershipIndexForCapacity sizes an index so that expectedItems entries
// keep the false-positive rate at or below fpRate.
func NewMembershipIndexForCapacity(expectedItems int, fpRate float64) (*MembershipIndex, error) {
	if expectedItems <= 0 {
		return nil, InvalidConfiguration("expected items must be positive, got %d", expectedItems)
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, InvalidConfiguration("false positive rate must be in (0, 1), got %g", fpRate)
	}

	m, k := OptimalSize(expectedItems, fpRate)
	return NewMembershipIndex(m, k)
}

// OptimalSize returns the bit count and hash rounds for n items at false-positive rate p.
func OptimalSize(n int, p float64) (bitCount, hashRounds int) {
	ln2 := math.Ln2
	m := math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2))
	k := math.Round(m / float64(n) * ln2)
	if k < 1 {
		k = 1
	}
	return int(m), int(k)
}

// Insert sets the id's positions. Inserting the same id twice is a no-op.
func (m *MembershipIndex) Insert(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insert(id)
}

// insert sets the id's positions and counts it only when it set a new bit,
// so repeated inserts of one id do not inflate Len.
func (m *MembershipIndex) insert(id string) {
	buf := hashInput(id)
	changed := false
	for round := 0; round < m.hashRounds; round++ {
		pos := m.position(buf, round)
		word, mask := pos/64, uint64(1)<<(pos%64)
		if m.bits[word]&mask == 0 {
			m.bits[word] |= mask
			changed = true
		}
	}
	if changed {
		m.inserted++
	}
}

// MayContain reports whether every position of id is set
func (m *MembershipIndex) MayContain(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf := hashInput(id)
	for round := 0; round < m.hashRounds; round++ {
		pos := m.position(buf, round)
		if m.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Reset zeroes all bits, keeping the size and round count
func (m *MembershipIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *MembershipIndex) reset() {
	for i := range m.bits {
		m.bits[i] = 0
	}
	m.inserted = 0
}

// BulkLoad replaces the contents of the index with ids. Queries block until the reload completes.
func (m *MembershipIndex) BulkLoad(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	for _, id := range ids {
		m.insert(id)
	}
}

// BitCount returns the fixed size of the index in bits
func (m *MembershipIndex) BitCount() int {
	return int(m.bitCount)
}

// HashRounds returns the fixed number of positions per id
func (m *MembershipIndex) HashRounds() int {
	return m.hashRounds
}

// Len returns the number of ids inserted since the last reset. An id whose
// positions were all set already is not counted, which covers duplicates.
func (m *MembershipIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserted
}

// EstimatedFalsePositiveRate approximates (1 - e^{-k·n/m})^k for the current load
func (m *MembershipIndex) EstimatedFalsePositiveRate() float64 {
	return FalsePositiveRate(m.BitCount(), m.hashRounds, m.Len())
}

// FalsePositiveRate is the standard bloom filter estimate for m bits, k rounds and n items.
func FalsePositiveRate(m, k, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
}

// hashInput lays out the id behind a 4-byte round prefix filled in by position
func hashInput(id string) []byte {
	buf := make([]byte, 4+len(id))
	copy(buf[4:], id)
	return buf
}

// position hashes the round index together with the id so every round lands independently.
// It overwrites the round prefix of buf.
func (m *MembershipIndex) position(buf []byte, round int) uint64 {
	binary.LittleEndian.PutUint32(buf, uint32(round))

	sum := blake2b.Sum256(buf)
	return binary.LittleEndian.Uint64(sum[:8]) % m.bitCount
}
