package sentinel

import (
	"math"
	"sync"
	"time"
)

// Account selects which balance a credit applies to
type Account string

const (
	AccountBase  Account = "base"
	AccountBonus Account = "bonus"
)

// journalSize is the number of ledger entries kept for inspection
const journalSize = 100

// Earnings is a point-in-time view of the ledger
type Earnings struct {
	Base     Money `json:"base"`
	Bonus    Money `json:"bonus"`
	BonusCap Money `json:"bonusCap"`
	Total    Money `json:"total"`
}

// LedgerEntry records one applied credit
type LedgerEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Account   Account   `json:"account"`
	Requested Money     `json:"requested"`
	Applied   Money     `json:"applied"`
	Reason    string    `json:"reason,omitempty"`
}

// EarningsLedger owns the session's base and bonus balances. The bonus never
// exceeds the cap; every mutation happens under the ledger's lock.
type EarningsLedger struct {
	mu       sync.RWMutex
	base     Money
	bonus    Money
	bonusCap Money
	journal  []LedgerEntry
	now      func() time.Time
}

// NewEarningsLedger creates an empty ledger with the given bonus cap
func NewEarningsLedger(bonusCap Money) (*EarningsLedger, error) {
	if bonusCap < 0 {
		return nil, InvalidConfiguration("bonus cap must not be negative, got %s", bonusCap)
	}

	return &EarningsLedger{
		bonusCap: bonusCap,
		journal:  make([]LedgerEntry, 0, journalSize),
		now:      time.Now,
	}, nil
}

// ledgerState is a saved copy of the balances and journal
type ledgerState struct {
	base    Money
	bonus   Money
	journal []LedgerEntry
}

// save copies the current balances so a failed session start can be undone
func (l *EarningsLedger) save() ledgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ledgerState{
		base:    l.base,
		bonus:   l.bonus,
		journal: append([]LedgerEntry(nil), l.journal...),
	}
}

// restore puts back balances taken with save
func (l *EarningsLedger) restore(state ledgerState) Earnings {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base = state.base
	l.bonus = state.bonus
	l.journal = append(l.journal[:0], state.journal...)
	return l.snapshot()
}

// saturatingAdd adds two non-negative amounts, stopping at the largest representable value.
func saturatingAdd(a, b Money) Money {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Open starts a new session: the base is set and the bonus restarts at initialBonus, clamped to the cap.
func (l *EarningsLedger) Open(base, initialBonus Money) Earnings {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.base = 0
	l.bonus = 0
	l.journal = l.journal[:0]
	l.apply(base, AccountBase, "session base")
	l.apply(initialBonus, AccountBonus, "session opening bonus")
	return l.snapshot()
}

// Credit adds amount to account and returns the resulting snapshot.
// Bonus credits saturate at the cap.
func (l *EarningsLedger) Credit(amount Money, account Account) (Earnings, error) {
	return l.CreditWithReason(amount, account, "")
}

// CreditWithReason is Credit with a journal annotation
func (l *EarningsLedger) CreditWithReason(amount Money, account Account, reason string) (Earnings, error) {
	if amount < 0 {
		return l.Read(), InvalidConfiguration("credit amount must not be negative, got %s", amount)
	}
	if account != AccountBase && account != AccountBonus {
		return l.Read(), InvalidConfiguration("unknown account %q", account)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.apply(amount, account, reason)
	return l.snapshot(), nil
}

func (l *EarningsLedger) apply(amount Money, account Account, reason string) {
	applied := amount
	switch account {
	case AccountBase:
		next := saturatingAdd(l.base, amount)
		applied = next - l.base
		l.base = next
	case AccountBonus:
		next := l.bonusCap
		if amount < l.bonusCap-l.bonus {
			next = l.bonus + amount
		}
		applied = next - l.bonus
		l.bonus = next
	}

	l.journal = append(l.journal, LedgerEntry{
		Timestamp: l.now(),
		Account:   account,
		Requested: amount,
		Applied:   applied,
		Reason:    reason,
	})
	if len(l.journal) > journalSize {
		l.journal = l.journal[1:]
	}
}

// Read returns a snapshot of the balances
func (l *EarningsLedger) Read() Earnings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot()
}

func (l *EarningsLedger) snapshot() Earnings {
	return Earnings{
		Base:     l.base,
		Bonus:    l.bonus,
		BonusCap: l.bonusCap,
		Total:    saturatingAdd(l.base, l.bonus),
	}
}

// Journal returns the most recent credits, oldest first
func (l *EarningsLedger) Journal() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]LedgerEntry, len(l.journal))
	copy(entries, l.journal)
	return entries
}
