package sentinel

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarningsLedgerBonusSaturatesAtCap(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(150))
	require.NoError(t, err)
	ledger.Open(FromFloat(49), FromFloat(140))

	earnings, err := ledger.Credit(FromFloat(50), AccountBonus)
	require.NoError(t, err)

	assert.Equal(t, FromFloat(150), earnings.Bonus)
	assert.Equal(t, FromFloat(199), earnings.Total)

	journal := ledger.Journal()
	require.NotEmpty(t, journal)
	last := journal[len(journal)-1]
	assert.Equal(t, FromFloat(50), last.Requested)
	assert.Equal(t, FromFloat(10), last.Applied)
}

func TestEarningsLedgerBaseIsAdditive(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(150))
	require.NoError(t, err)

	_, err = ledger.Credit(FromFloat(49), AccountBase)
	require.NoError(t, err)
	earnings, err := ledger.Credit(FromFloat(200), AccountBase)
	require.NoError(t, err)

	assert.Equal(t, FromFloat(249), earnings.Base)
	assert.Zero(t, earnings.Bonus)
}

func TestEarningsLedgerHugeCreditsSaturate(t *testing.T) {
	ledger, err := NewEarningsLedger(DefaultBonusCap)
	require.NoError(t, err)
	ledger.Open(0, FromFloat(40))

	earnings, err := ledger.Credit(math.MaxInt64, AccountBonus)
	require.NoError(t, err)
	assert.Equal(t, DefaultBonusCap, earnings.Bonus)

	journal := ledger.Journal()
	assert.Equal(t, DefaultBonusCap-FromFloat(40), journal[len(journal)-1].Applied)

	_, err = ledger.Credit(math.MaxInt64, AccountBase)
	require.NoError(t, err)
	earnings, err = ledger.Credit(math.MaxInt64, AccountBase)
	require.NoError(t, err)
	assert.Equal(t, Money(math.MaxInt64), earnings.Base)
	assert.Equal(t, Money(math.MaxInt64), earnings.Total)
	assert.Equal(t, DefaultBonusCap, earnings.Bonus)
}

func TestEarningsLedgerRejectsInvalidCredits(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(150))
	require.NoError(t, err)

	_, err = ledger.Credit(-1, AccountBonus)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = ledger.Credit(1, Account("savings"))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	assert.Equal(t, Earnings{BonusCap: FromFloat(150)}, ledger.Read())

	_, err = NewEarningsLedger(-1)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestEarningsLedgerOpenResetsSession(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(150))
	require.NoError(t, err)

	ledger.Open(FromFloat(49), FromFloat(40))
	_, err = ledger.Credit(FromFloat(50), AccountBonus)
	require.NoError(t, err)

	earnings := ledger.Open(FromFloat(49), FromFloat(400))
	assert.Equal(t, FromFloat(49), earnings.Base)
	assert.Equal(t, FromFloat(150), earnings.Bonus, "opening bonus is clamped to the cap")
	assert.Len(t, ledger.Journal(), 2)
}

func TestEarningsLedgerConcurrentCreditsNeverExceedCap(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(150))
	require.NoError(t, err)
	ledger.Open(0, FromFloat(100))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := FromFloat(50)
			if i%2 == 0 {
				amount = FromFloat(0.5)
			}
			earnings, err := ledger.Credit(amount, AccountBonus)
			assert.NoError(t, err)
			assert.LessOrEqual(t, earnings.Bonus, FromFloat(150))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, FromFloat(150), ledger.Read().Bonus)
}

func TestEarningsLedgerConcurrentCreditsDoNotLoseUpdates(t *testing.T) {
	ledger, err := NewEarningsLedger(FromFloat(1000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Credit(FromFloat(0.5), AccountBonus)
		}()
	}
	wg.Wait()

	assert.Equal(t, FromFloat(50), ledger.Read().Bonus)
}

func TestMoneyFormatting(t *testing.T) {
	assert.Equal(t, "R150.00", FromFloat(150).String())
	assert.Equal(t, "R0.50", FromFloat(0.5).String())
	assert.Equal(t, "-R1.05", Money(-105).String())

	data, err := FromFloat(49.5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "49.50", string(data))

	var m Money
	require.NoError(t, m.UnmarshalJSON([]byte("0.5")))
	assert.Equal(t, Money(50), m)
}
