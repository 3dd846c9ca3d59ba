package sentinel

import (
	"time"
)

const (
	// NetworkName is the name of the sentinel network
	NetworkName = "Asguard"

	// CurrencySymbol prefixes every formatted money amount
	CurrencySymbol = "R"

	// DefaultBitCount is the filter size used by the mobile client
	DefaultBitCount = 1000

	// DefaultHashRounds is the number of hash rounds per identifier
	DefaultHashRounds = 3

	// DefaultPassiveInterval is the number of filter misses between passive credits
	DefaultPassiveInterval = 5

	// DefaultVerifyTimeout bounds a single call to the verification authority
	DefaultVerifyTimeout = 5 * time.Second

	// Version is the current version of the engine
	Version = "0.1.0"
)

var (
	// DefaultBase is the base earnings a guarding session opens with
	DefaultBase = Money(4900)

	// DefaultInitialBonus is the bonus a guarding session opens with
	DefaultInitialBonus = Money(4000)

	// DefaultBonusCap is the hard ceiling on bonus earnings
	DefaultBonusCap = Money(15000)

	// DefaultPassiveReward is credited on every throttled filter miss
	DefaultPassiveReward = Money(50)

	// DefaultConfirmReward is credited when the authority confirms a hit
	DefaultConfirmReward = Money(5000)
)

// RewardPolicy holds the accrual tuning values for a guarding session
type RewardPolicy struct {
	Base            Money
	InitialBonus    Money
	BonusCap        Money
	PassiveReward   Money
	PassiveInterval int
	ConfirmReward   Money
}

// DefaultRewardPolicy returns the policy shipped with the mobile client
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		Base:            DefaultBase,
		InitialBonus:    DefaultInitialBonus,
		BonusCap:        DefaultBonusCap,
		PassiveReward:   DefaultPassiveReward,
		PassiveInterval: DefaultPassiveInterval,
		ConfirmReward:   DefaultConfirmReward,
	}
}

// Validate checks that the policy can drive a ledger
func (p RewardPolicy) Validate() error {
	switch {
	case p.PassiveInterval <= 0:
		return InvalidConfiguration("passive interval must be positive")
	case p.BonusCap < 0:
		return InvalidConfiguration("bonus cap must not be negative")
	case p.Base < 0 || p.InitialBonus < 0:
		return InvalidConfiguration("opening balances must not be negative")
	case p.PassiveReward < 0 || p.ConfirmReward < 0:
		return InvalidConfiguration("rewards must not be negative")
	}
	return nil
}
