// Package sentinel is the guarding engine: it filters observed identifiers
// against a hot list, escalates hits to an authority and accrues earnings.
package sentinel

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Money is an amount in minor currency units (cents)
type Money int64

// FromFloat converts a major-unit amount such as 0.50 into Money
func FromFloat(f float64) Money {
	return Money(math.Round(f * 100))
}

// Float returns the amount in major units
func (m Money) Float() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, CurrencySymbol, v/100, v%100)
}

// MarshalJSON encodes the amount as a decimal number of major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Float(), 'f', 2, 64)), nil
}

// UnmarshalJSON accepts a decimal number of major units.
func (m *Money) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid money amount %s: %w", data, err)
	}
	*m = FromFloat(f)
	return nil
}

// State is the lifecycle state of a guarding session
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Location is an optional position hint attached to verifications and alerts
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// Locator supplies the device's current position, if known
type Locator interface {
	CurrentLocation() *Location
}

// ObservedEvent is one identifier sighting delivered by the scan source
type ObservedEvent struct {
	ID             string   `json:"id"`
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	DisplayName    string   `json:"displayName,omitempty"`
}

// Verdict is the authority's answer for a filter hit
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictRefuted   Verdict = "refuted"
)

// VerificationOutcome is produced once per verification call
type VerificationOutcome struct {
	ID        string    `json:"id"`
	Verdict   Verdict   `json:"verdict"`
	Location  *Location `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Confirmed reports whether the authority confirmed the hit
func (o VerificationOutcome) Confirmed() bool {
	return o.Verdict == VerdictConfirmed
}

// AlertKindHotlistConfirmed is the only alert kind raised by the engine
const AlertKindHotlistConfirmed = "hotlist-confirmed"

// AlertEvent is published once per confirmed outcome
type AlertEvent struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	Location  *Location `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusNotice reports a session state change or a scan source failure
type StatusNotice struct {
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Notification is the payload fanned out by the EventBus. Exactly one field is set.
type Notification struct {
	StatusChanged   *StatusNotice `json:"statusChanged,omitempty"`
	EarningsChanged *Earnings     `json:"earningsChanged,omitempty"`
	Alert           *AlertEvent   `json:"alert,omitempty"`
}

// StatusNotification builds a statusChanged notification
func StatusNotification(state State, err error) Notification {
	notice := &StatusNotice{State: state}
	if err != nil {
		notice.Error = err.Error()
	}
	return Notification{StatusChanged: notice}
}

// EarningsNotification builds an earningsChanged notification
func EarningsNotification(e Earnings) Notification {
	return Notification{EarningsChanged: &e}
}

// AlertNotification builds an alert notification
func AlertNotification(a AlertEvent) Notification {
	return Notification{Alert: &a}
}
