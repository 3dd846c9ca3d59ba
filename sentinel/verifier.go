package sentinel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerificationRequest is sent to the authority once per verify call
type VerificationRequest struct {
	ID         string    `json:"id"`
	ObservedAt time.Time `json:"observedAt"`
	Location   *Location `json:"location,omitempty"`
}

// VerificationResponse is the authority's answer
type VerificationResponse struct {
	ID        string `json:"id"`
	Confirmed bool   `json:"confirmed"`
}

// Authority confirms or refutes filter hits. Any returned error is treated
// as the authority being unavailable.
type Authority interface {
	Verify(ctx context.Context, req VerificationRequest) (VerificationResponse, error)
}

// CoordinatorDeps are the collaborators of a VerificationCoordinator
type CoordinatorDeps struct {
	Authority Authority
	Ledger    *EarningsLedger
	Bus       *EventBus
	Locator   Locator
	Stats     *Stats
	Logger    *zap.Logger
}

// VerificationCoordinator escalates filter hits to the authority and applies
// confirmed outcomes to the ledger and bus.
type VerificationCoordinator struct {
	mu       sync.Mutex
	deps     CoordinatorDeps
	reward   Money
	timeout  time.Duration
	dedup    bool
	inflight map[string]struct{}
	pending  atomic.Int64
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	now      func() time.Time
}

// CoordinatorOption customises a VerificationCoordinator
type CoordinatorOption func(*VerificationCoordinator)

// WithVerifyTimeout bounds each authority call
func WithVerifyTimeout(d time.Duration) CoordinatorOption {
	return func(c *VerificationCoordinator) {
		c.timeout = d
	}
}

// WithInFlightDedup suppresses a verification while one for the same id is still pending
func WithInFlightDedup(enabled bool) CoordinatorOption {
	return func(c *VerificationCoordinator) {
		c.dedup = enabled
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *VerificationCoordinator) {
		c.now = now
	}
}

// NewVerificationCoordinator creates a coordinator crediting confirmReward per confirmation
func NewVerificationCoordinator(deps CoordinatorDeps, confirmReward Money, opts ...CoordinatorOption) (*VerificationCoordinator, error) {
	if deps.Authority == nil {
		return nil, InvalidConfiguration("verification authority is required")
	}
	if deps.Ledger == nil || deps.Bus == nil {
		return nil, InvalidConfiguration("ledger and event bus are required")
	}
	if confirmReward < 0 {
		return nil, InvalidConfiguration("confirm reward must not be negative, got %s", confirmReward)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &VerificationCoordinator{
		deps:     deps,
		reward:   confirmReward,
		timeout:  DefaultVerifyTimeout,
		dedup:    true,
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("verifier"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		cancel()
		return nil, InvalidConfiguration("verify timeout must be positive, got %s", c.timeout)
	}
	return c, nil
}

// Submit verifies e in the background and returns immediately. It returns
// false when an identical verification is already in flight.
func (c *VerificationCoordinator) Submit(e ObservedEvent) bool {
	observedAt := c.now()

	c.mu.Lock()
	if c.dedup {
		if _, pending := c.inflight[e.ID]; pending {
			c.mu.Unlock()
			c.deps.Stats.Inc(CounterSuppressed)
			c.logger.Debug("verification already in flight", zap.String("id", e.ID))
			return false
		}
		c.inflight[e.ID] = struct{}{}
	}
	c.wg.Add(1)
	c.pending.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer c.pending.Add(-1)
		defer c.release(e.ID)

		if _, err := c.verify(c.ctx, e.ID, observedAt); err != nil {
			c.logger.Debug("verification failed", zap.String("id", e.ID), zap.Error(err))
		}
	}()
	return true
}

func (c *VerificationCoordinator) release(id string) {
	if !c.dedup {
		return
	}
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

// Verify issues exactly one request for id and applies the outcome. An
// unavailable authority yields a refuted outcome and a VerificationUnavailable error.
func (c *VerificationCoordinator) Verify(ctx context.Context, id string) (VerificationOutcome, error) {
	c.pending.Add(1)
	defer c.pending.Add(-1)
	return c.verify(ctx, id, c.now())
}

func (c *VerificationCoordinator) verify(ctx context.Context, id string, observedAt time.Time) (VerificationOutcome, error) {
	var location *Location
	if c.deps.Locator != nil {
		location = c.deps.Locator.CurrentLocation()
	}

	req := VerificationRequest{ID: id, ObservedAt: observedAt, Location: location}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.deps.Stats.Inc(CounterVerifications)
	resp, err := c.deps.Authority.Verify(callCtx, req)
	if err == nil && resp.ID != id {
		err = fmt.Errorf("authority answered for %q", resp.ID)
	}

	outcome := VerificationOutcome{
		ID:        id,
		Verdict:   VerdictRefuted,
		Location:  location,
		Timestamp: c.now(),
	}

	if err != nil {
		c.deps.Stats.Inc(CounterUnavailable)
		c.logger.Warn("authority unavailable, treating hit as refuted",
			zap.String("id", id), zap.Error(err))
		return outcome, VerificationUnavailable(id, err)
	}

	if !resp.Confirmed {
		c.deps.Stats.Inc(CounterRefuted)
		c.logger.Info("false positive", zap.String("id", id))
		return outcome, nil
	}

	outcome.Verdict = VerdictConfirmed
	c.apply(outcome)
	return outcome, nil
}

// apply publishes the alert and credits the confirmation reward.
func (c *VerificationCoordinator) apply(outcome VerificationOutcome) {
	c.deps.Stats.Inc(CounterConfirmed)

	alert := AlertEvent{
		Kind:      AlertKindHotlistConfirmed,
		ID:        outcome.ID,
		Ref:       uuid.NewString(),
		Location:  outcome.Location,
		Timestamp: outcome.Timestamp,
	}
	c.deps.Stats.RecordAlert(alert)
	c.logger.Info("hot-list hit confirmed", zap.String("id", outcome.ID), zap.String("ref", alert.Ref))
	c.deps.Bus.Publish(AlertNotification(alert))

	earnings, err := c.deps.Ledger.CreditWithReason(c.reward, AccountBonus, "confirmed "+outcome.ID)
	if err != nil {
		c.logger.Error("confirmation credit rejected", zap.Error(err))
		return
	}
	c.deps.Bus.Publish(EarningsNotification(earnings))
}

// Pending returns the number of verifications currently running
func (c *VerificationCoordinator) Pending() int {
	return int(c.pending.Load())
}

// Wait blocks until every submitted verification has finished
func (c *VerificationCoordinator) Wait() {
	c.wg.Wait()
}

// Close cancels pending authority calls and waits for them to return.
// Only process shutdown should call it; stopping a session does not.
func (c *VerificationCoordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
