package sentinel

import (
	"sync"

	"go.uber.org/zap"
)

// ScanSink receives deliveries from a ScanSource
type ScanSink interface {
	Observe(e ObservedEvent)
	SourceError(err error)
}

// ScanSource produces observed-identifier events. Start registers the sink
// and begins delivery; Stop ends it.
type ScanSource interface {
	Start(sink ScanSink) error
	Stop() error
}

// Verifier is the part of the VerificationCoordinator the orchestrator depends on
type Verifier interface {
	Submit(e ObservedEvent) bool
}

// OrchestratorDeps are the collaborators of a ScanOrchestrator
type OrchestratorDeps struct {
	Index    *MembershipIndex
	Verifier Verifier
	Ledger   *EarningsLedger
	Bus      *EventBus
	Source   ScanSource
	Stats    *Stats
	Logger   *zap.Logger
}

// ScanOrchestrator runs guarding sessions: it routes each observation through
// the membership index, escalates hits and throttles passive credits.
type ScanOrchestrator struct {
	lifecycle   sync.Mutex // serializes StartGuarding and StopGuarding
	mu          sync.Mutex
	deps        OrchestratorDeps
	policy      RewardPolicy
	state       State
	passiveHits int
	selfID      string
	logger      *zap.Logger
}

// OrchestratorOption customises a ScanOrchestrator
type OrchestratorOption func(*ScanOrchestrator)

// WithSelfID ignores observations of the device's own identifier
func WithSelfID(id string) OrchestratorOption {
	return func(o *ScanOrchestrator) {
		o.selfID = id
	}
}

// NewScanOrchestrator creates an idle orchestrator
func NewScanOrchestrator(deps OrchestratorDeps, policy RewardPolicy, opts ...OrchestratorOption) (*ScanOrchestrator, error) {
	if deps.Index == nil || deps.Verifier == nil || deps.Ledger == nil || deps.Bus == nil || deps.Source == nil {
		return nil, InvalidConfiguration("orchestrator requires index, verifier, ledger, bus and source")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &ScanOrchestrator{
		deps:   deps,
		policy: policy,
		state:  StateIdle,
		logger: logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartGuarding moves Idle to Active and starts the scan source. It is a no-op when already Active.
// A source that fails to start leaves the orchestrator Idle and the ledger as it was.
func (o *ScanOrchestrator) StartGuarding() error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if o.state == StateActive {
		o.mu.Unlock()
		return nil
	}
	previous := o.deps.Ledger.save()
	o.state = StateActive
	o.passiveHits = 0
	earnings := o.deps.Ledger.Open(o.policy.Base, o.policy.InitialBonus)
	o.mu.Unlock()

	// The source may deliver synchronously, so o.mu is released while it starts.
	// The lifecycle lock keeps StopGuarding out until Start has returned.
	if err := o.deps.Source.Start(o); err != nil {
		o.mu.Lock()
		o.state = StateIdle
		o.deps.Ledger.restore(previous)
		o.mu.Unlock()
		o.logger.Error("scan source failed to start", zap.Error(err))
		return ScanSourceFailure(err)
	}

	o.logger.Info("guard duty started")
	o.deps.Bus.Publish(StatusNotification(StateActive, nil))
	o.deps.Bus.Publish(EarningsNotification(earnings))
	return nil
}

// StopGuarding moves Active to Idle. Observations delivered afterwards are
// dropped; verifications already in flight still complete and credit.
func (o *ScanOrchestrator) StopGuarding() error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = StateIdle
	o.mu.Unlock()

	err := o.deps.Source.Stop()
	if err != nil {
		o.logger.Warn("scan source failed to stop cleanly", zap.Error(err))
		err = ScanSourceFailure(err)
	}

	o.logger.Info("guard duty ended")
	o.deps.Bus.Publish(StatusNotification(StateIdle, err))
	return err
}

// Observe handles one observation from the scan source
func (o *ScanOrchestrator) Observe(e ObservedEvent) {
	o.mu.Lock()
	if o.state != StateActive {
		o.mu.Unlock()
		return
	}
	if e.ID == "" || (o.selfID != "" && e.ID == o.selfID) {
		o.mu.Unlock()
		o.deps.Stats.Inc(CounterIgnoredObservation)
		return
	}

	o.deps.Stats.Inc(CounterObservations)

	if o.deps.Index.MayContain(e.ID) {
		o.mu.Unlock()
		o.deps.Stats.Inc(CounterFilterHits)
		o.logger.Info("potential hit", zap.String("id", e.ID))
		o.deps.Verifier.Submit(e)
		return
	}

	o.passiveHits++
	if o.passiveHits%o.policy.PassiveInterval != 0 {
		o.mu.Unlock()
		return
	}

	// Credited under the lock so passive credits follow observation order.
	earnings, err := o.deps.Ledger.CreditWithReason(o.policy.PassiveReward, AccountBonus, "scan coverage")
	passiveHits := o.passiveHits
	o.mu.Unlock()

	if err != nil {
		o.logger.Error("passive credit rejected", zap.Error(err))
		return
	}
	o.deps.Stats.Inc(CounterPassiveCredits)
	o.logger.Debug("passive credit", zap.Int("passive_hits", passiveHits), zap.Stringer("bonus", earnings.Bonus))
	o.deps.Bus.Publish(EarningsNotification(earnings))
}

// SourceError surfaces a scan source failure as a status notification; the session stays Active.
func (o *ScanOrchestrator) SourceError(err error) {
	if err == nil {
		return
	}

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	o.deps.Stats.Inc(CounterSourceErrors)
	o.logger.Warn("scan source error", zap.Error(err))
	o.deps.Bus.Publish(StatusNotification(state, ScanSourceFailure(err)))
}

// State returns the current session state
func (o *ScanOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// PassiveHits returns the filter misses counted in the current session
func (o *ScanOrchestrator) PassiveHits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.passiveHits
}

// Policy returns the reward policy in use
func (o *ScanOrchestrator) Policy() RewardPolicy {
	return o.policy
}
