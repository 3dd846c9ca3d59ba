package sentinel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAuthority struct {
	mu        sync.Mutex
	confirmed map[string]bool
	err       error
	gate      chan struct{}
	requests  []VerificationRequest
}

func newFakeAuthority(confirmed ...string) *fakeAuthority {
	a := &fakeAuthority{confirmed: make(map[string]bool)}
	for _, id := range confirmed {
		a.confirmed[id] = true
	}
	return a
}

func (a *fakeAuthority) Verify(ctx context.Context, req VerificationRequest) (VerificationResponse, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	gate, err := a.gate, a.err
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return VerificationResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return VerificationResponse{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return VerificationResponse{ID: req.ID, Confirmed: a.confirmed[req.ID]}, nil
}

func (a *fakeAuthority) hold() {
	a.mu.Lock()
	a.gate = make(chan struct{})
	a.mu.Unlock()
}

func (a *fakeAuthority) release() {
	a.mu.Lock()
	close(a.gate)
	a.gate = nil
	a.mu.Unlock()
}

func (a *fakeAuthority) fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *fakeAuthority) calls() []VerificationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]VerificationRequest(nil), a.requests...)
}

type fakeSource struct {
	mu       sync.Mutex
	sink     ScanSink
	startErr error
	running  bool
	starts   int
	stops    int
	entered  chan struct{} // signalled when Start is called, if set
	gate     chan struct{} // Start blocks until closed, if set
}

func (s *fakeSource) Start(sink ScanSink) error {
	s.mu.Lock()
	entered, gate := s.entered, s.gate
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	if s.running {
		return errors.New("source already started")
	}
	s.running = true
	s.sink = sink
	s.starts++
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.stops++
	return nil
}

func (s *fakeSource) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeSource) emit(ids ...string) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	for _, id := range ids {
		sink.Observe(ObservedEvent{ID: id})
	}
}

type recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *recorder) observe(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) alerts() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var alerts []AlertEvent
	for _, n := range r.notifications {
		if n.Alert != nil {
			alerts = append(alerts, *n.Alert)
		}
	}
	return alerts
}

func (r *recorder) earnings() []Earnings {
	r.mu.Lock()
	defer r.mu.Unlock()
	var earnings []Earnings
	for _, n := range r.notifications {
		if n.EarningsChanged != nil {
			earnings = append(earnings, *n.EarningsChanged)
		}
	}
	return earnings
}

func (r *recorder) statuses() []StatusNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var statuses []StatusNotice
	for _, n := range r.notifications {
		if n.StatusChanged != nil {
			statuses = append(statuses, *n.StatusChanged)
		}
	}
	return statuses
}

type harness struct {
	index       *MembershipIndex
	ledger      *EarningsLedger
	bus         *EventBus
	stats       *Stats
	authority   *fakeAuthority
	source      *fakeSource
	coordinator *VerificationCoordinator
	orch        *ScanOrchestrator
	events      *recorder
}

func newHarness(t *testing.T, hotList []string, confirmed ...string) *harness {
	t.Helper()

	policy := DefaultRewardPolicy()
	h := &harness{
		bus:       NewEventBus(),
		stats:     NewStats(),
		authority: newFakeAuthority(confirmed...),
		source:    &fakeSource{},
		events:    &recorder{},
	}

	var err error
	h.index, err = NewMembershipIndex(DefaultBitCount, DefaultHashRounds)
	require.NoError(t, err)
	h.index.BulkLoad(hotList)

	h.ledger, err = NewEarningsLedger(policy.BonusCap)
	require.NoError(t, err)

	h.coordinator, err = NewVerificationCoordinator(CoordinatorDeps{
		Authority: h.authority,
		Ledger:    h.ledger,
		Bus:       h.bus,
		Stats:     h.stats,
	}, policy.ConfirmReward)
	require.NoError(t, err)
	t.Cleanup(h.coordinator.Close)

	h.orch, err = NewScanOrchestrator(OrchestratorDeps{
		Index:    h.index,
		Verifier: h.coordinator,
		Ledger:   h.ledger,
		Bus:      h.bus,
		Source:   h.source,
		Stats:    h.stats,
	}, policy, WithSelfID("SELF"))
	require.NoError(t, err)

	h.bus.Subscribe(h.events.observe)
	return h
}

var errAuthorityDown = errors.New("connection refused")
