package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/alexandrut83/sentinel/authority"
	"github.com/alexandrut83/sentinel/config"
	"github.com/alexandrut83/sentinel/hotlist"
	"github.com/alexandrut83/sentinel/metrics"
	"github.com/alexandrut83/sentinel/scansource"
	"github.com/alexandrut83/sentinel/sentinel"
)

const shutdownTimeout = 5 * time.Second

// deviceLocator holds the most recent location fix pushed through the API
type deviceLocator struct {
	mu       sync.RWMutex
	location *sentinel.Location
}

// CurrentLocation implements sentinel.Locator
func (l *deviceLocator) CurrentLocation() *sentinel.Location {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.location == nil {
		return nil
	}
	loc := *l.location
	return &loc
}

// Set replaces the current fix
func (l *deviceLocator) Set(loc *sentinel.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.location = loc
}

// daemon wires the engine to its sources, the hot list and the control API
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	index        *sentinel.MembershipIndex
	ledger       *sentinel.EarningsLedger
	bus          *sentinel.EventBus
	stats        *sentinel.Stats
	coordinator  *sentinel.VerificationCoordinator
	orchestrator *sentinel.ScanOrchestrator
	locator      *deviceLocator
	source       sentinel.ScanSource

	mu        sync.RWMutex
	hotList   *hotlist.HotList
	watcher   *hotlist.Watcher
	hub       *streamHub
	registry  *prometheus.Registry
	router    *gin.Engine
	startedAt time.Time
}

// newDaemon builds every component from cfg. A nil auth uses the HTTP
// client pointed at verification.authority_url.
func newDaemon(cfg *config.Config, auth sentinel.Authority, logger *zap.Logger) (*daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		bus:       sentinel.NewEventBus(),
		stats:     sentinel.NewStats(),
		locator:   &deviceLocator{},
		startedAt: time.Now(),
	}

	index, err := cfg.NewIndex()
	if err != nil {
		return nil, err
	}
	d.index = index

	policy := cfg.RewardPolicy()
	if d.ledger, err = sentinel.NewEarningsLedger(policy.BonusCap); err != nil {
		return nil, err
	}

	if auth == nil {
		auth = authority.NewClient(authority.ClientConfig{
			BaseURL:     cfg.Verification.AuthorityURL,
			Timeout:     cfg.Verification.Timeout,
			RateLimit:   cfg.Verification.RateLimit,
			Burst:       cfg.Verification.Burst,
			DeviceToken: cfg.Verification.DeviceToken,
		})
	}

	d.coordinator, err = sentinel.NewVerificationCoordinator(sentinel.CoordinatorDeps{
		Authority: auth,
		Ledger:    d.ledger,
		Bus:       d.bus,
		Locator:   d.locator,
		Stats:     d.stats,
		Logger:    logger,
	}, policy.ConfirmReward,
		sentinel.WithVerifyTimeout(cfg.Verification.Timeout),
		sentinel.WithInFlightDedup(cfg.Verification.DedupInFlight),
	)
	if err != nil {
		return nil, err
	}

	switch cfg.Scan.Source {
	case config.SourceTCP:
		d.source = scansource.NewTCPSource(cfg.Scan.Listen, logger)
	case config.SourceTail:
		d.source = scansource.NewTailSource(cfg.Scan.TailPath, false, logger)
	default:
		d.source = scansource.None{}
	}

	d.orchestrator, err = sentinel.NewScanOrchestrator(sentinel.OrchestratorDeps{
		Index:    d.index,
		Verifier: d.coordinator,
		Ledger:   d.ledger,
		Bus:      d.bus,
		Source:   d.source,
		Stats:    d.stats,
		Logger:   logger,
	}, policy, sentinel.WithSelfID(cfg.Scan.SelfID))
	if err != nil {
		d.coordinator.Close()
		return nil, err
	}

	if err := d.loadHotList(); err != nil {
		d.coordinator.Close()
		return nil, err
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if _, err := metrics.Register(d.registry, metrics.Sources{
		Stats:        d.stats,
		Ledger:       d.ledger,
		Index:        d.index,
		Bus:          d.bus,
		Orchestrator: d.orchestrator,
		Verifier:     d.coordinator,
	}); err != nil {
		d.coordinator.Close()
		return nil, err
	}

	d.hub = newStreamHub(d.bus, logger)
	d.router = d.newRouter()
	return d, nil
}

// loadHotList performs the initial load and prepares the file watcher.
// A missing file starts the daemon with an empty index.
func (d *daemon) loadHotList() error {
	path := d.cfg.HotList.Path
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("hot list file not found, starting with an empty index", zap.String("path", path))
		if !d.cfg.HotList.Watch {
			return nil
		}
	} else {
		list, err := hotlist.Load(path)
		if err != nil {
			return err
		}
		d.applyHotList(list)
	}

	if !d.cfg.HotList.Watch {
		return nil
	}

	watcher, err := hotlist.NewWatcher(path, d.index, d.cfg.HotList.Debounce, d.logger)
	if err != nil {
		return err
	}
	watcher.OnReload(func(list *hotlist.HotList) {
		d.mu.Lock()
		d.hotList = list
		d.mu.Unlock()
	})
	d.watcher = watcher
	return nil
}

// applyHotList loads list into the index and remembers it
func (d *daemon) applyHotList(list *hotlist.HotList) {
	d.index.BulkLoad(list.IDs)

	d.mu.Lock()
	d.hotList = list
	d.mu.Unlock()

	d.logger.Info("hot list applied",
		zap.Int("entries", len(list.IDs)),
		zap.String("version", list.Version),
		zap.Float64("estimated_fp_rate", d.index.EstimatedFalsePositiveRate()))
}

// currentHotList returns the most recently applied hot list
func (d *daemon) currentHotList() *hotlist.HotList {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hotList
}

// Run serves the control API until ctx is cancelled, then shuts everything down
func (d *daemon) Run(ctx context.Context, guard bool) error {
	if d.watcher != nil {
		go d.watcher.Run(ctx)
	}
	go d.hub.Run()

	srv := &http.Server{
		Addr:              d.cfg.HTTP.Listen,
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("control API listening", zap.String("addr", d.cfg.HTTP.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if guard {
		if err := d.orchestrator.StartGuarding(); err != nil {
			d.logger.Error("failed to start guarding", zap.Error(err))
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case runErr = <-errCh:
		d.logger.Error("control API failed", zap.Error(runErr))
	}

	if err := d.orchestrator.StopGuarding(); err != nil {
		d.logger.Warn("scan source did not stop cleanly", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("control API shutdown", zap.Error(err))
	}

	d.hub.Close()
	d.coordinator.Close()
	d.logger.Sync()
	return runErr
}
