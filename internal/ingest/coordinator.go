package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/health"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/model"
	"github.com/tablecap/tablecap-go/internal/observability"
)

// Mode is the failover coordinator state.
type Mode string

const (
	// ModePrimary means the network share watcher is active.
	ModePrimary Mode = "primary"

	// ModeFallback means the local fallback watcher is active.
	ModeFallback Mode = "fallback"

	// ModeSwitching is transient, held only while tearing down one
	// watcher and starting the other.
	ModeSwitching Mode = "switching"
)

// SourceFactory builds the ingestion source for a mode. The coordinator
// constructs a fresh source on every switch so no watcher state leaks
// across modes.
type SourceFactory func(mode Mode) (Source, error)

// CoordinatorConfig holds the failover coordinator parameters.
type CoordinatorConfig struct {
	// PrimaryPath is probed directly at startup to pick the initial
	// mode.
	PrimaryPath string

	// FallbackEnabled permits switching to the local fallback watcher.
	FallbackEnabled bool

	// ResultBuffer sizes the merged result channel.
	ResultBuffer int
}

// Coordinator owns the primary/fallback/switching state machine for the
// ingestion path. Exactly one watcher runs at a time; all results are
// forwarded on a single channel so downstream fusion is mode-agnostic.
type Coordinator struct {
	config  CoordinatorConfig
	factory SourceFactory
	bus     *events.Bus
	metrics *observability.FailoverMetrics
	logger  *slog.Logger

	results chan *model.HandResult

	mu         sync.Mutex
	closed     bool
	mode       Mode
	active     Source
	activeStop context.CancelFunc
	activeDone chan struct{}

	ctx context.Context
	wg  sync.WaitGroup
}

// NewCoordinator creates a failover coordinator. bus and metrics may be
// nil.
func NewCoordinator(config CoordinatorConfig, factory SourceFactory, bus *events.Bus, metrics *observability.FailoverMetrics) *Coordinator {
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = 64
	}
	return &Coordinator{
		config:  config,
		factory: factory,
		bus:     bus,
		metrics: metrics,
		logger:  logging.ForService("failover"),
		results: make(chan *model.HandResult, config.ResultBuffer),
	}
}

// Results returns the merged result channel fed by whichever watcher is
// active.
func (c *Coordinator) Results() <-chan *model.HandResult {
	return c.results
}

// Mode returns the current coordinator state.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Ready reports whether a watcher is active. False while switching.
func (c *Coordinator) Ready() bool {
	mode := c.Mode()
	return mode == ModePrimary || mode == ModeFallback
}

// Start probes the primary path and launches the initial watcher. If
// the primary is inaccessible and fallback is disabled, startup fails.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx = ctx

	initial := ModePrimary
	if !health.IsAccessible(c.config.PrimaryPath) {
		if !c.config.FallbackEnabled {
			return errors.Newf("primary path %s is inaccessible and fallback is disabled", c.config.PrimaryPath).
				Component("failover").
				Category(errors.CategoryConfiguration).
				Build()
		}
		c.logger.Warn("primary path inaccessible at startup, starting in fallback mode",
			"path", c.config.PrimaryPath,
		)
		initial = ModeFallback
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(initial)
}

// OnHealthTransition reacts to share state changes. Wire it as the
// health monitor's transition callback.
func (c *Coordinator) OnHealthTransition(from, to health.State, status health.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case (to == health.StateConnected || to == health.StateDegraded) && c.mode == ModeFallback:
		c.logger.Info("share recovered, switching to primary watcher")
		c.switchLocked(ModePrimary)
	case to == health.StateDisconnected && c.mode == ModePrimary:
		if !c.config.FallbackEnabled {
			c.logger.Error("share lost and fallback is disabled, ingestion is down")
			return
		}
		c.logger.Warn("share lost, switching to fallback watcher")
		c.switchLocked(ModeFallback)
	}
}

// Stop tears down the active watcher and closes the result channel.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closed = true
	c.stopActiveLocked()
	c.mu.Unlock()

	c.wg.Wait()
	close(c.results)
}

// switchLocked performs the teardown-then-setup transition. The
// switching mode is held for its whole duration, so no two watchers
// ever run concurrently.
func (c *Coordinator) switchLocked(target Mode) {
	if c.closed {
		return
	}
	c.mode = ModeSwitching
	c.publishMode(ModeSwitching)

	c.stopActiveLocked()

	if err := c.startLocked(target); err != nil {
		c.logger.Error("failed to start watcher after switch",
			"target", string(target),
			"error", err,
		)
	}
}

// stopActiveLocked stops the running watcher and waits for its listen
// loop to return.
func (c *Coordinator) stopActiveLocked() {
	if c.active == nil {
		return
	}
	if err := c.active.Stop(); err != nil {
		c.logger.Warn("error stopping watcher", "error", err)
	}
	if c.activeStop != nil {
		c.activeStop()
	}
	<-c.activeDone
	c.active = nil
	c.activeStop = nil
	c.activeDone = nil
}

// startLocked builds and launches the watcher for a mode.
func (c *Coordinator) startLocked(mode Mode) error {
	source, err := c.factory(mode)
	if err != nil {
		return errors.New(err).
			Component("failover").
			Category(errors.CategoryIngestion).
			Context("mode", string(mode)).
			Build()
	}

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.active = source
	c.activeStop = cancel
	c.activeDone = done
	c.mode = mode

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if err := source.Listen(listenCtx, c.results); err != nil {
			c.onWatcherFailure(mode, err)
		}
	}()

	c.publishMode(mode)
	if c.metrics != nil {
		c.metrics.ModeSwitches.WithLabelValues(string(mode)).Inc()
	}
	c.logger.Info("ingestion watcher started", "mode", string(mode))
	return nil
}

// onWatcherFailure handles a fatal error from the active listen loop.
// A primary failure forces a fallback switch when fallback is enabled;
// otherwise the error is surfaced and ingestion stays down until the
// health monitor drives a recovery.
func (c *Coordinator) onWatcherFailure(mode Mode, err error) {
	c.logger.Error("ingestion watcher failed", "mode", string(mode), "error", err)

	if mode != ModePrimary || !c.config.FallbackEnabled {
		return
	}

	// Run the switch away from the listen goroutine, which switchLocked
	// is about to wait on.
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.mode != ModePrimary {
			return
		}
		c.logger.Warn("primary watcher failed, forcing fallback switch")
		c.switchLocked(ModeFallback)
	}()
}

func (c *Coordinator) publishMode(mode Mode) {
	if c.bus != nil {
		c.bus.TryPublish(events.ModeChangeEvent{Mode: string(mode), At: time.Now()})
	}
}
