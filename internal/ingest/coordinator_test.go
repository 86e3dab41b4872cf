package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tablecap/tablecap-go/internal/health"
	"github.com/tablecap/tablecap-go/internal/model"
)

// eventLog records watcher lifecycle calls in order across sources.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeSource emits its canned results then blocks until stopped.
type fakeSource struct {
	mode    Mode
	log     *eventLog
	results []*model.HandResult

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeSource(mode Mode, log *eventLog, results ...*model.HandResult) *fakeSource {
	return &fakeSource{mode: mode, log: log, results: results, stopped: make(chan struct{})}
}

func (s *fakeSource) Listen(ctx context.Context, out chan<- *model.HandResult) error {
	s.log.add("listen:" + string(s.mode))
	for _, r := range s.results {
		select {
		case out <- r:
		case <-ctx.Done():
			return nil
		case <-s.stopped:
			return nil
		}
	}
	select {
	case <-ctx.Done():
	case <-s.stopped:
	}
	return nil
}

func (s *fakeSource) Stop() error {
	s.stopOnce.Do(func() {
		s.log.add("stop:" + string(s.mode))
		close(s.stopped)
	})
	return nil
}

func (s *fakeSource) Stats() SourceStats { return SourceStats{} }

func testFactory(log *eventLog, results map[Mode][]*model.HandResult) SourceFactory {
	return func(mode Mode) (Source, error) {
		log.add("create:" + string(mode))
		return newFakeSource(mode, log, results[mode]...), nil
	}
}

func TestCoordinatorStartsInPrimaryMode(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     t.TempDir(),
		FallbackEnabled: true,
	}, testFactory(log, nil), nil, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ModePrimary, c.Mode())
	assert.True(t, c.Ready())

	c.Stop()
}

func TestCoordinatorStartsInFallbackWhenPrimaryInaccessible(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     filepath.Join(t.TempDir(), "not_mounted"),
		FallbackEnabled: true,
	}, testFactory(log, nil), nil, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ModeFallback, c.Mode())

	c.Stop()
}

func TestCoordinatorStartFailsWithoutFallback(t *testing.T) {
	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     filepath.Join(t.TempDir(), "not_mounted"),
		FallbackEnabled: false,
	}, testFactory(log, nil), nil, nil)

	require.Error(t, c.Start(context.Background()))
}

func TestCoordinatorStopsPrimaryBeforeStartingFallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     t.TempDir(),
		FallbackEnabled: true,
	}, testFactory(log, nil), nil, nil)

	require.NoError(t, c.Start(context.Background()))

	c.OnHealthTransition(health.StateConnected, health.StateDisconnected, health.ConnectionStatus{})
	assert.Equal(t, ModeFallback, c.Mode())

	c.Stop()

	events := log.snapshot()
	stopIdx, listenIdx := -1, -1
	for i, e := range events {
		switch e {
		case "stop:primary":
			stopIdx = i
		case "listen:fallback":
			listenIdx = i
		}
	}
	require.GreaterOrEqual(t, stopIdx, 0, "primary watcher was never stopped")
	require.GreaterOrEqual(t, listenIdx, 0, "fallback watcher was never started")
	assert.Less(t, stopIdx, listenIdx, "fallback must start only after primary stopped")
}

func TestCoordinatorSwitchesBackOnRecovery(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     filepath.Join(t.TempDir(), "not_mounted"),
		FallbackEnabled: true,
	}, testFactory(log, nil), nil, nil)

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, ModeFallback, c.Mode())

	c.OnHealthTransition(health.StateReconnecting, health.StateConnected, health.ConnectionStatus{})
	assert.Equal(t, ModePrimary, c.Mode())

	// Degraded also counts as usable.
	c.OnHealthTransition(health.StateConnected, health.StateDisconnected, health.ConnectionStatus{})
	require.Equal(t, ModeFallback, c.Mode())
	c.OnHealthTransition(health.StateReconnecting, health.StateDegraded, health.ConnectionStatus{})
	assert.Equal(t, ModePrimary, c.Mode())

	c.Stop()
}

func TestCoordinatorForwardsResultsAcrossModes(t *testing.T) {
	defer goleak.VerifyNone(t)

	primaryHand := &model.HandResult{TableID: "table_1", HandNumber: 1}
	fallbackHand := &model.HandResult{TableID: "table_1", HandNumber: 2}

	log := &eventLog{}
	c := NewCoordinator(CoordinatorConfig{
		PrimaryPath:     t.TempDir(),
		FallbackEnabled: true,
	}, testFactory(log, map[Mode][]*model.HandResult{
		ModePrimary:  {primaryHand},
		ModeFallback: {fallbackHand},
	}), nil, nil)

	require.NoError(t, c.Start(context.Background()))

	got := <-c.Results()
	assert.Equal(t, 1, got.HandNumber)

	c.OnHealthTransition(health.StateConnected, health.StateDisconnected, health.ConnectionStatus{})

	got = <-c.Results()
	assert.Equal(t, 2, got.HandNumber, "downstream consumers see results from both watchers")

	c.Stop()
}
