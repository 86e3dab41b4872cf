package recording

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/vmix"
)

// fakeDevice implements DeviceController with scriptable outcomes.
type fakeDevice struct {
	mu         sync.Mutex
	calls      []string
	startErr   error
	endSuccess bool
	endError   string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{endSuccess: true}
}

func (d *fakeDevice) StartHandRecording(ctx context.Context, tableID string, handNumber int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "start")
	return d.startErr
}

func (d *fakeDevice) EndHandRecording(ctx context.Context) vmix.HandRecordingResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "end")
	return vmix.HandRecordingResult{Success: d.endSuccess, Error: d.endError, Duration: time.Second}
}

func (d *fakeDevice) CancelHandRecording(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "cancel")
	return nil
}

func (d *fakeDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func testOrchestrator(t *testing.T, device DeviceController, ready ReadyFunc) *Orchestrator {
	t.Helper()
	storage, err := NewStorage(t.TempDir(), "mp4")
	require.NoError(t, err)
	settings := conf.RecordingSettings{OutputPath: storage.outputPath, Format: "mp4", HistorySize: 3}
	return NewOrchestrator(settings, device, storage, ready, nil, nil, nil)
}

func TestShortCompletedSessionIsSuspect(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	storage, err := NewStorage(t.TempDir(), "mp4")
	require.NoError(t, err)
	settings := conf.RecordingSettings{
		OutputPath:         storage.outputPath,
		Format:             "mp4",
		HistorySize:        3,
		MinDurationSeconds: 10,
	}
	o := NewOrchestrator(settings, device, storage, nil, nil, nil, nil)
	ctx := context.Background()

	_, err = o.StartRecording(ctx, "t1", 8)
	require.NoError(t, err)
	done, err := o.StopRecording(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.Suspect, "a near-instant clip falls below the minimum duration")

	// Without a configured minimum, nothing is flagged.
	o2 := testOrchestrator(t, newFakeDevice(), nil)
	_, err = o2.StartRecording(ctx, "t1", 9)
	require.NoError(t, err)
	done, err = o2.StopRecording(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, done.Suspect)
}

func TestStartStopRoundTrip(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	session, err := o.StartRecording(ctx, "t1", 7)
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, session.Status)
	assert.Same(t, session, o.ActiveSession("t1"))

	done, err := o.StopRecording(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.EndedAt.After(done.StartedAt) || done.EndedAt.Equal(done.StartedAt))
	assert.Nil(t, o.ActiveSession("t1"))

	// The clip path is deterministic from table, hand and start time.
	expected := o.storage.FilePath("t1", 7, done.StartedAt)
	assert.Equal(t, expected, done.FilePath)
	assert.Contains(t, done.FileName, "t1_hand7_")
	assert.Contains(t, done.FileName, ".mp4")
}

func TestStopBeforeStartPolicy(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	_, err := o.StartRecording(ctx, "t1", 1)
	require.NoError(t, err)

	second, err := o.StartRecording(ctx, "t1", 2)
	require.NoError(t, err)

	// Exactly one active session, for hand 2; hand 1 reached a
	// terminal state.
	active := o.ActiveSession("t1")
	require.NotNil(t, active)
	assert.Equal(t, 2, active.HandNumber)
	assert.Same(t, second, active)

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].HandNumber)
	assert.True(t, history[0].Status.Terminal())

	assert.Equal(t, []string{"start", "end", "start"}, device.callLog())
}

func TestStartRejectedWhileNotReady(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, func() bool { return false })

	_, err := o.StartRecording(context.Background(), "t1", 1)
	require.Error(t, err)
	assert.Empty(t, device.callLog(), "no device command while the ingestion path is switching")
}

func TestDeviceStartFailureCreatesFailedSession(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	device.startErr = assert.AnError
	o := testOrchestrator(t, device, nil)

	_, err := o.StartRecording(context.Background(), "t1", 1)
	require.Error(t, err)
	assert.Nil(t, o.ActiveSession("t1"))

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusFailed, history[0].Status)
	assert.NotEmpty(t, history[0].Error)
}

func TestDeviceStopFailureMarksSessionFailed(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	device.endSuccess = false
	device.endError = "mark-out rejected"
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	_, err := o.StartRecording(ctx, "t1", 1)
	require.NoError(t, err)

	session, err := o.StopRecording(ctx, "t1")
	require.NoError(t, err, "a device failure is recorded on the session, not returned")
	assert.Equal(t, StatusFailed, session.Status)
	assert.Equal(t, "mark-out rejected", session.Error)
	assert.Empty(t, session.FilePath)
}

func TestStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	o := testOrchestrator(t, newFakeDevice(), nil)
	_, err := o.StopRecording(context.Background(), "t1")
	require.Error(t, err)
}

func TestCancelRecording(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	_, err := o.StartRecording(ctx, "t1", 1)
	require.NoError(t, err)

	require.NoError(t, o.CancelRecording(ctx, "t1"))
	assert.Nil(t, o.ActiveSession("t1"))

	history := o.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusCancelled, history[0].Status)

	require.Error(t, o.CancelRecording(ctx, "t1"), "cancel without an active session errors")
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := o.StartRecording(ctx, "t1", i)
		require.NoError(t, err)
		_, err = o.StopRecording(ctx, "t1")
		require.NoError(t, err)
	}

	history := o.History()
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].HandNumber, "oldest entries are evicted first")
	assert.Equal(t, 5, history[2].HandNumber)
}

func TestStatsAndCompletionCallback(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	storage, err := NewStorage(t.TempDir(), "mp4")
	require.NoError(t, err)

	var completed []*Session
	settings := conf.RecordingSettings{Format: "mp4", HistorySize: 10}
	o := NewOrchestrator(settings, device, storage, nil, func(s *Session) {
		completed = append(completed, s)
	}, nil, nil)
	ctx := context.Background()

	_, err = o.StartRecording(ctx, "t1", 1)
	require.NoError(t, err)
	_, err = o.StopRecording(ctx, "t1")
	require.NoError(t, err)

	_, err = o.StartRecording(ctx, "t2", 2)
	require.NoError(t, err)
	require.NoError(t, o.CancelRecording(ctx, "t2"))

	stats := o.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Len(t, completed, 2)
}

func TestStopAll(t *testing.T) {
	t.Parallel()

	device := newFakeDevice()
	o := testOrchestrator(t, device, nil)
	ctx := context.Background()

	_, err := o.StartRecording(ctx, "t1", 1)
	require.NoError(t, err)

	o.StopAll(ctx)
	assert.Nil(t, o.ActiveSession("t1"))
	assert.Equal(t, 0, o.Stats().Active)
}
