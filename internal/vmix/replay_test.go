package vmix

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecap/tablecap-go/internal/conf"
)

// deviceRecorder mocks the device API and records every function call.
type deviceRecorder struct {
	mu        sync.Mutex
	functions []string
	stateXML  string
	failFuncs map[string]bool
}

func newDeviceRecorder(t *testing.T, c *Client) *deviceRecorder {
	t.Helper()
	rec := &deviceRecorder{
		stateXML:  `<vmix><recording duration="10">True</recording></vmix>`,
		failFuncs: make(map[string]bool),
	}
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodGet, `=~^http://127\.0\.0\.1:8088/api/`,
		func(req *http.Request) (*http.Response, error) {
			fn := req.URL.Query().Get("Function")
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if fn == "" {
				return httpmock.NewStringResponse(http.StatusOK, rec.stateXML), nil
			}
			rec.functions = append(rec.functions, fn)
			if rec.failFuncs[fn] {
				return httpmock.NewStringResponse(http.StatusInternalServerError, "rejected"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "Function completed"), nil
		})
	return rec
}

func (r *deviceRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.functions...)
}

func replayController(t *testing.T, settings conf.DeviceSettings) (*ReplayController, *deviceRecorder) {
	t.Helper()
	client := NewClient(settings, nil)
	rec := newDeviceRecorder(t, client)
	return NewReplayController(settings, client), rec
}

func TestHandRecordingRoundTrip(t *testing.T) {
	settings := testDeviceSettings()
	settings.ExportEvents = true
	rc, rec := replayController(t, settings)

	ctx := context.Background()
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 7))
	require.True(t, rc.IsHandActive())

	tableID, handNumber, ok := rc.ActiveHand()
	require.True(t, ok)
	assert.Equal(t, "table_1", tableID)
	assert.Equal(t, 7, handNumber)

	result := rc.EndHandRecording(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, "table_1", result.TableID)
	assert.Equal(t, 7, result.HandNumber)
	assert.GreaterOrEqual(t, result.Duration.Seconds(), 0.0)
	assert.False(t, rc.IsHandActive())

	assert.Equal(t, []string{FuncReplayMarkIn, FuncReplayMarkOut, FuncReplayExportLastEvent}, rec.calls())
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	rc, _ := replayController(t, testDeviceSettings())

	ctx := context.Background()
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 1))

	err := rc.StartHandRecording(ctx, "table_1", 2)
	require.Error(t, err)

	// The first hand is still the active one.
	_, handNumber, ok := rc.ActiveHand()
	require.True(t, ok)
	assert.Equal(t, 1, handNumber)
}

func TestEndWithoutStart(t *testing.T) {
	rc, rec := replayController(t, testDeviceSettings())

	result := rc.EndHandRecording(context.Background())
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, rec.calls(), "no device command is issued without an active hand")
}

func TestMarkOutFailureStillResetsState(t *testing.T) {
	rc, rec := replayController(t, testDeviceSettings())
	rec.failFuncs[FuncReplayMarkOut] = true

	ctx := context.Background()
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 3))

	result := rc.EndHandRecording(ctx)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.False(t, rc.IsHandActive(), "state resets unconditionally on terminal transitions")

	// A new hand can start immediately.
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 4))
}

func TestExportFailureDoesNotVoidCapture(t *testing.T) {
	settings := testDeviceSettings()
	settings.ExportEvents = true
	rc, rec := replayController(t, settings)
	rec.failFuncs[FuncReplayExportLastEvent] = true

	ctx := context.Background()
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 5))

	result := rc.EndHandRecording(ctx)
	assert.True(t, result.Success, "the clip is captured even if the export is rejected")
}

func TestCancelHandRecording(t *testing.T) {
	rc, rec := replayController(t, testDeviceSettings())

	ctx := context.Background()
	require.NoError(t, rc.CancelHandRecording(ctx), "cancel with no active hand is a no-op")
	assert.Empty(t, rec.calls())

	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 6))
	require.NoError(t, rc.CancelHandRecording(ctx))
	assert.False(t, rc.IsHandActive())
	assert.Equal(t, []string{FuncReplayMarkIn, FuncReplayMarkCancel}, rec.calls())
}

func TestAutoRecordStartsMainRecording(t *testing.T) {
	settings := testDeviceSettings()
	settings.AutoRecord = true
	rc, rec := replayController(t, settings)
	rec.stateXML = `<vmix><recording>False</recording></vmix>`

	require.NoError(t, rc.StartHandRecording(context.Background(), "table_1", 8))
	assert.Equal(t, []string{FuncStartRecording, FuncReplayMarkIn}, rec.calls())
}

func TestTimecodeTrackingProducesEDL(t *testing.T) {
	settings := testDeviceSettings()
	settings.TrackTimecode = true
	rc, rec := replayController(t, settings)
	rec.stateXML = `<vmix><recording duration="60">True</recording></vmix>`

	ctx := context.Background()
	require.NoError(t, rc.StartHandRecording(ctx, "table_1", 9))

	rec.mu.Lock()
	rec.stateXML = `<vmix><recording duration="95">True</recording></vmix>`
	rec.mu.Unlock()

	result := rc.EndHandRecording(ctx)
	require.True(t, result.Success)
	require.NotNil(t, result.MarkInTimecode)
	require.NotNil(t, result.MarkOutTimecode)
	assert.Equal(t, "00:01:00:00", result.MarkInTimecode.String())
	assert.Equal(t, "00:01:35:00", result.MarkOutTimecode.String())
	assert.Contains(t, result.EDLEntry, "001  AX")
	assert.Contains(t, result.EDLEntry, "00:01:00:00 00:01:35:00")
}

func TestQuickReplayFunctions(t *testing.T) {
	settings := testDeviceSettings()
	settings.Channel = "B"
	rc, rec := replayController(t, settings)

	ctx := context.Background()
	require.NoError(t, rc.MarkInOutLive(ctx, 15))
	require.NoError(t, rc.PlayLastEvent(ctx))
	require.NoError(t, rc.StopEvents(ctx))

	assert.Equal(t, []string{FuncReplayMarkInOutLive, FuncReplayPlayLastEvent, FuncReplayStopEvents}, rec.calls())
}
