package vmix

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/logging"
)

// HandRecordingResult reports the outcome of one hand-scoped replay
// capture.
type HandRecordingResult struct {
	TableID    string        `json:"table_id"`
	HandNumber int           `json:"hand_number"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`

	MarkInTimecode  *Timecode `json:"mark_in_timecode,omitempty"`
	MarkOutTimecode *Timecode `json:"mark_out_timecode,omitempty"`
	EDLEntry        string    `json:"edl_entry,omitempty"`
}

// activeHand is the controller's in-flight capture state.
type activeHand struct {
	tableID    string
	handNumber int
	markInAt   time.Time
	markInTC   *Timecode
}

// ReplayController is a thin state machine over the device's mark-in
// and mark-out primitives. Internal state resets unconditionally on
// every terminal transition so a failed command can never leave the
// controller stuck in a recording state.
type ReplayController struct {
	settings conf.DeviceSettings
	client   *Client
	logger   *slog.Logger

	mu       sync.Mutex
	active   *activeHand
	edlCount int
}

// NewReplayController creates the replay controller.
func NewReplayController(settings conf.DeviceSettings, client *Client) *ReplayController {
	return &ReplayController{
		settings: settings,
		client:   client,
		logger:   logging.ForService("replay"),
	}
}

// channelParams returns the function parameters carrying the replay
// channel selection, when configured.
func (rc *ReplayController) channelParams() url.Values {
	params := url.Values{}
	if rc.settings.Channel != "" {
		params.Set("Channel", rc.settings.Channel)
	}
	return params
}

// StartHandRecording issues a replay mark-in for a hand. Starting
// while another hand is active is a contract violation; the recording
// orchestrator stops the previous session first.
func (rc *ReplayController) StartHandRecording(ctx context.Context, tableID string, handNumber int) error {
	rc.mu.Lock()
	if rc.active != nil {
		current := *rc.active
		rc.mu.Unlock()
		return errors.Newf("hand %d on table %s is already recording", current.handNumber, current.tableID).
			Component("replay").
			Category(errors.CategoryState).
			Build()
	}
	rc.mu.Unlock()

	if rc.settings.AutoRecord {
		rc.ensureMainRecording(ctx)
	}

	var markInTC *Timecode
	if rc.settings.TrackTimecode {
		markInTC = rc.readTimecode(ctx)
	}

	if err := rc.client.SendFunction(ctx, FuncReplayMarkIn, rc.channelParams()); err != nil {
		return err
	}

	rc.mu.Lock()
	rc.active = &activeHand{
		tableID:    tableID,
		handNumber: handNumber,
		markInAt:   time.Now(),
		markInTC:   markInTC,
	}
	rc.mu.Unlock()

	rc.logger.Info("hand recording started",
		"table", tableID,
		"hand", handNumber,
		"timecode", timecodeString(markInTC),
	)
	return nil
}

// EndHandRecording issues the replay mark-out, optionally exports the
// captured event, and returns the outcome. The controller state is
// reset whether or not the device accepted the commands.
func (rc *ReplayController) EndHandRecording(ctx context.Context) HandRecordingResult {
	rc.mu.Lock()
	active := rc.active
	rc.active = nil
	rc.mu.Unlock()

	if active == nil {
		return HandRecordingResult{Error: "no hand recording in progress"}
	}

	result := HandRecordingResult{
		TableID:        active.tableID,
		HandNumber:     active.handNumber,
		Duration:       time.Since(active.markInAt),
		MarkInTimecode: active.markInTC,
	}

	if err := rc.client.SendFunction(ctx, FuncReplayMarkOut, rc.channelParams()); err != nil {
		result.Error = err.Error()
		rc.logger.Error("replay mark-out failed",
			"table", active.tableID,
			"hand", active.handNumber,
			"error", err,
		)
		return result
	}

	if rc.settings.TrackTimecode {
		result.MarkOutTimecode = rc.readTimecode(ctx)
		if result.MarkInTimecode != nil && result.MarkOutTimecode != nil {
			rc.mu.Lock()
			rc.edlCount++
			entry := rc.edlCount
			rc.mu.Unlock()
			result.EDLEntry = FormatEDLEntry(entry, rc.settings.Channel, *result.MarkInTimecode, *result.MarkOutTimecode)
		}
	}

	if rc.settings.ExportEvents {
		if err := rc.client.SendFunction(ctx, FuncReplayExportLastEvent, rc.channelParams()); err != nil {
			// Export failure does not void the capture itself.
			rc.logger.Warn("replay event export failed",
				"table", active.tableID,
				"hand", active.handNumber,
				"error", err,
			)
		}
	}

	result.Success = true
	rc.logger.Info("hand recording ended",
		"table", active.tableID,
		"hand", active.handNumber,
		"duration", result.Duration,
	)
	return result
}

// CancelHandRecording issues a mark-cancel and discards the in-flight
// state. Safe to call with no active hand.
func (rc *ReplayController) CancelHandRecording(ctx context.Context) error {
	rc.mu.Lock()
	active := rc.active
	rc.active = nil
	rc.mu.Unlock()

	if active == nil {
		return nil
	}

	rc.logger.Info("hand recording cancelled",
		"table", active.tableID,
		"hand", active.handNumber,
	)
	return rc.client.SendFunction(ctx, FuncReplayMarkCancel, rc.channelParams())
}

// MarkInOutLive captures the trailing seconds of live replay buffer as
// one event, the quick path for moments spotted after the fact.
func (rc *ReplayController) MarkInOutLive(ctx context.Context, seconds int) error {
	params := rc.channelParams()
	params.Set("Value", strconv.Itoa(seconds))
	return rc.client.SendFunction(ctx, FuncReplayMarkInOutLive, params)
}

// PlayLastEvent plays back the most recently captured replay event.
func (rc *ReplayController) PlayLastEvent(ctx context.Context) error {
	return rc.client.SendFunction(ctx, FuncReplayPlayLastEvent, rc.channelParams())
}

// StopEvents stops replay event playback.
func (rc *ReplayController) StopEvents(ctx context.Context) error {
	return rc.client.SendFunction(ctx, FuncReplayStopEvents, rc.channelParams())
}

// IsHandActive reports whether a hand capture is in flight.
func (rc *ReplayController) IsHandActive() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active != nil
}

// ActiveHand returns the table and hand currently being captured.
func (rc *ReplayController) ActiveHand() (tableID string, handNumber int, ok bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.active == nil {
		return "", 0, false
	}
	return rc.active.tableID, rc.active.handNumber, true
}

// CurrentDuration returns how long the active hand capture has been
// running, or false when no capture is in flight.
func (rc *ReplayController) CurrentDuration() (time.Duration, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.active == nil {
		return 0, false
	}
	return time.Since(rc.active.markInAt), true
}

// ensureMainRecording best-effort starts the device's main recording
// if it is not already running. Failures are logged, never fatal: the
// replay buffer still captures without the main recording.
func (rc *ReplayController) ensureMainRecording(ctx context.Context) {
	recording, err := rc.client.IsRecording(ctx)
	if err != nil {
		rc.logger.Warn("could not query main recording state", "error", err)
		return
	}
	if recording {
		return
	}
	if err := rc.client.StartRecording(ctx); err != nil {
		rc.logger.Warn("could not start main recording", "error", err)
	}
}

// readTimecode derives the device timecode from the reported main
// recording duration. Returns nil when the device is unreachable.
func (rc *ReplayController) readTimecode(ctx context.Context) *Timecode {
	state, err := rc.client.State(ctx)
	if err != nil {
		rc.logger.Warn("could not read device timecode", "error", err)
		return nil
	}
	tc := TimecodeFromDuration(state.RecordingDuration, rc.settings.FrameRate)
	return &tc
}

func timecodeString(tc *Timecode) string {
	if tc == nil {
		return ""
	}
	return tc.String()
}
