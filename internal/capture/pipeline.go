// Package capture wires the ingestion, fusion, failure detection and
// recording components into the realtime capture pipeline.
package capture

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tablecap/tablecap-go/internal/conf"
	"github.com/tablecap/tablecap-go/internal/detector"
	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/events"
	"github.com/tablecap/tablecap-go/internal/fusion"
	"github.com/tablecap/tablecap-go/internal/health"
	"github.com/tablecap/tablecap-go/internal/ingest"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/manual"
	"github.com/tablecap/tablecap-go/internal/model"
	"github.com/tablecap/tablecap-go/internal/mqtt"
	"github.com/tablecap/tablecap-go/internal/observability"
	"github.com/tablecap/tablecap-go/internal/recording"
	"github.com/tablecap/tablecap-go/internal/vmix"
)

// Pipeline owns the realtime capture components and their lifecycles.
type Pipeline struct {
	settings *conf.Settings
	logger   *slog.Logger

	bus         *events.Bus
	metrics     *observability.Metrics
	engine      *fusion.Engine
	monitor     *health.Monitor
	coordinator *ingest.Coordinator
	detector    *detector.Detector
	markers     *manual.MultiTableMarker
	replay      *vmix.ReplayController
	recorder    *recording.Orchestrator
	mqttClient  *mqtt.Client

	metricsServer *http.Server

	mu        sync.Mutex
	secondary map[string]*model.SecondaryResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the pipeline from settings. Nothing runs until Start.
func New(settings *conf.Settings) (*Pipeline, error) {
	p := &Pipeline{
		settings:  settings,
		logger:    logging.ForService("capture"),
		secondary: make(map[string]*model.SecondaryResult),
	}

	p.bus = events.NewBus(events.DefaultConfig())

	if settings.Observability.Enabled {
		metrics, err := observability.NewMetrics()
		if err != nil {
			return nil, errors.New(err).
				Component("capture").
				Category(errors.CategoryConfiguration).
				Build()
		}
		p.metrics = metrics
	}

	p.engine = fusion.NewEngine(fusion.ConfigFromSettings(settings), p.bus, p.fusionMetrics())

	deviceClient := vmix.NewClient(settings.Device, p.deviceMetrics())
	p.replay = vmix.NewReplayController(settings.Device, deviceClient)

	storage, err := recording.NewStorage(settings.Recording.OutputPath, settings.Recording.Format)
	if err != nil {
		return nil, err
	}

	p.detector = detector.NewDetector(detector.ConfigFromSettings(settings), p.onAutomationAlert, p.bus, p.failoverMetrics())
	p.markers = manual.NewMultiTableMarker(nil, nil, p.bus)

	p.coordinator = ingest.NewCoordinator(ingest.CoordinatorConfig{
		PrimaryPath:     settings.Primary.WatchPath,
		FallbackEnabled: settings.Fallback.Enabled,
	}, p.sourceFactory(), p.bus, p.failoverMetrics())

	p.recorder = recording.NewOrchestrator(
		settings.Recording,
		p.replay,
		storage,
		p.coordinator.Ready,
		nil,
		p.bus,
		p.recordingMetrics(),
	)

	p.monitor = health.NewMonitor(health.ConfigFromSettings(settings), p.onHealthTransition, p.healthMetrics())

	if settings.MQTT.Enabled {
		p.mqttClient = mqtt.NewClient(settings.MQTT, settings.Main.Name)
		p.mqttClient.OnConnectionChange(func(connected bool) {
			p.detector.UpdateSecondaryStatus(connected, false)
		})
		if err := p.bus.RegisterConsumer(mqtt.NewPublisher(p.mqttClient, settings.MQTT.Topic)); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pipeline) fusionMetrics() *observability.FusionMetrics {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Fusion
}

func (p *Pipeline) healthMetrics() *observability.HealthMetrics {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Health
}

func (p *Pipeline) failoverMetrics() *observability.FailoverMetrics {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Failover
}

func (p *Pipeline) recordingMetrics() *observability.RecordingMetrics {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Recording
}

func (p *Pipeline) deviceMetrics() *observability.DeviceMetrics {
	if p.metrics == nil {
		return nil
	}
	return p.metrics.Device
}

// onHealthTransition keeps the failure detector's view of the primary
// channel current before driving the failover coordinator, so a trip
// snapshot taken during the switch already reflects the lost share.
func (p *Pipeline) onHealthTransition(from, to health.State, status health.ConnectionStatus) {
	up := to == health.StateConnected || to == health.StateDegraded
	p.detector.UpdatePrimaryStatus(up, false)
	p.coordinator.OnHealthTransition(from, to, status)
}

// sourceFactory builds the share watcher or the local fallback watcher
// for the failover coordinator.
func (p *Pipeline) sourceFactory() ingest.SourceFactory {
	return func(mode ingest.Mode) (ingest.Source, error) {
		primary := p.settings.Primary
		switch mode {
		case ingest.ModePrimary:
			return ingest.NewFileWatcher(ingest.WatcherConfig{
				Dir:          primary.WatchPath,
				Pattern:      primary.FilePattern,
				PollInterval: time.Duration(primary.PollIntervalSeconds * float64(time.Second)),
				SettleDelay:  time.Duration(primary.SettleDelaySeconds * float64(time.Second)),
				JournalPath:  primary.JournalPath,
			}, "ingest-primary"), nil
		case ingest.ModeFallback:
			return ingest.NewFileWatcher(ingest.WatcherConfig{
				Dir:          p.settings.Fallback.Path,
				Pattern:      primary.FilePattern,
				PollInterval: time.Duration(primary.PollIntervalSeconds * float64(time.Second)),
				SettleDelay:  time.Duration(primary.SettleDelaySeconds * float64(time.Second)),
				JournalPath:  p.settings.Fallback.JournalPath,
			}, "ingest-fallback"), nil
		default:
			return nil, errors.Newf("no source for mode %s", string(mode)).
				Component("capture").
				Category(errors.CategoryState).
				Build()
		}
	}
}

// Start launches the pipeline. It returns once everything is running;
// Shutdown stops it.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if p.mqttClient != nil {
		if err := p.mqttClient.Connect(ctx); err != nil {
			// The paho auto-reconnect keeps trying in the background.
			p.logger.Warn("initial MQTT connect failed", "error", err)
		} else {
			topic := p.settings.MQTT.Topic + "/secondary/detections"
			err := p.mqttClient.SubscribeSecondary(ctx, topic, func(result *model.SecondaryResult) {
				p.SubmitSecondary(context.Background(), result)
			})
			if err != nil {
				p.logger.Warn("could not subscribe to analyzer detections", "error", err)
			}
		}
	}

	if p.metrics != nil {
		mux := http.NewServeMux()
		p.metrics.RegisterHandlers(mux)
		p.metricsServer = &http.Server{Addr: p.settings.Observability.ListenAddr, Handler: mux}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := p.coordinator.Start(ctx); err != nil {
		return err
	}

	p.monitor.Start(ctx)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.detector.Run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.consume(ctx)
	}()

	p.logger.Info("capture pipeline running",
		"tables", p.settings.Tables,
		"fallback_enabled", p.settings.Fallback.Enabled,
	)
	return nil
}

// consume drains the ingestion channel, fusing each primary result
// with any pending secondary detection and driving recording.
func (p *Pipeline) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-p.coordinator.Results():
			if !ok {
				return
			}
			p.handlePrimary(ctx, result)
		}
	}
}

// handlePrimary fuses a primary hand result and applies the recording
// decision.
func (p *Pipeline) handlePrimary(ctx context.Context, result *model.HandResult) {
	p.detector.UpdatePrimaryStatus(true, true)

	secondary := p.takeSecondary(result.TableID, result.Timestamp)
	fused := p.engine.Fuse(result.TableID, result, secondary)

	if secondary != nil && secondary.HandRank != nil {
		if fused.CrossValidated {
			p.detector.RecordFusionMatch()
		} else {
			p.detector.RecordFusionMismatch()
		}
	}

	p.applyRecordingDecision(ctx, fused)
}

// SubmitSecondary feeds an analyzer detection into the pipeline. Hand
// boundary events drive session start and stop; showdown-class
// detections are held for cross-validation against the next primary
// result for the table.
func (p *Pipeline) SubmitSecondary(ctx context.Context, result *model.SecondaryResult) {
	p.detector.UpdateSecondaryStatus(true, true)

	switch result.DetectedEvent {
	case model.EventHandStart:
		if p.automationSuppressed() {
			return
		}
		if _, err := p.recorder.StartRecording(ctx, result.TableID, -1); err != nil {
			p.logger.Warn("could not start recording on hand start",
				"table", result.TableID,
				"error", err,
			)
		}
	case model.EventHandEnd:
		if p.recorder.ActiveSession(result.TableID) == nil {
			return
		}
		if _, err := p.recorder.StopRecording(ctx, result.TableID); err != nil {
			p.logger.Warn("could not stop recording on hand end",
				"table", result.TableID,
				"error", err,
			)
		}
	default:
		p.mu.Lock()
		p.secondary[result.TableID] = result
		p.mu.Unlock()
	}
}

// takeSecondary consumes the pending detection for a table if it falls
// within the cross-validation tolerance of the primary timestamp.
func (p *Pipeline) takeSecondary(tableID string, primaryTS time.Time) *model.SecondaryResult {
	tolerance := time.Duration(p.settings.Fusion.TimestampToleranceSeconds * float64(time.Second))

	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.secondary[tableID]
	if !ok {
		return nil
	}
	delete(p.secondary, tableID)

	skew := primaryTS.Sub(pending.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > 2*tolerance {
		// Stale detection from an earlier hand, not a mismatch.
		return nil
	}
	return pending
}

// applyRecordingDecision captures premium hands that slipped past the
// boundary-driven session flow using the live replay quick path.
func (p *Pipeline) applyRecordingDecision(ctx context.Context, fused *model.FusedResult) {
	if p.automationSuppressed() || !p.settings.Device.AutoRecord {
		return
	}
	if !fused.HandRank.IsPremium() {
		return
	}
	if p.recorder.ActiveSession(fused.TableID) != nil {
		// The boundary-driven session already covers this hand.
		return
	}

	seconds := p.settings.Recording.MaxDurationSeconds
	if err := p.replay.MarkInOutLive(ctx, seconds); err != nil {
		p.logger.Error("quick replay capture failed",
			"table", fused.TableID,
			"hand", fused.HandNumber,
			"error", err,
		)
		return
	}
	p.logger.Info("premium hand captured via live replay",
		"table", fused.TableID,
		"hand", fused.HandNumber,
		"rank", fused.HandRank.String(),
		"seconds", seconds,
	)
}

// automationSuppressed reports whether automated recording decisions
// are on hold because fallback mode is active.
func (p *Pipeline) automationSuppressed() bool {
	return p.detector.FallbackActive()
}

// onAutomationAlert reacts to a fallback trip: in-flight sessions are
// stopped so nothing records unattended, and the manual markers take
// over.
func (p *Pipeline) onAutomationAlert(reason detector.Reason, state detector.AutomationState) {
	p.logger.Error("automation failed, suppressing recording decisions",
		"reason", string(reason),
		"consecutive_mismatches", state.ConsecutiveMismatches,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.recorder.StopAll(ctx)
}

// Marker returns the manual marking facility for a table.
func (p *Pipeline) Marker(tableID string) *manual.Marker {
	return p.markers.ForTable(tableID)
}

// ResetAutomation clears fallback mode after the operator has resolved
// the underlying failure.
func (p *Pipeline) ResetAutomation() {
	p.detector.ResetFallback()
}

// Shutdown stops the pipeline in dependency order: ingestion first so
// no new results arrive, then recording, then the event bus.
func (p *Pipeline) Shutdown() {
	p.logger.Info("shutting down capture pipeline")

	if p.cancel != nil {
		p.cancel()
	}

	p.coordinator.Stop()
	p.monitor.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.recorder.StopAll(ctx)

	if p.metricsServer != nil {
		if err := p.metricsServer.Shutdown(ctx); err != nil {
			p.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	p.wg.Wait()

	if err := p.bus.Shutdown(5 * time.Second); err != nil {
		p.logger.Warn("event bus shutdown failed", "error", err)
	}
	if p.mqttClient != nil {
		p.mqttClient.Disconnect()
	}

	p.logger.Info("capture pipeline stopped")
}
