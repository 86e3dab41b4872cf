// Package observability provides prometheus metrics for the capture
// pipeline.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	Fusion    *FusionMetrics
	Health    *HealthMetrics
	Failover  *FailoverMetrics
	Recording *RecordingMetrics
	Device    *DeviceMetrics
}

// FusionMetrics tracks fusion engine decisions.
type FusionMetrics struct {
	ResultsTotal   *prometheus.CounterVec
	CrossValidated *prometheus.CounterVec
	ReviewFlagged  *prometheus.CounterVec
}

// HealthMetrics tracks share connection health checks.
type HealthMetrics struct {
	CheckLatency prometheus.Histogram
	State        prometheus.Gauge
	Failures     prometheus.Counter
}

// FailoverMetrics tracks ingestion mode switches and fallback trips.
type FailoverMetrics struct {
	ModeSwitches  *prometheus.CounterVec
	FallbackTrips prometheus.Counter
}

// RecordingMetrics tracks recording session lifecycle.
type RecordingMetrics struct {
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
}

// DeviceMetrics tracks recording device API calls.
type DeviceMetrics struct {
	Commands      *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	fusion := &FusionMetrics{
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_fusion_results_total",
			Help: "Fused hand results by table and trusted source.",
		}, []string{"table", "source"}),
		CrossValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_fusion_cross_validated_total",
			Help: "Fused results confirmed by the secondary source.",
		}, []string{"table"}),
		ReviewFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_fusion_review_flagged_total",
			Help: "Fused results flagged for human review.",
		}, []string{"table"}),
	}

	health := &HealthMetrics{
		CheckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tablecap_health_check_latency_seconds",
			Help:    "Latency of share health checks.",
			Buckets: prometheus.DefBuckets,
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablecap_health_state",
			Help: "Share connection state (0=disconnected, 1=reconnecting, 2=degraded, 3=connected).",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tablecap_health_failures_total",
			Help: "Failed share health checks.",
		}),
	}

	failover := &FailoverMetrics{
		ModeSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_failover_mode_switches_total",
			Help: "Ingestion watcher mode switches by target mode.",
		}, []string{"mode"}),
		FallbackTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tablecap_automation_fallback_trips_total",
			Help: "Automation failure trips into manual fallback mode.",
		}),
	}

	recording := &RecordingMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablecap_recording_active_sessions",
			Help: "Recording sessions currently in progress.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_recording_sessions_total",
			Help: "Recording sessions by terminal status.",
		}, []string{"status"}),
	}

	device := &DeviceMetrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_device_commands_total",
			Help: "Commands issued to the recording device by function.",
		}, []string{"function"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablecap_device_command_errors_total",
			Help: "Failed recording device commands by function.",
		}, []string{"function"}),
	}

	collectors := []prometheus.Collector{
		fusion.ResultsTotal, fusion.CrossValidated, fusion.ReviewFlagged,
		health.CheckLatency, health.State, health.Failures,
		failover.ModeSwitches, failover.FallbackTrips,
		recording.ActiveSessions, recording.SessionsTotal,
		device.Commands, device.CommandErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return &Metrics{
		registry:  registry,
		Fusion:    fusion,
		Health:    health,
		Failover:  failover,
		Recording: recording,
		Device:    device,
	}, nil
}

// RegisterHandlers registers the metrics endpoint with the provided
// http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

// metricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
