// Package ingest provides hand result ingestion sources and the
// failover coordinator that switches between the network share watcher
// and the local fallback watcher.
package ingest

import (
	"context"
	"time"

	"github.com/tablecap/tablecap-go/internal/model"
)

// SourceStats is a snapshot of an ingestion source's counters.
type SourceStats struct {
	FilesProcessed   uint64    `json:"files_processed"`
	FilesQuarantined uint64    `json:"files_quarantined"`
	ResultsEmitted   uint64    `json:"results_emitted"`
	LastEventAt      time.Time `json:"last_event_at"`
}

// Source is an ingestion source producing hand results. Listen blocks
// until ctx is cancelled or a fatal error occurs; results are delivered
// on the provided channel. Stop is idempotent and safe to call on a
// source that was never started.
type Source interface {
	Listen(ctx context.Context, results chan<- *model.HandResult) error
	Stop() error
	Stats() SourceStats
}
