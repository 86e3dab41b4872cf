package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/logging"
	"github.com/tablecap/tablecap-go/internal/model"
)

// quarantineDir is the subdirectory receiving unparseable session
// files.
const quarantineDir = "errors"

// WatcherConfig holds the file watcher parameters.
type WatcherConfig struct {
	// Dir is the directory to watch for session files.
	Dir string

	// Pattern is the glob pattern session files must match.
	Pattern string

	// PollInterval is the directory scan interval.
	PollInterval time.Duration

	// SettleDelay is how long a file's size must be stable before it is
	// read, so half-written files are never parsed.
	SettleDelay time.Duration

	// JournalPath persists the set of processed file names across
	// restarts. Empty disables the journal.
	JournalPath string
}

type pendingFile struct {
	size      int64
	stableAt  time.Time
	lastCheck time.Time
}

// FileWatcher polls a directory for completed hand session files,
// parses them and emits the contained results. Files that fail to
// parse are moved to a quarantine subdirectory and never retried.
type FileWatcher struct {
	config WatcherConfig
	logger *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}

	mu        sync.Mutex
	processed map[string]struct{}
	pending   map[string]*pendingFile

	filesProcessed   atomic.Uint64
	filesQuarantined atomic.Uint64
	resultsEmitted   atomic.Uint64
	lastEventUnix    atomic.Int64
}

// NewFileWatcher creates a polling session file watcher. The journal
// is loaded immediately so already-processed files are skipped after a
// restart.
func NewFileWatcher(config WatcherConfig, serviceName string) *FileWatcher {
	w := &FileWatcher{
		config:    config,
		logger:    logging.ForService(serviceName),
		stopped:   make(chan struct{}),
		processed: make(map[string]struct{}),
		pending:   make(map[string]*pendingFile),
	}
	w.loadJournal()
	return w
}

// Listen polls the watch directory until ctx is cancelled or Stop is
// called. A missing watch directory is a fatal error; the failover
// coordinator decides what happens next.
func (w *FileWatcher) Listen(ctx context.Context, results chan<- *model.HandResult) error {
	if _, err := os.Stat(w.config.Dir); err != nil {
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryIngestion).
			Context("dir", w.config.Dir).
			Build()
	}

	w.logger.Info("watching for session files",
		"dir", w.config.Dir,
		"pattern", w.config.Pattern,
		"poll_interval", w.config.PollInterval,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopped:
			return nil
		case <-ticker.C:
			if err := w.scan(ctx, results); err != nil {
				return err
			}
		}
	}
}

// Stop terminates the listen loop. Safe to call repeatedly or before
// Listen has started.
func (w *FileWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopped) })
	return nil
}

// Stats returns a snapshot of the watcher counters.
func (w *FileWatcher) Stats() SourceStats {
	return SourceStats{
		FilesProcessed:   w.filesProcessed.Load(),
		FilesQuarantined: w.filesQuarantined.Load(),
		ResultsEmitted:   w.resultsEmitted.Load(),
		LastEventAt:      time.Unix(w.lastEventUnix.Load(), 0),
	}
}

// scan finds settled unprocessed files and processes them in name
// order.
func (w *FileWatcher) scan(ctx context.Context, results chan<- *model.HandResult) error {
	matches, err := filepath.Glob(filepath.Join(w.config.Dir, w.config.Pattern))
	if err != nil {
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryIngestion).
			Context("pattern", w.config.Pattern).
			Build()
	}
	if matches == nil {
		if _, statErr := os.Stat(w.config.Dir); statErr != nil {
			// The share vanished mid-session.
			return errors.New(statErr).
				Component("ingest").
				Category(errors.CategoryIngestion).
				Context("dir", w.config.Dir).
				Build()
		}
		return nil
	}

	now := time.Now()
	var ready []string

	w.mu.Lock()
	for _, path := range matches {
		name := filepath.Base(path)
		if _, done := w.processed[name]; done {
			continue
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}

		p, seen := w.pending[name]
		if !seen || p.size != info.Size() {
			w.pending[name] = &pendingFile{size: info.Size(), stableAt: now, lastCheck: now}
			continue
		}
		p.lastCheck = now
		if now.Sub(p.stableAt) >= w.config.SettleDelay {
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return nil
		}
		w.processFile(ctx, path, results)
	}
	if len(ready) > 0 {
		w.saveJournal()
	}
	return nil
}

// processFile parses one session file and emits its results. Parse
// failures quarantine the file; either way the file is journaled so it
// is never picked up again.
func (w *FileWatcher) processFile(ctx context.Context, path string, results chan<- *model.HandResult) {
	name := filepath.Base(path)

	hands, err := parseSessionFile(path)
	if err != nil {
		w.logger.Error("failed to parse session file, quarantining",
			"file", name,
			"error", err,
		)
		w.quarantine(path)
		w.filesQuarantined.Add(1)
	} else {
		for _, hand := range hands {
			select {
			case results <- hand:
				w.resultsEmitted.Add(1)
				w.lastEventUnix.Store(time.Now().Unix())
			case <-ctx.Done():
				return
			case <-w.stopped:
				return
			}
		}
		w.filesProcessed.Add(1)
		w.logger.Info("processed session file", "file", name, "hands", len(hands))
	}

	w.mu.Lock()
	w.processed[name] = struct{}{}
	delete(w.pending, name)
	w.mu.Unlock()
}

// parseSessionFile decodes a session file holding either a single hand
// result or an array of them.
func parseSessionFile(path string) ([]*model.HandResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("file", path).
			Build()
	}

	var many []*model.HandResult
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one model.HandResult
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileParsing).
			Context("file", path).
			Build()
	}
	return []*model.HandResult{&one}, nil
}

// quarantine moves a corrupt file into the errors subdirectory so it
// stops matching the watch pattern but remains available for
// inspection.
func (w *FileWatcher) quarantine(path string) {
	dir := filepath.Join(w.config.Dir, quarantineDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.logger.Error("failed to create quarantine directory", "dir", dir, "error", err)
		return
	}
	target := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.logger.Error("failed to quarantine file", "file", path, "error", err)
	}
}

type journalFile struct {
	Processed []string `json:"processed"`
}

func (w *FileWatcher) loadJournal() {
	if w.config.JournalPath == "" {
		return
	}
	data, err := os.ReadFile(w.config.JournalPath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to read journal", "path", w.config.JournalPath, "error", err)
		}
		return
	}
	var journal journalFile
	if err := json.Unmarshal(data, &journal); err != nil {
		w.logger.Warn("ignoring corrupt journal", "path", w.config.JournalPath, "error", err)
		return
	}
	for _, name := range journal.Processed {
		w.processed[name] = struct{}{}
	}
	w.logger.Info("loaded journal", "entries", len(journal.Processed))
}

func (w *FileWatcher) saveJournal() {
	if w.config.JournalPath == "" {
		return
	}

	w.mu.Lock()
	journal := journalFile{Processed: make([]string, 0, len(w.processed))}
	for name := range w.processed {
		journal.Processed = append(journal.Processed, name)
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(journal, "", "  ")
	if err != nil {
		w.logger.Error("failed to encode journal", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.config.JournalPath), 0o755); err != nil {
		w.logger.Error("failed to create journal directory", "error", err)
		return
	}
	if err := os.WriteFile(w.config.JournalPath, data, 0o644); err != nil {
		w.logger.Error("failed to write journal", "path", w.config.JournalPath, "error", err)
	}
}
