package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tablecap/tablecap-go/internal/errors"
	"github.com/tablecap/tablecap-go/internal/logging"
)

// ClipInfo describes one recorded clip on disk.
type ClipInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// StorageStats summarizes the clip directory.
type StorageStats struct {
	ClipCount  int       `json:"clip_count"`
	TotalBytes int64     `json:"total_bytes"`
	OldestClip time.Time `json:"oldest_clip,omitempty"`
}

// Storage places and manages recorded clips under the output
// directory.
type Storage struct {
	outputPath string
	format     string
	logger     *slog.Logger
}

// NewStorage creates the clip storage helper and ensures the output
// directory exists.
func NewStorage(outputPath, format string) (*Storage, error) {
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("path", outputPath).
			Build()
	}
	return &Storage{
		outputPath: outputPath,
		format:     strings.TrimPrefix(format, "."),
		logger:     logging.ForService("storage"),
	}, nil
}

// FileName derives the deterministic clip name for a hand. The same
// table, hand and start time always produce the same name.
func (s *Storage) FileName(tableID string, handNumber int, start time.Time) string {
	return fmt.Sprintf("%s_hand%d_%s.%s", tableID, handNumber, start.Format("20060102_150405"), s.format)
}

// FilePath derives the full clip path for a hand.
func (s *Storage) FilePath(tableID string, handNumber int, start time.Time) string {
	return filepath.Join(s.outputPath, s.FileName(tableID, handNumber, start))
}

// List returns the clips currently on disk, sorted by the directory
// order of the underlying filesystem.
func (s *Storage) List() ([]ClipInfo, error) {
	entries, err := os.ReadDir(s.outputPath)
	if err != nil {
		return nil, errors.New(err).
			Component("recording").
			Category(errors.CategoryFileIO).
			Context("path", s.outputPath).
			Build()
	}

	var clips []ClipInfo
	suffix := "." + s.format
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		clips = append(clips, ClipInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(s.outputPath, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return clips, nil
}

// Stats summarizes the clip directory.
func (s *Storage) Stats() (StorageStats, error) {
	clips, err := s.List()
	if err != nil {
		return StorageStats{}, err
	}

	stats := StorageStats{ClipCount: len(clips)}
	for _, clip := range clips {
		stats.TotalBytes += clip.Size
		if stats.OldestClip.IsZero() || clip.ModTime.Before(stats.OldestClip) {
			stats.OldestClip = clip.ModTime
		}
	}
	return stats, nil
}

// Cleanup removes clips older than the retention period and returns
// how many were removed. With dryRun set it only counts what would be
// removed.
func (s *Storage) Cleanup(retentionDays int, dryRun bool) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	clips, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, clip := range clips {
		if !clip.ModTime.Before(cutoff) {
			continue
		}
		if dryRun {
			removed++
			continue
		}
		if err := os.Remove(clip.Path); err != nil {
			s.logger.Warn("failed to remove expired clip", "clip", clip.Name, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 && !dryRun {
		s.logger.Info("expired clips removed", "count", removed, "retention_days", retentionDays)
	}
	return removed, nil
}
