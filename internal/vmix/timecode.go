package vmix

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tablecap/tablecap-go/internal/errors"
)

// Timecode is an SMPTE timecode. The frame separator is ':' for
// non-drop and ';' for drop-frame.
type Timecode struct {
	Hours     int
	Minutes   int
	Seconds   int
	Frames    int
	DropFrame bool
	FrameRate float64
}

// ParseTimecode parses "HH:MM:SS:FF" or drop-frame "HH:MM:SS;FF".
func ParseTimecode(s string, frameRate float64) (Timecode, error) {
	s = strings.TrimSpace(s)

	dropFrame := strings.Contains(s, ";")
	normalized := strings.ReplaceAll(s, ";", ":")
	parts := strings.Split(normalized, ":")
	if len(parts) != 4 {
		return Timecode{}, errors.Newf("invalid timecode %q", s).
			Component("vmix").
			Category(errors.CategoryValidation).
			Build()
	}

	fields := make([]int, 4)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return Timecode{}, errors.Newf("invalid timecode field %q in %q", part, s).
				Component("vmix").
				Category(errors.CategoryValidation).
				Build()
		}
		fields[i] = v
	}

	tc := Timecode{
		Hours:     fields[0],
		Minutes:   fields[1],
		Seconds:   fields[2],
		Frames:    fields[3],
		DropFrame: dropFrame,
		FrameRate: frameRate,
	}
	if tc.Minutes > 59 || tc.Seconds > 59 || float64(tc.Frames) >= math.Ceil(frameRate) {
		return Timecode{}, errors.Newf("timecode %q out of range at %.3f fps", s, frameRate).
			Component("vmix").
			Category(errors.CategoryValidation).
			Build()
	}
	return tc, nil
}

// TimecodeFromDuration converts an elapsed duration to a non-drop
// timecode at the given frame rate.
func TimecodeFromDuration(d time.Duration, frameRate float64) Timecode {
	if d < 0 {
		d = 0
	}
	totalFrames := int64(d.Seconds() * frameRate)
	return TimecodeFromFrames(totalFrames, frameRate, false)
}

// TimecodeFromFrames converts an absolute frame count to a timecode.
func TimecodeFromFrames(frames int64, frameRate float64, dropFrame bool) Timecode {
	if frames < 0 {
		frames = 0
	}
	fps := int64(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}
	return Timecode{
		Hours:     int(frames / (3600 * fps)),
		Minutes:   int(frames / (60 * fps) % 60),
		Seconds:   int(frames / fps % 60),
		Frames:    int(frames % fps),
		DropFrame: dropFrame,
		FrameRate: frameRate,
	}
}

// TotalFrames returns the absolute frame count of the timecode.
// Drop-frame timecodes are treated as continuous: the frame numbers
// skipped at minute boundaries are not compensated, so arithmetic at
// 29.97 fps carries a small nominal-rate error (about 0.1%).
func (tc Timecode) TotalFrames() int64 {
	fps := int64(math.Round(tc.FrameRate))
	if fps <= 0 {
		fps = 30
	}
	seconds := int64(tc.Hours)*3600 + int64(tc.Minutes)*60 + int64(tc.Seconds)
	return seconds*fps + int64(tc.Frames)
}

// Sub returns the duration between two timecodes at tc's frame rate,
// with the same drop-frame approximation as TotalFrames.
func (tc Timecode) Sub(other Timecode) time.Duration {
	fps := math.Round(tc.FrameRate)
	if fps <= 0 {
		fps = 30
	}
	frames := tc.TotalFrames() - other.TotalFrames()
	return time.Duration(float64(frames) / fps * float64(time.Second))
}

// String formats the timecode, using ';' before the frame field for
// drop-frame.
func (tc Timecode) String() string {
	sep := ":"
	if tc.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", tc.Hours, tc.Minutes, tc.Seconds, sep, tc.Frames)
}

// FormatEDLEntry renders one CMX 3600 edit decision list line for a
// cut between the mark-in and mark-out timecodes. The record times
// mirror the source times, which is what downstream editors expect for
// a straight pull.
func FormatEDLEntry(eventNumber int, reel string, in, out Timecode) string {
	if reel == "" {
		reel = "AX"
	}
	return fmt.Sprintf("%03d  %-8s V     C        %s %s %s %s",
		eventNumber, reel, in.String(), out.String(), in.String(), out.String())
}
