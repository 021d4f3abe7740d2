package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoTiming means a message carried neither an offset nor a usable timestamp.
var ErrNoTiming = errors.New("chat: message has no usable timing")

// AbsoluteLayout is how zoned timestamps are printed.
const AbsoluteLayout = "2006-01-02 15:04:05"

// Timestamp is the normalized time of one message.
type Timestamp struct {
	Relative time.Duration
	Absolute time.Time // zero when it cannot be derived
	Text     string    // what {timestamp} renders to
}

// Normalize converts t into a canonical timestamp.
//
// The relative offset is taken from the API offset when present, otherwise it
// is derived from the absolute time and the VOD start. The absolute time is the
// reverse. When loc is non-nil Text is the absolute time in loc, otherwise it is
// the relative offset as HH:MM:SS.
func Normalize(t Timing, vodStart time.Time, loc *time.Location) (Timestamp, error) {
	var ts Timestamp
	relOK := false
	switch {
	case t.HasOffset:
		ts.Relative, relOK = t.Offset, true
	case !t.At.IsZero() && !vodStart.IsZero():
		ts.Relative, relOK = t.At.Sub(vodStart), true
		if ts.Relative < 0 {
			ts.Relative = 0
		}
	}
	switch {
	case !t.At.IsZero():
		ts.Absolute = t.At
	case t.HasOffset && !vodStart.IsZero():
		ts.Absolute = vodStart.Add(t.Offset)
	}

	if loc != nil {
		if ts.Absolute.IsZero() {
			return ts, ErrNoTiming
		}
		ts.Absolute = ts.Absolute.In(loc)
		ts.Text = ts.Absolute.Format(AbsoluteLayout)
		return ts, nil
	}
	if !relOK {
		return ts, ErrNoTiming
	}
	ts.Text = Clock(ts.Relative)
	return ts, nil
}

// Clock formats d as HH:MM:SS. Hours are not wrapped at 24; negative values clamp to zero.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// ParseLocation resolves a time zone name. The empty name means "no zone",
// which makes Normalize produce relative offsets.
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
