package archive

import (
	"time"

	"github.com/onnwee/vod-chat/chat"
	"github.com/onnwee/vod-chat/format"
)

// State is the lifecycle position of a job.
type State int

const (
	StatePending State = iota
	StateFetching
	StateRendering
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateRendering:
		return "rendering"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Job archives the chat of one VOD into one file per format.
type Job struct {
	VideoID    string
	Channel    string // login the video was resolved from, if any
	OutputDir  string
	FormatName string
	Formats    []*format.Spec
	Filter     chat.Filter
	Location   *time.Location // nil renders relative offsets
}

// Target identifies the job in reports.
func (j Job) Target() string {
	if j.Channel != "" {
		return j.Channel + "/" + j.VideoID
	}
	return j.VideoID
}

// Result is the outcome of one job, or of a channel that could not be resolved.
type Result struct {
	Target   string
	VideoID  string
	Channel  string
	State    State
	Files    []string // written this run
	Skipped  []string // already complete, left untouched
	Pages    int
	Fetched  int
	Written  int
	Duration time.Duration
	Err      *Error
}

// Failed reports whether the target failed.
func (r Result) Failed() bool { return r.State == StateFailed }

// Kind is the failure kind, or KindUnknown for successes.
func (r Result) Kind() Kind {
	if r.Err == nil {
		return KindUnknown
	}
	return r.Err.Kind
}

// AnyFailed reports whether any result failed.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}
	return false
}
