package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/onnwee/vod-chat/chat"
	"github.com/onnwee/vod-chat/format"
	"github.com/onnwee/vod-chat/twitchapi"
)

// Kind is the failure category reported for a job or channel.
type Kind int

const (
	// KindUnknown is an error that matches no known category.
	KindUnknown Kind = iota
	// KindTransient is a network or server failure that outlived its retries.
	KindTransient
	// KindPermanent is a request that cannot succeed (bad id, auth, 4xx).
	KindPermanent
	// KindConfiguration is a bad format, template or timezone.
	KindConfiguration
	// KindRender is a template value that could not be produced.
	KindRender
	// KindCanceled is a user interrupt or deadline.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindConfiguration:
		return "configuration"
	case KindRender:
		return "render"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure of one target (video or channel).
type Error struct {
	Target string
	Kind   Kind
	Op     string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Target != "" {
		b.WriteString(e.Target)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(target, op string, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) && ae.Target == target {
		return ae
	}
	return &Error{Target: target, Kind: Classify(err), Op: op, Err: err}
}

// Classify maps an error onto a Kind. Typed errors are checked first; the
// message patterns only decide what no type does.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var ce *format.ConfigError
	if errors.As(err, &ce) {
		return KindConfiguration
	}
	var re *format.RenderError
	if errors.As(err, &re) || errors.Is(err, chat.ErrNoTiming) {
		return KindRender
	}
	if errors.Is(err, twitchapi.ErrAuth) || errors.Is(err, twitchapi.ErrNotFound) {
		return KindPermanent
	}
	var se *twitchapi.StatusError
	if errors.As(err, &se) {
		if se.Temporary() {
			return KindTransient
		}
		return KindPermanent
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return classifyMessage(err.Error())
}

var (
	// Checked first so "service unavailable" is not read as a missing video.
	serverPatterns = []string{
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	}
	permanentPatterns = []string{
		"subscriber-only", "401", "403", "404", "unauthorized", "access denied",
		"not found", "deleted", "does not exist", "no longer available",
		"invalid video id", "invalid url", "malformed url",
	}
	transientPatterns = []string{
		"connection reset", "connection refused", "timed out", "timeout",
		"temporary failure in name resolution", "no route to host", "network unreachable",
		"eof", "broken pipe", "429", "too many requests", "rate limit", "throttled",
	}
)

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, serverPatterns):
		return KindTransient
	case containsAny(lower, permanentPatterns):
		return KindPermanent
	case containsAny(lower, transientPatterns):
		return KindTransient
	}
	return KindUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
