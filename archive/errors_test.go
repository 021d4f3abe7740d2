package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/onnwee/vod-chat/chat"
	"github.com/onnwee/vod-chat/format"
	"github.com/onnwee/vod-chat/twitchapi"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindTransient, "transient"},
		{KindPermanent, "permanent"},
		{KindConfiguration, "configuration"},
		{KindRender, "render"},
		{KindCanceled, "canceled"},
		{Kind(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"canceled", fmt.Errorf("fetch: %w", context.Canceled), KindCanceled},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"config", &format.ConfigError{Format: "x", Err: errors.New("bad")}, KindConfiguration},
		{"render", &format.RenderError{Format: "x", Field: "created_at", Err: errors.New("missing")}, KindRender},
		{"no timing", chat.ErrNoTiming, KindRender},
		{"auth", fmt.Errorf("%w: revoked", twitchapi.ErrAuth), KindPermanent},
		{"not found", fmt.Errorf("video 1: %w", twitchapi.ErrNotFound), KindPermanent},
		{"429", &twitchapi.StatusError{Status: http.StatusTooManyRequests}, KindTransient},
		{"503", &twitchapi.StatusError{Status: http.StatusServiceUnavailable}, KindTransient},
		{"400", &twitchapi.StatusError{Status: http.StatusBadRequest}, KindPermanent},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient},
		{"wrapped archive error", fmt.Errorf("x: %w", &Error{Kind: KindRender, Err: errors.New("y")}), KindRender},
		// message fallbacks
		{"msg server", errors.New("HTTP Error 503: Service Unavailable"), KindTransient},
		{"msg video unavailable", errors.New("video 1 does not exist"), KindPermanent},
		{"msg reset", errors.New("read: connection reset by peer"), KindTransient},
		{"msg rate", errors.New("Too many requests"), KindTransient},
		{"msg unknown", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := &twitchapi.StatusError{Status: 404, URL: "u", Body: "gone"}
	e := newError("chan/1", "fetch video", cause)
	if e.Kind != KindPermanent {
		t.Errorf("Kind = %v", e.Kind)
	}
	if got := e.Error(); got != "chan/1: fetch video: "+cause.Error() {
		t.Errorf("Error() = %q", got)
	}
	var se *twitchapi.StatusError
	if !errors.As(e, &se) {
		t.Error("Error should unwrap to the cause")
	}
	if again := newError("chan/1", "other", e); again != e {
		t.Error("newError should not double-wrap an Error for the same target")
	}
}
