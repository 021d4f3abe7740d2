package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrPagerDone is returned by Pager.Next once the final page has been handed out.
var ErrPagerDone = errors.New("chat: no more pages")

// Timing carries whichever time information the API populated for a comment.
// Offset is relative to the start of the VOD; At is wall-clock time.
type Timing struct {
	Offset    time.Duration
	HasOffset bool
	At        time.Time
}

// Fragment is one structured piece of a message body.
type Fragment struct {
	Text    string
	EmoteID string
	Mention string
}

// Badge is a chat badge as reported by the API (e.g. subscriber/12).
type Badge struct {
	ID      string
	Version string
}

// Message is one chat comment replayed alongside a VOD.
type Message struct {
	ID        string
	Timing    Timing
	Author    string // display name
	Login     string
	Body      string
	Color     string
	Badges    []Badge
	Fragments []Fragment
}

// Name returns the display name, falling back to the login.
func (m Message) Name() string {
	if m.Author != "" {
		return m.Author
	}
	return m.Login
}

// Emotes returns the emote names used in the message in order of appearance.
func (m Message) Emotes() []string {
	var out []string
	for _, f := range m.Fragments {
		if f.EmoteID != "" {
			out = append(out, strings.TrimSpace(f.Text))
		}
	}
	return out
}

// EmoteIDs returns the platform ids of the emotes, parallel to Emotes.
func (m Message) EmoteIDs() []string {
	var out []string
	for _, f := range m.Fragments {
		if f.EmoteID != "" {
			out = append(out, f.EmoteID)
		}
	}
	return out
}

// BadgeString renders badges as "id/version,id/version".
func (m Message) BadgeString() string {
	parts := make([]string, 0, len(m.Badges))
	for _, b := range m.Badges {
		if b.Version == "" {
			parts = append(parts, b.ID)
			continue
		}
		parts = append(parts, b.ID+"/"+b.Version)
	}
	return strings.Join(parts, ",")
}

// Pager walks the comments of one VOD page by page.
//
// Next performs at most one remote round trip and returns the messages of the
// following page in the order the source delivered them. Once Done reports
// true, Next returns ErrPagerDone. A Pager cannot be rewound.
type Pager interface {
	Next(ctx context.Context) ([]Message, error)
	Done() bool
}
