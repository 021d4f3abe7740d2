package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/vod-chat/chat"
	"github.com/onnwee/vod-chat/format"
	"github.com/onnwee/vod-chat/twitchapi"
)

var vodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	mu     sync.Mutex
	videos map[string]twitchapi.VideoMeta
	users  map[string][]string // login -> video ids, newest first
	errs   map[string]error    // video id or login -> error
	calls  atomic.Int32
	delay  time.Duration
}

func newFakeCatalog(ids ...string) *fakeCatalog {
	c := &fakeCatalog{
		videos: make(map[string]twitchapi.VideoMeta),
		users:  make(map[string][]string),
		errs:   make(map[string]error),
	}
	for _, id := range ids {
		c.addVideo(id, "somechan")
	}
	return c
}

func (c *fakeCatalog) addVideo(id, login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videos[id] = twitchapi.VideoMeta{
		ID: id, UserID: "uid-" + login, UserLogin: login, UserName: login,
		Title: "Stream " + id, Duration: "1h", CreatedAt: vodStart.Format(time.RFC3339),
	}
	c.users[login] = append(c.users[login], id)
}

func (c *fakeCatalog) GetUserID(ctx context.Context, login string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[login]; err != nil {
		return "", err
	}
	if _, ok := c.users[login]; !ok {
		return "", fmt.Errorf("user not found: %q: %w", login, twitchapi.ErrNotFound)
	}
	return "uid-" + login, nil
}

func (c *fakeCatalog) ListVideos(ctx context.Context, userID, after string, first int) ([]twitchapi.VideoMeta, string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	login := userID[len("uid-"):]
	ids := c.users[login]
	start := 0
	if after != "" {
		_, _ = fmt.Sscanf(after, "%d", &start)
	}
	end := min(start+first, len(ids))
	var out []twitchapi.VideoMeta
	for _, id := range ids[start:end] {
		out = append(out, c.videos[id])
	}
	next := ""
	if end < len(ids) {
		next = fmt.Sprint(end)
	}
	return out, next, nil
}

func (c *fakeCatalog) GetVideo(ctx context.Context, id string) (*twitchapi.VideoMeta, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[id]; err != nil {
		return nil, err
	}
	v, ok := c.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, twitchapi.ErrNotFound)
	}
	return &v, nil
}

// slicePager hands out fixed pages; hook runs before each page is returned.
type slicePager struct {
	pages [][]chat.Message
	next  int
	err   error // returned instead of page errAt
	errAt int
	hook  func(page int)
	// deaf pagers never look at ctx, like a source stuck in a blocking read
	deaf bool
}

func (p *slicePager) Done() bool { return p.next >= len(p.pages) }

func (p *slicePager) Next(ctx context.Context) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil && !p.deaf {
		return nil, err
	}
	if p.Done() {
		return nil, chat.ErrPagerDone
	}
	if p.hook != nil {
		p.hook(p.next)
	}
	if p.err != nil && p.next == p.errAt {
		return nil, p.err
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

type fakeComments struct {
	calls  atomic.Int32
	pagers map[string]func() chat.Pager
}

func (f *fakeComments) Comments(videoID string) chat.Pager {
	f.calls.Add(1)
	if mk, ok := f.pagers[videoID]; ok {
		return mk()
	}
	return &slicePager{}
}

func pagesOf(pages ...[]chat.Message) func() chat.Pager {
	return func() chat.Pager { return &slicePager{pages: pages} }
}

func msg(login string, offset time.Duration, body string) chat.Message {
	return chat.Message{
		ID:     login + body,
		Login:  login,
		Author: login,
		Body:   body,
		Timing: chat.Timing{Offset: offset, HasOffset: true, At: vodStart.Add(offset)},
	}
}

func referenceSet(t *testing.T) *format.Set {
	t.Helper()
	set, err := format.Reference()
	require.NoError(t, err)
	return set
}

func plan(t *testing.T, p *Pipeline, req Request) []Job {
	t.Helper()
	batch, err := p.Plan(context.Background(), req, referenceSet(t))
	require.NoError(t, err)
	require.Empty(t, batch.Failures)
	return batch.Jobs
}
