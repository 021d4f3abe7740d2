package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/vod-chat/chat"
)

// DefaultCommentsURL is the base of the VOD comments endpoint.
const DefaultCommentsURL = "https://api.twitch.tv/v5"

// CommentsClient pages through the chat replay of VODs.
type CommentsClient struct {
	AppTokenSource Credentials
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
	Budget         *Budget
	Retry          RetryPolicy
}

// Comments returns a pager over the comments of videoID, starting at the
// beginning of the VOD. Nothing is fetched until Next is called.
func (cc *CommentsClient) Comments(videoID string) chat.Pager {
	base := cc.BaseURL
	if base == "" {
		base = DefaultCommentsURL
	}
	return &commentPager{
		caller:  newCaller(cc.ClientID, cc.AppTokenSource, cc.HTTPClient, cc.Budget, cc.Retry),
		base:    strings.TrimRight(base, "/"),
		videoID: NormalizeVideoID(videoID),
	}
}

type commentsResponse struct {
	Comments []rawComment `json:"comments"`
	Next     string       `json:"_next"`
}

type rawComment struct {
	ID        string   `json:"_id"`
	CreatedAt string   `json:"created_at"`
	Offset    *float64 `json:"content_offset_seconds"`
	Commenter struct {
		ID          string `json:"_id"`
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	} `json:"commenter"`
	Message struct {
		Body      string `json:"body"`
		Fragments []struct {
			Text     string `json:"text"`
			Emoticon *struct {
				EmoticonID string `json:"emoticon_id"`
			} `json:"emoticon"`
		} `json:"fragments"`
		UserColor  string `json:"user_color"`
		UserBadges []struct {
			ID      string `json:"_id"`
			Version string `json:"version"`
		} `json:"user_badges"`
	} `json:"message"`
}

// commentPager holds nothing but the cursor between calls.
type commentPager struct {
	caller  *caller
	base    string
	videoID string
	cursor  string
	done    bool
}

func (p *commentPager) Done() bool { return p.done }

func (p *commentPager) Next(ctx context.Context) ([]chat.Message, error) {
	if p.done {
		return nil, chat.ErrPagerDone
	}
	q := url.Values{}
	if p.cursor == "" {
		q.Set("content_offset_seconds", "0")
	} else {
		q.Set("cursor", p.cursor)
	}
	u := fmt.Sprintf("%s/videos/%s/comments?%s", p.base, url.PathEscape(p.videoID), q.Encode())
	var body commentsResponse
	if err := p.caller.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.Next != "" && body.Next == p.cursor {
		return nil, fmt.Errorf("comments for %s: cursor did not advance", p.videoID)
	}
	msgs := make([]chat.Message, 0, len(body.Comments))
	for _, c := range body.Comments {
		msgs = append(msgs, c.message())
	}
	p.cursor = body.Next
	p.done = body.Next == ""
	return msgs, nil
}

func (c rawComment) message() chat.Message {
	m := chat.Message{
		ID:     c.ID,
		Author: c.Commenter.DisplayName,
		Login:  c.Commenter.Name,
		Body:   c.Message.Body,
		Color:  c.Message.UserColor,
	}
	if c.Offset != nil {
		m.Timing.Offset = time.Duration(*c.Offset * float64(time.Second))
		m.Timing.HasOffset = true
	}
	if c.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, c.CreatedAt); err == nil {
			m.Timing.At = t
		}
	}
	var body strings.Builder
	for _, f := range c.Message.Fragments {
		frag := chat.Fragment{Text: f.Text}
		if f.Emoticon != nil {
			frag.EmoteID = f.Emoticon.EmoticonID
		} else if strings.HasPrefix(f.Text, "@") {
			frag.Mention = strings.TrimPrefix(strings.TrimSpace(f.Text), "@")
		}
		m.Fragments = append(m.Fragments, frag)
		body.WriteString(f.Text)
	}
	if m.Body == "" {
		m.Body = body.String()
	}
	for _, b := range c.Message.UserBadges {
		m.Badges = append(m.Badges, chat.Badge{ID: b.ID, Version: b.Version})
	}
	return m
}
