// Package twitchapi contains the Twitch API clients used by the archiver:
// Helix lookups for users and archived VODs, the paginated VOD comments
// endpoint, app-token acquisition and the shared request budget.
package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHelixURL is the Helix API base.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// HelixClient provides minimal methods needed for VOD discovery.
type HelixClient struct {
	AppTokenSource Credentials
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
	Budget         *Budget
	Retry          RetryPolicy
}

func (hc *HelixClient) caller() *caller {
	return newCaller(hc.ClientID, hc.AppTokenSource, hc.HTTPClient, hc.Budget, hc.Retry)
}

func (hc *HelixClient) endpoint(path string, q url.Values) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	return strings.TrimRight(base, "/") + path + "?" + q.Encode()
}

// VideoMeta is the subset of a Helix video the archiver uses.
type VideoMeta struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Duration  string `json:"duration"`
	CreatedAt string `json:"created_at"`
}

// Created parses CreatedAt; the zero time is returned when it is missing or malformed.
func (v VideoMeta) Created() time.Time {
	t, err := time.Parse(time.RFC3339, v.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Length parses Duration ("3h15m42s").
func (v VideoMeta) Length() time.Duration {
	return time.Duration(parseTwitchDuration(v.Duration)) * time.Second
}

type videosResponse struct {
	Data       []VideoMeta `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", strings.ToLower(login))
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.caller().getJSON(ctx, hc.endpoint("/users", q), &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found: %q: %w", login, ErrNotFound)
	}
	return body.Data[0].ID, nil
}

// ListVideos lists archive videos for a user, newest first. It returns the
// cursor for the following page, empty on the last page.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]VideoMeta, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	if first <= 0 || first > 100 {
		first = 20
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("sort", "time")
	q.Set("first", strconv.Itoa(first))
	if after != "" {
		q.Set("after", after)
	}
	var body videosResponse
	if err := hc.caller().getJSON(ctx, hc.endpoint("/videos", q), &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// GetVideo fetches metadata for one video.
func (hc *HelixClient) GetVideo(ctx context.Context, id string) (*VideoMeta, error) {
	id = NormalizeVideoID(id)
	if id == "" {
		return nil, fmt.Errorf("video id empty")
	}
	q := url.Values{}
	q.Set("id", id)
	var body videosResponse
	if err := hc.caller().getJSON(ctx, hc.endpoint("/videos", q), &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return &body.Data[0], nil
}

// NormalizeVideoID strips whitespace and the "v" prefix Twitch uses in some URLs.
func NormalizeVideoID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 1 && (id[0] == 'v' || id[0] == 'V') {
		if _, err := strconv.ParseUint(id[1:], 10, 64); err == nil {
			return id[1:]
		}
	}
	return id
}

// parseTwitchDuration parses Twitch duration format like "3h15m42s".
func parseTwitchDuration(s string) int {
	var total int
	cur := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur += string(r)
			continue
		}
		if cur == "" {
			continue
		}
		n := 0
		for _, d := range cur {
			n = n*10 + int(d-'0')
		}
		switch r {
		case 'h':
			total += n * 3600
		case 'm':
			total += n * 60
		case 's':
			total += n
		}
		cur = ""
	}
	return total
}
