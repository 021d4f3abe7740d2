// Package testutil provides a fake Twitch API for package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer creates a test server that mocks the Helix, comments and
// OAuth endpoints. Handlers are keyed by exact URL path.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	failures map[string][]failure
	// sent with injected 429s
	retryAfter string
}

type failure struct {
	status int
	cursor string // only requests with this cursor fail; empty matches any
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		handlers:   make(map[string]http.HandlerFunc),
		hits:       make(map[string]int),
		failures:   make(map[string][]failure),
		retryAfter: "0",
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) serve(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	m.mu.Lock()
	m.hits[key]++
	handler, ok := m.handlers[key]
	var status int
	if q := m.failures[key]; len(q) > 0 && (q[0].cursor == "" || q[0].cursor == r.URL.Query().Get("cursor")) {
		status, m.failures[key] = q[0].status, q[1:]
	}
	retryAfter := m.retryAfter
	m.mu.Unlock()

	if status != 0 {
		if status == http.StatusTooManyRequests && retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":%q,"status":%d}`, http.StatusText(status), status)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, r)
}

// Handle registers a handler for an exact path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.handlers[path] = h
	m.mu.Unlock()
}

// FailNext makes the next len(statuses) requests to path fail with the given
// statuses before the registered handler is used again.
func (m *MockTwitchServer) FailNext(path string, statuses ...int) {
	m.failAt(path, "", statuses)
}

// SetRetryAfter changes the Retry-After header of injected 429s (default
// "0"). An empty value omits it so clients use their own backoff.
func (m *MockTwitchServer) SetRetryAfter(v string) {
	m.mu.Lock()
	m.retryAfter = v
	m.mu.Unlock()
}

// FailPage is FailNext for the comments page reached with the given
// zero-based page number; earlier pages are served normally.
func (m *MockTwitchServer) FailPage(videoID string, page int, statuses ...int) {
	cursor := ""
	if page > 0 {
		cursor = fmt.Sprintf("page-%d", page)
	}
	m.failAt(CommentsPath(videoID), cursor, statuses)
}

func (m *MockTwitchServer) failAt(path, cursor string, statuses []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range statuses {
		m.failures[path] = append(m.failures[path], failure{status: s, cursor: cursor})
	}
}

// Hits is the number of requests received for path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// TotalHits is the number of requests received on any path.
func (m *MockTwitchServer) TotalHits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.hits {
		n += c
	}
	return n
}

// HelixURL is the Helix base URL of the mock.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// CommentsURL is the comments API base URL of the mock.
func (m *MockTwitchServer) CommentsURL() string { return m.URL + "/v5" }

// TokenURL is the OAuth token endpoint of the mock.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// CommentsPath is the request path of a video's comments.
func CommentsPath(videoID string) string { return "/v5/videos/" + videoID + "/comments" }

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if strings.EqualFold(r.URL.Query().Get("login"), login) {
			data = append(data, map[string]string{"id": userID, "login": login})
		}
		writeJSON(w, map[string]interface{}{"data": data})
	})
}

// MockVideosResponse adds a handler for /helix/videos. Listing by user_id
// pages through videos "first" at a time; lookup by id searches them.
func (m *MockTwitchServer) MockVideosResponse(videos []map[string]string) {
	m.Handle("/helix/videos", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if id := q.Get("id"); id != "" {
			data := []map[string]string{}
			for _, v := range videos {
				if v["id"] == id {
					data = append(data, v)
				}
			}
			writeJSON(w, map[string]interface{}{"data": data})
			return
		}
		first, _ := strconv.Atoi(q.Get("first"))
		if first <= 0 {
			first = 20
		}
		start, _ := strconv.Atoi(strings.TrimPrefix(q.Get("after"), "vc-"))
		end := min(start+first, len(videos))
		start = min(start, end)
		cursor := ""
		if end < len(videos) {
			cursor = fmt.Sprintf("vc-%d", end)
		}
		writeJSON(w, map[string]interface{}{
			"data":       videos[start:end],
			"pagination": map[string]string{"cursor": cursor},
		})
	})
}

// Video builds a Helix video entry.
func Video(id, login string, created time.Time) map[string]string {
	return map[string]string{
		"id":         id,
		"user_id":    "uid-" + login,
		"user_login": login,
		"user_name":  strings.ToUpper(login[:1]) + login[1:],
		"title":      "Stream " + id,
		"url":        "https://www.twitch.tv/videos/" + id,
		"duration":   "1h0m0s",
		"created_at": created.UTC().Format(time.RFC3339),
	}
}

// Comment is one chat message served by MockComments.
type Comment struct {
	ID     string
	Offset float64
	Login  string
	Body   string
}

// MockComments serves pages of comments for a video, chained by cursors.
func (m *MockTwitchServer) MockComments(videoID string, created time.Time, pages ...[]Comment) {
	m.Handle(CommentsPath(videoID), func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if c := r.URL.Query().Get("cursor"); c != "" {
			var err error
			if n, err = strconv.Atoi(strings.TrimPrefix(c, "page-")); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		var page []Comment
		if n < len(pages) {
			page = pages[n]
		}
		next := ""
		if n+1 < len(pages) {
			next = fmt.Sprintf("page-%d", n+1)
		}
		out := make([]map[string]interface{}, 0, len(page))
		for _, c := range page {
			at := created.Add(time.Duration(c.Offset * float64(time.Second)))
			out = append(out, map[string]interface{}{
				"_id":                    c.ID,
				"created_at":             at.UTC().Format(time.RFC3339Nano),
				"content_offset_seconds": c.Offset,
				"commenter":              map[string]string{"_id": "uid-" + c.Login, "name": c.Login, "display_name": c.Login},
				"message": map[string]interface{}{
					"body":      c.Body,
					"fragments": []map[string]string{{"text": c.Body}},
				},
			})
		}
		writeJSON(w, map[string]interface{}{"comments": out, "_next": next})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}
