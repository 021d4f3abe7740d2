package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fastRetry keeps retry tests quick.
var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func seededTokens() *TokenSource {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(time.Hour))
	return ts
}

func newTestHelix(server *httptest.Server, ts Credentials) *HelixClient {
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL},
		},
		Retry: fastRetry,
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		login       string
		wantUserID  string
		errContains string
		wantErr     bool
		notFound    bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]interface{}{"data": []map[string]string{}},
			wantErr:     true,
			notFound:    true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/helix/users" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			userID, err := newTestHelix(server, seededTokens()).GetUserID(context.Background(), tt.login)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetUserID() error = nil, want error containing %q", tt.errContains)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				if tt.notFound && !errors.Is(err, ErrNotFound) {
					t.Errorf("GetUserID() error = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUserID() unexpected error = %v", err)
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %s, want %s", userID, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_ListVideos(t *testing.T) {
	tests := []struct {
		response   interface{}
		name       string
		after      string
		wantCursor string
		first      int
		wantFirst  string
		wantVideos int
	}{
		{
			name:  "first page",
			first: 20,
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "123", "title": "Test Video 1", "duration": "1h30m45s", "created_at": "2024-01-01T10:00:00Z"},
					{"id": "124", "title": "Test Video 2", "duration": "45m30s", "created_at": "2024-01-01T09:00:00Z"},
				},
				"pagination": map[string]string{"cursor": "next-cursor-123"},
			},
			wantFirst:  "20",
			wantVideos: 2,
			wantCursor: "next-cursor-123",
		},
		{
			name:       "empty result with default first",
			first:      0,
			response:   map[string]interface{}{"data": []map[string]string{}, "pagination": map[string]string{}},
			wantFirst:  "20",
			wantVideos: 0,
		},
		{
			name:  "with pagination cursor",
			after: "cursor-abc",
			first: 50,
			response: map[string]interface{}{
				"data":       []map[string]string{{"id": "125", "title": "Test Video 3", "duration": "2h", "created_at": "2024-01-01T08:00:00Z"}},
				"pagination": map[string]string{},
			},
			wantFirst:  "50",
			wantVideos: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if q.Get("user_id") != "12345" {
					t.Errorf("user_id = %s, want 12345", q.Get("user_id"))
				}
				if q.Get("type") != "archive" {
					t.Errorf("type = %s, want archive", q.Get("type"))
				}
				if q.Get("first") != tt.wantFirst {
					t.Errorf("first = %s, want %s", q.Get("first"), tt.wantFirst)
				}
				if q.Get("after") != tt.after {
					t.Errorf("after = %s, want %s", q.Get("after"), tt.after)
				}
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			videos, cursor, err := newTestHelix(server, seededTokens()).ListVideos(context.Background(), "12345", tt.after, tt.first)
			if err != nil {
				t.Fatalf("ListVideos() unexpected error = %v", err)
			}
			if len(videos) != tt.wantVideos {
				t.Errorf("ListVideos() returned %d videos, want %d", len(videos), tt.wantVideos)
			}
			if cursor != tt.wantCursor {
				t.Errorf("ListVideos() cursor = %s, want %s", cursor, tt.wantCursor)
			}
		})
	}
}

func TestHelixClient_ListVideosEmptyUser(t *testing.T) {
	client := &HelixClient{}
	if _, _, err := client.ListVideos(context.Background(), "", "", 5); err == nil || !strings.Contains(err.Error(), "userID empty") {
		t.Errorf("ListVideos() error = %v, want userID empty", err)
	}
}

func TestHelixClient_GetVideo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "111":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{
					"id": "111", "user_id": "9", "user_login": "somechan", "user_name": "SomeChan",
					"title": "Stream", "url": "https://www.twitch.tv/videos/111",
					"duration": "1h2m3s", "created_at": "2024-03-01T12:00:00Z",
				}},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
		}
	}))
	defer server.Close()
	client := newTestHelix(server, seededTokens())

	v, err := client.GetVideo(context.Background(), "v111")
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if v.UserLogin != "somechan" || v.Title != "Stream" {
		t.Errorf("GetVideo() = %+v", v)
	}
	if got := v.Length(); got != time.Hour+2*time.Minute+3*time.Second {
		t.Errorf("Length() = %v", got)
	}
	if got := v.Created(); !got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Created() = %v", got)
	}

	if _, err := client.GetVideo(context.Background(), "222"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVideo(missing) error = %v, want ErrNotFound", err)
	}
}

func TestHelixClient_ListVideos429RateLimiting(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too Many Requests","status":429}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":       []map[string]string{{"id": "123", "title": "Test"}},
			"pagination": map[string]string{},
		})
	}))
	defer server.Close()

	var notified atomic.Int32
	client := newTestHelix(server, seededTokens())
	client.Retry.Notify = func(error, time.Duration) { notified.Add(1) }

	videos, _, err := client.ListVideos(context.Background(), "12345", "", 20)
	if err != nil {
		t.Fatalf("ListVideos() after 429 retry: %v", err)
	}
	if len(videos) != 1 {
		t.Errorf("expected 1 video, got %d", len(videos))
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if notified.Load() != 2 {
		t.Errorf("expected 2 retry notifications, got %d", notified.Load())
	}
}

func TestHelixClient_ListVideos5xxExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, _, err := newTestHelix(server, seededTokens()).ListVideos(context.Background(), "12345", "", 20)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("error = %v, want 502 StatusError", err)
	}
	if attempts.Load() != int32(fastRetry.MaxAttempts) {
		t.Errorf("attempts = %d, want %d", attempts.Load(), fastRetry.MaxAttempts)
	}
}

func TestHelixClient_GetUserID401RefreshRetry(t *testing.T) {
	var userAttempts, tokenRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			tokenRequests.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "fresh-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		case "/helix/users":
			if userAttempts.Add(1) == 1 {
				if got := r.Header.Get("Authorization"); got != "Bearer stale-token" {
					t.Errorf("first attempt auth = %q, want stale token", got)
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if got := r.Header.Get("Authorization"); got != "Bearer fresh-token" {
				t.Errorf("second attempt auth = %q, want refreshed token", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "u-123"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	rewrite := &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL}}
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: rewrite}
	ts.SetToken("stale-token", time.Now().Add(time.Hour))

	client := newTestHelix(server, ts)
	userID, err := client.GetUserID(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUserID() unexpected error = %v", err)
	}
	if userID != "u-123" {
		t.Fatalf("GetUserID() = %q, want u-123", userID)
	}
	if tokenRequests.Load() != 1 {
		t.Fatalf("expected exactly one token refresh request, got %d", tokenRequests.Load())
	}
	if userAttempts.Load() != 2 {
		t.Fatalf("expected two /helix/users attempts, got %d", userAttempts.Load())
	}
}

func TestHelixClient_401StaticTokenIsAuthError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestHelix(server, StaticToken("revoked")).GetUserID(context.Background(), "x")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("error = %v, want ErrAuth", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestHelixClient_BaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom/users" {
			t.Errorf("path = %s, want /custom/users", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "1"}}})
	}))
	defer server.Close()

	client := &HelixClient{AppTokenSource: StaticToken("t"), BaseURL: server.URL + "/custom/", Retry: fastRetry}
	if _, err := client.GetUserID(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
}

func TestNormalizeVideoID(t *testing.T) {
	cases := map[string]string{
		"v123":   "123",
		" 123 ":  "123",
		"V42":    "42",
		"video1": "video1",
		"v":      "v",
	}
	for in, want := range cases {
		if got := NormalizeVideoID(in); got != want {
			t.Errorf("NormalizeVideoID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTwitchDuration(t *testing.T) {
	cases := map[string]int{"1h30m45s": 5445, "45m30s": 2730, "2h": 7200, "": 0, "12s": 12}
	for in, want := range cases {
		if got := parseTwitchDuration(in); got != want {
			t.Errorf("parseTwitchDuration(%q) = %d, want %d", in, got, want)
		}
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := strings.TrimPrefix(t.host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
