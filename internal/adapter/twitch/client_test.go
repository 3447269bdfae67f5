package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHelix is a minimal Helix + token endpoint for client tests.
type fakeHelix struct {
	mu           sync.Mutex
	subs         map[string]map[string]any
	order        []string
	pageSize     int
	created      []map[string]any
	deleted      []string
	rejectTokens map[string]bool
	tokenCalls   atomic.Int32
	authHeaders  []string
	streams      []map[string]any

	// failures holds statuses returned, in order, before "METHOD path" succeeds.
	failures map[string][]int
	attempts map[string]int
}

func newFakeHelix() *fakeHelix {
	return &fakeHelix{
		subs:         map[string]map[string]any{},
		pageSize:     100,
		rejectTokens: map[string]bool{},
		failures:     map[string][]int{},
		attempts:     map[string]int{},
	}
}

func (f *fakeHelix) addSub(id, typ, status, broadcasterID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = map[string]any{
		"id":         id,
		"type":       typ,
		"version":    "1",
		"status":     status,
		"condition":  map[string]any{"broadcaster_user_id": broadcasterID},
		"transport":  map[string]any{"method": "webhook", "callback": "https://example.com/cb"},
		"created_at": "2024-01-01T00:00:00Z",
	}
	f.order = append(f.order, id)
}

func (f *fakeHelix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/oauth2/token" {
		n := f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600,"token_type":"bearer"}`, n)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	auth := r.Header.Get("Authorization")
	f.authHeaders = append(f.authHeaders, auth)
	if f.rejectTokens[auth] {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")

	route := r.Method + " " + r.URL.Path
	f.attempts[route]++
	if queued := f.failures[route]; len(queued) > 0 {
		f.failures[route] = queued[1:]
		if queued[0] == http.StatusTooManyRequests {
			w.Header().Set("Ratelimit-Reset", "1")
		}
		w.WriteHeader(queued[0])
		_, _ = fmt.Fprintf(w, `{"error":"%s","status":%d,"message":"try later"}`, http.StatusText(queued[0]), queued[0])
		return
	}

	switch {
	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodGet:
		start := 0
		if after := r.URL.Query().Get("after"); after != "" {
			_, _ = fmt.Sscanf(after, "cursor-%d", &start)
		}
		end := min(start+f.pageSize, len(f.order))
		var data []map[string]any
		for _, id := range f.order[start:end] {
			if sub, ok := f.subs[id]; ok {
				data = append(data, sub)
			}
		}
		pagination := map[string]any{}
		if end < len(f.order) {
			pagination["cursor"] = fmt.Sprintf("cursor-%d", end)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "total": len(f.subs), "pagination": pagination})

	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		f.created = append(f.created, req)
		req["id"] = fmt.Sprintf("new-%d", len(f.created))
		req["status"] = "webhook_callback_verification_pending"
		delete(req["transport"].(map[string]any), "secret")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{req}})

	case r.URL.Path == "/eventsub/subscriptions" && r.Method == http.MethodDelete:
		id := r.URL.Query().Get("id")
		if _, ok := f.subs[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Not Found","status":404,"message":"subscription not found"}`))
			return
		}
		delete(f.subs, id)
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/streams":
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.streams, "pagination": map[string]any{}})

	case r.URL.Path == "/users":
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{
			"id": r.URL.Query().Get("id"), "login": "streamer", "display_name": "Streamer", "profile_image_url": "https://img/p.png",
		}}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeHelix) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	tokens := NewAppTokenCache("test-client-id", "test-client-secret", clockwork.NewFakeClockAt(time.Now()), WithTokenURL(srv.URL+"/oauth2/token"))
	return NewClient("test-client-id", tokens, "test-eventsub-secret", WithAPIBaseURL(srv.URL))
}

func TestClient_ListSubscriptions_FollowsPagination(t *testing.T) {
	fake := newFakeHelix()
	fake.pageSize = 2
	for i := range 5 {
		fake.addSub(fmt.Sprintf("sub-%d", i), "stream.online", "enabled", fmt.Sprintf("b%d", i))
	}
	client := newTestClient(t, fake)

	subs, err := client.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 5)
	assert.Equal(t, "sub-0", subs[0].ID)
	assert.Equal(t, "b4", subs[4].BroadcasterUserID)
	assert.Equal(t, domain.EventStreamOnline, subs[0].Type)
	assert.True(t, subs[0].Enabled())
	assert.Equal(t, 2024, subs[0].CreatedAt.Year())
}

func TestClient_CreateSubscription_SendsWebhookTransport(t *testing.T) {
	fake := newFakeHelix()
	client := newTestClient(t, fake)

	sub, err := client.CreateSubscription(context.Background(), domain.EventSubRequest{
		Type:              domain.EventStreamOffline,
		BroadcasterUserID: "T123",
		Callback:          "https://pulsebanner.example.com/api/twitch/notification/stream.offline/u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", sub.ID)
	assert.Equal(t, "T123", sub.BroadcasterUserID)

	require.Len(t, fake.created, 1)
	req := fake.created[0]
	assert.Equal(t, "stream.offline", req["type"])
	assert.Equal(t, "1", req["version"])
	transport := req["transport"].(map[string]any)
	assert.Equal(t, "webhook", transport["method"])
	assert.Equal(t, "https://pulsebanner.example.com/api/twitch/notification/stream.offline/u1", transport["callback"])
	assert.Equal(t, "test-eventsub-secret", transport["secret"])
	assert.Equal(t, "T123", req["condition"].(map[string]any)["broadcaster_user_id"])
}

func TestClient_DeleteSubscription(t *testing.T) {
	fake := newFakeHelix()
	fake.addSub("sub-1", "stream.online", "enabled", "T123")
	client := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, client.DeleteSubscription(ctx, "sub-1"))
	assert.Equal(t, []string{"sub-1"}, fake.deleted)

	// Deleting something Twitch no longer has is not an error.
	require.NoError(t, client.DeleteSubscription(ctx, "sub-1"))
}

func TestClient_SubscriptionChangesAreNotRetried(t *testing.T) {
	fake := newFakeHelix()
	fake.addSub("sub-1", "stream.online", "enabled", "T123")
	fake.failures["POST /eventsub/subscriptions"] = []int{http.StatusServiceUnavailable}
	fake.failures["DELETE /eventsub/subscriptions"] = []int{http.StatusTooManyRequests}
	client := newTestClient(t, fake)
	ctx := context.Background()

	_, err := client.CreateSubscription(ctx, domain.EventSubRequest{
		Type: domain.EventStreamOnline, BroadcasterUserID: "T123", Callback: "https://example.com/cb",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, 1, fake.attempts["POST /eventsub/subscriptions"])
	assert.Empty(t, fake.created)

	err = client.DeleteSubscription(ctx, "sub-1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, time.Unix(1, 0), apiErr.Reset)
	assert.Equal(t, 1, fake.attempts["DELETE /eventsub/subscriptions"])
	assert.Empty(t, fake.deleted)
}

func TestAPIError_RetryAfter(t *testing.T) {
	assert.Zero(t, (&APIError{}).RetryAfter())
	assert.Positive(t, (&APIError{Reset: time.Now().Add(time.Minute)}).RetryAfter())
	assert.Equal(t, time.Unix(1700000000, 0), rateLimitReset(http.Header{"Ratelimit-Reset": []string{"1700000000"}}))
	assert.True(t, rateLimitReset(http.Header{"Ratelimit-Reset": []string{"soon"}}).IsZero())
}

func TestClient_RetriesOnceAfterUnauthorized(t *testing.T) {
	fake := newFakeHelix()
	fake.rejectTokens["Bearer tok-1"] = true
	fake.addSub("sub-1", "stream.online", "enabled", "T123")
	client := newTestClient(t, fake)

	subs, err := client.ListSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, fake.authHeaders)
}

func TestClient_UnauthorizedTwiceFails(t *testing.T) {
	fake := newFakeHelix()
	fake.rejectTokens["Bearer tok-1"] = true
	fake.rejectTokens["Bearer tok-2"] = true
	client := newTestClient(t, fake)

	_, err := client.ListSubscriptions(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid OAuth token", apiErr.Message)
}

func TestClient_GetStream(t *testing.T) {
	fake := newFakeHelix()
	client := newTestClient(t, fake)
	ctx := context.Background()

	_, err := client.GetStream(ctx, "T123")
	assert.ErrorIs(t, err, domain.ErrStreamNotLive)

	fake.streams = []map[string]any{{
		"id":            "stream-1",
		"user_id":       "T123",
		"user_login":    "streamer",
		"user_name":     "Streamer",
		"title":         "Speedruns",
		"viewer_count":  42,
		"started_at":    "2024-05-01T12:00:00Z",
		"thumbnail_url": "https://static-cdn.jtvnw.net/previews-ttv/live_user_streamer-{width}x{height}.jpg",
	}}
	stream, err := client.GetStream(ctx, "T123")
	require.NoError(t, err)
	assert.Equal(t, "stream-1", stream.ID)
	assert.Equal(t, 42, stream.ViewerCount)
	assert.Equal(t, "https://static-cdn.jtvnw.net/previews-ttv/live_user_streamer-1280x720.jpg", stream.ThumbnailURL)
}

func TestClient_GetUser(t *testing.T) {
	client := newTestClient(t, newFakeHelix())

	user, err := client.GetUser(context.Background(), "T123")
	require.NoError(t, err)
	assert.Equal(t, "T123", user.ID)
	assert.Equal(t, "streamer", user.Login)
}

func TestClient_RespectsContextCancel(t *testing.T) {
	client := newTestClient(t, newFakeHelix())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListSubscriptions(ctx)
	assert.Error(t, err)
}
