package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{" http://LOCALHOST:8080 ", "https://chat.example.com", "not a url", ""}, logger.Nop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"HTTP://localhost:8080", true},
		{"https://chat.example.com", true},
		{"https://evil.example.com", false},
		{"http://localhost:9090", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.allows(r))
		})
	}

	wildcard := newOriginPolicy([]string{"*"}, logger.Nop())
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, wildcard.allows(r))
}

func TestSanitizeOptions(t *testing.T) {
	got := sanitizeOptions(Options{MaxMessageSize: -1, Throttle: ThrottleOptions{Burst: 3}})
	assert.Equal(t, ":8080", got.Addr)
	assert.Equal(t, int64(4096), got.MaxMessageSize)
	assert.Equal(t, 3, got.Throttle.Burst)
	assert.Equal(t, 50*time.Millisecond, got.Throttle.RefillInterval)
	assert.Equal(t, 256, got.SendBuffer)
	assert.Equal(t, []string{"http://localhost:8080"}, got.AllowedOrigins)

	explicit := sanitizeOptions(Options{AllowedOrigins: []string{}})
	assert.Empty(t, explicit.AllowedOrigins, "an explicit empty list allows no origin")
}

func TestFrameThrottle(t *testing.T) {
	th := newFrameThrottle(2, time.Hour)
	assert.True(t, th.allow())
	assert.True(t, th.allow())
	assert.False(t, th.allow())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(chat.ErrUnauthorized.Wrap(errors.New("expired"))))
	assert.Equal(t, http.StatusForbidden, statusFor(chat.ErrFileAccessDenied))
	assert.Equal(t, http.StatusNotFound, statusFor(chat.ErrFileNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(chat.ErrStoreUnavailable))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(chat.ErrRateLimited))
	assert.Equal(t, http.StatusBadRequest, statusFor(chat.ErrInvalidRequest))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", requestToken(r))
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "bearer from-header")
	assert.Equal(t, "from-header", requestToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, bearerToken(r))
}

type fakeSub struct {
	mu           sync.Mutex
	unsubscribed bool
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

type fakeChannels struct {
	mu       sync.Mutex
	subs     map[string]*fakeSub
	deliver  map[string]func(dispatch.Envelope)
	failNext bool
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{subs: map[string]*fakeSub{}, deliver: map[string]func(dispatch.Envelope){}}
}

func (f *fakeChannels) SubscribeUser(_ context.Context, userID string, deliver func(dispatch.Envelope)) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("bus down")
	}
	sub := &fakeSub{}
	f.subs[userID] = sub
	f.deliver[userID] = deliver
	return sub, nil
}

func testClient(h *Hub, userID, connID string, buffer int) *Client {
	opts := sanitizeOptions(Options{SendBuffer: buffer})
	return newClient(nil, h, nil, dispatch.Caller{UserID: userID, ConnectionID: connID}, "test", opts, nil)
}

// TestHubDeliversToEveryConnectionOfUser drives the hub directly without
// its pumps.
func TestHubDeliversToEveryConnectionOfUser(t *testing.T) {
	channels := newFakeChannels()
	reg := metrics.New()
	h := NewHub(channels, reg, nil)

	a1 := testClient(h, "alice", "c1", 4)
	a2 := testClient(h, "alice", "c2", 4)
	b1 := testClient(h, "bob", "c3", 4)
	h.add(a1)
	h.add(a2)
	h.add(b1)

	assert.Equal(t, 2, h.Connections("alice"))
	assert.Len(t, channels.subs, 2, "one subscription per user")

	env, err := dispatch.NewEnvelope(dispatch.EventMessagesRead, map[string]string{"userId": "bob"})
	require.NoError(t, err)
	channels.deliver["alice"](env)

	require.Len(t, a1.send, 1)
	require.Len(t, a2.send, 1)
	assert.Empty(t, b1.send)
	assert.JSONEq(t, `{"event":"messagesRead","data":{"userId":"bob"}}`, string(<-a1.send))

	h.remove(a1)
	assert.False(t, channels.subs["alice"].unsubscribed, "alice still has a connection")
	_, open := <-a1.send
	assert.False(t, open)

	h.remove(a2)
	assert.True(t, channels.subs["alice"].unsubscribed)
	assert.Equal(t, 0, h.DeliverToUser("alice", []byte("late")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ConnectionsActive))
}

// TestHubSkipsFullBuffers keeps delivering to healthy connections when one
// connection falls behind.
func TestHubSkipsFullBuffers(t *testing.T) {
	h := NewHub(newFakeChannels(), nil, nil)
	slow := testClient(h, "alice", "slow", 1)
	fast := testClient(h, "alice", "fast", 8)
	h.add(slow)
	h.add(fast)

	assert.Equal(t, 2, h.DeliverToUser("alice", []byte("1")))
	assert.Equal(t, 1, h.DeliverToUser("alice", []byte("2")))
	assert.Len(t, fast.send, 2)
	assert.Len(t, slow.send, 1)
}

// TestHubSubscriptionFailure still registers the client so that its read
// pump can unregister it normally.
func TestHubSubscriptionFailure(t *testing.T) {
	channels := newFakeChannels()
	channels.failNext = true
	h := NewHub(channels, nil, nil)

	c := testClient(h, "alice", "c1", 1)
	h.add(c)
	assert.Equal(t, 1, h.Connections("alice"))

	h.remove(c)
	assert.Equal(t, 0, h.Connections("alice"))
}

// TestHubShutdown closes every client and stops Run.
func TestHubShutdown(t *testing.T) {
	channels := newFakeChannels()
	h := NewHub(channels, nil, nil)
	c := testClient(h, "alice", "c1", 1)
	h.add(c)

	go h.Run()
	require.NoError(t, h.Shutdown(time.Second))

	_, open := <-c.send
	assert.False(t, open)
	assert.True(t, channels.subs["alice"].unsubscribed)
	assert.False(t, h.Register(testClient(h, "bob", "c2", 1)), "a stopped hub accepts no clients")
}
