// Package testhelpers assembles a complete chat server stack for the
// integration tests and provides helpers for talking to it over HTTP and
// WebSocket.
//
// The stack uses the shared variants of every store on an in-process
// Redis-protocol server, a temporary SQLite database and the in-memory
// bus, so the tests exercise the same code paths as a multi-node
// deployment without any external service.
package testhelpers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb/chatdbtest"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/keyedstore"
	"github.com/Tyrowin/nexus-chat-server/internal/membership"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/ratelimit"
	"github.com/Tyrowin/nexus-chat-server/internal/readstatus"
	"github.com/Tyrowin/nexus-chat-server/internal/server"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore/sharedstoretest"
)

// TestOrigin is the browser origin every helper dials with.
const TestOrigin = "http://localhost:8080"

// Seeded fixture ids.
const (
	Alice = "alice"
	Bob   = "bob"
	Carol = "carol"

	Room     = "general"
	Message1 = "m1"
	Message2 = "m2"
	FileName = "report.pdf"
)

// Env is a running server with its collaborators exposed for assertions.
type Env struct {
	DB        *chatdb.DB
	Auth      *session.Authenticator
	Presence  *presence.Tracker
	Metrics   *metrics.Registry
	Miniredis *miniredis.Miniredis
	Server    *server.Server
	HTTP      *httptest.Server
}

// Config customizes NewEnv.
type Config struct {
	Server       server.Options
	MaxPerWindow int64
}

// NewEnv seeds the fixture and starts the server. Alice created the room
// and posted m1 and m2; Bob is a participant; Carol is not. The file is
// attached to a message in the room.
func NewEnv(t *testing.T, customize func(*Config)) *Env {
	t.Helper()

	cfg := Config{
		Server: server.Options{
			AllowedOrigins: []string{TestOrigin},
			MetricsPath:    "/metrics",
		},
	}
	if customize != nil {
		customize(&cfg)
	}

	client, mr := sharedstoretest.New(t)
	db := chatdbtest.Open(t)
	seed(t, db)

	auth, err := session.NewAuthenticator(
		session.NewSharedStore(client, 0, nil),
		session.AuthConfig{Secret: []byte("integration-secret"), SingleSession: true},
		nil,
	)
	require.NoError(t, err)

	messenger := bus.NewInMem()
	channels := dispatch.NewChannels(messenger, "it", nil)
	reg := metrics.New()
	tracker := presence.New(keyedstore.NewShared(client), "it-node", nil)
	rooms := membership.New(db, nil)

	disp := dispatch.New(dispatch.Deps{
		Sessions:     auth,
		Limiter:      ratelimit.NewShared(client, 0, nil),
		MaxPerWindow: cfg.MaxPerWindow,
		Reads:        readstatus.New(db, channels, nil),
		Rooms:        rooms,
		Presence:     tracker,
		Metrics:      reg,
	})

	srv := server.New(server.Deps{
		Options:  cfg.Server,
		Sessions: auth,
		Handler:  disp,
		Channels: channels,
		Presence: tracker,
		Files:    rooms,
		Checks: []server.HealthCheck{
			{Name: "store", Check: client.Ping},
			{Name: "database", Check: db.Ping},
		},
		Metrics: reg,
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = messenger.Close()
	})
	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
	})

	return &Env{
		DB:        db,
		Auth:      auth,
		Presence:  tracker,
		Metrics:   reg,
		Miniredis: mr,
		Server:    srv,
		HTTP:      ts,
	}
}

func seed(t *testing.T, db *chatdb.DB) {
	t.Helper()
	ctx := context.Background()

	for _, u := range []chat.User{
		{ID: Alice, Name: "Alice", Email: "alice@example.com"},
		{ID: Bob, Name: "Bob", Email: "bob@example.com"},
		{ID: Carol, Name: "Carol", Email: "carol@example.com"},
	} {
		require.NoError(t, db.CreateUser(ctx, u))
	}
	require.NoError(t, db.CreateRoom(ctx, chat.Room{ID: Room, Name: "General", CreatorID: Alice, ParticipantIDs: []string{Bob}}))
	require.NoError(t, db.CreateMessage(ctx, chat.Message{ID: Message1, RoomID: Room, SenderID: Alice, Content: "hello"}))
	require.NoError(t, db.CreateMessage(ctx, chat.Message{ID: Message2, RoomID: Room, SenderID: Alice, Content: "anyone?"}))
	require.NoError(t, db.CreateFile(ctx, chat.File{ID: "f1", Filename: FileName, UploaderID: Alice, Path: "uploads/report.pdf"}))
	require.NoError(t, db.CreateMessage(ctx, chat.Message{ID: "m3", RoomID: Room, SenderID: Alice, Type: "file", FileID: "f1"}))
}

// Login issues a session token for userID.
func (e *Env) Login(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.Auth.Login(context.Background(), userID, session.Meta{UserAgent: "integration-test"})
	require.NoError(t, err)
	return token
}

// WSURL returns the WebSocket endpoint carrying token.
func (e *Env) WSURL(token string) string {
	u, _ := url.Parse(e.HTTP.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// DialRaw opens a WebSocket with the given origin and returns the
// handshake response alongside any error.
func (e *Env) DialRaw(token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(e.WSURL(token), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Connect dials as token's user and waits until the hub has registered
// the connection, so no event on the user's channel can be missed.
func (e *Env) Connect(t *testing.T, userID, token string) *websocket.Conn {
	t.Helper()
	before := e.Server.Hub().Connections(userID)

	conn, _, err := e.DialRaw(token, TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return e.Server.Hub().Connections(userID) == before+1
	}, 5*time.Second, 5*time.Millisecond, "connection of %s not registered", userID)
	return conn
}

// SendEvent writes one event frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := dispatch.NewEnvelope(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// ReadEvent reads the next event frame, failing after five seconds.
func ReadEvent(t *testing.T, conn *websocket.Conn) dispatch.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env dispatch.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ExpectNoEvent asserts that nothing arrives on conn within timeout. A
// timed-out connection cannot be read again, so call it last.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, got %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of events: %v", err)
}

// MakeRequest executes an HTTP request with an optional bearer token.
func MakeRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// AssertStatusCode checks the response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status for %s %s", resp.Request.Method, resp.Request.URL.Path)
}
