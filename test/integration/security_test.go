package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	th "github.com/Tyrowin/nexus-chat-server/test/testhelpers"
)

// TestWebSocketRequiresSession refuses the upgrade without a live session.
func TestWebSocketRequiresSession(t *testing.T) {
	env := th.NewEnv(t, nil)

	loggedOut := env.Login(t, th.Bob)
	resp := th.MakeRequest(t, http.MethodDelete, env.HTTP.URL+"/api/session", loggedOut)
	th.AssertStatusCode(t, resp, http.StatusNoContent)

	replaced := env.Login(t, th.Carol)
	env.Login(t, th.Carol)

	for name, token := range map[string]string{
		"missing":           "",
		"forged":            "eyJhbGciOiJIUzI1NiJ9.e30.c2lnbmF0dXJl",
		"logged out":        loggedOut,
		"replaced by login": replaced,
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := env.DialRaw(token, th.TestOrigin)
			if conn != nil {
				_ = conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

// TestOriginValidation refuses browsers from origins outside the list.
func TestOriginValidation(t *testing.T) {
	env := th.NewEnv(t, nil)
	token := env.Login(t, th.Bob)

	for name, origin := range map[string]string{
		"missing":    "",
		"disallowed": "https://evil.example.com",
		"wrong port": "http://localhost:9999",
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := env.DialRaw(token, origin)
			if conn != nil {
				_ = conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

// TestOversizedFrameClosesConnection enforces the read limit.
func TestOversizedFrameClosesConnection(t *testing.T) {
	env := th.NewEnv(t, func(c *th.Config) {
		c.Server.MaxMessageSize = 64
	})
	bob := env.Connect(t, th.Bob, env.Login(t, th.Bob))

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 512))))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return env.Server.Hub().Connections(th.Bob) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestFrameThrottleDiscardsBursts drops frames beyond the connection's
// burst without answering them.
func TestFrameThrottleDiscardsBursts(t *testing.T) {
	env := th.NewEnv(t, func(c *th.Config) {
		c.Server.Throttle.Burst = 1
		c.Server.Throttle.RefillInterval = time.Hour
	})
	bob := env.Connect(t, th.Bob, env.Login(t, th.Bob))

	th.SendEvent(t, bob, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})
	th.SendEvent(t, bob, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})

	assert.Equal(t, dispatch.EventJoinRoomSuccess, th.ReadEvent(t, bob).Event)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(env.Metrics.FramesDropped) == 1
	}, 5*time.Second, 10*time.Millisecond)
	th.ExpectNoEvent(t, bob, quiet)
}

// TestEventRateLimit answers events beyond the per-user allowance with an
// error, on every connection of the user alike.
func TestEventRateLimit(t *testing.T) {
	env := th.NewEnv(t, func(c *th.Config) {
		c.MaxPerWindow = 1
	})
	token := env.Login(t, th.Bob)
	first := env.Connect(t, th.Bob, token)
	second := env.Connect(t, th.Bob, token)

	th.SendEvent(t, first, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})
	assert.Equal(t, dispatch.EventJoinRoomSuccess, th.ReadEvent(t, first).Event)

	th.SendEvent(t, second, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})
	got := th.ReadEvent(t, second)
	require.Equal(t, dispatch.EventError, got.Event)
	assert.Equal(t, "Too many requests", decode[dispatch.ErrorPayload](t, got).Message)
}

// TestSessionCheckedOnEveryEvent denies events once the session is gone,
// even though the connection was authenticated at upgrade.
func TestSessionCheckedOnEveryEvent(t *testing.T) {
	env := th.NewEnv(t, nil)
	token := env.Login(t, th.Bob)
	bob := env.Connect(t, th.Bob, token)

	th.SendEvent(t, bob, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})
	assert.Equal(t, dispatch.EventJoinRoomSuccess, th.ReadEvent(t, bob).Event)

	resp := th.MakeRequest(t, http.MethodDelete, env.HTTP.URL+"/api/session", token)
	th.AssertStatusCode(t, resp, http.StatusNoContent)

	th.SendEvent(t, bob, dispatch.EventJoinRoom, dispatch.RoomRequest{RoomID: th.Room})
	got := th.ReadEvent(t, bob)
	require.Equal(t, dispatch.EventError, got.Event)
	assert.Equal(t, "Unauthorized", decode[dispatch.ErrorPayload](t, got).Message)
}
