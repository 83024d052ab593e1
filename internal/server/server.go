package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
)

// Sessions authenticates HTTP and WebSocket requests.
type Sessions interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
	Logout(ctx context.Context, token string) error
}

// FileAuthorizer decides whether a user may download an attachment.
type FileAuthorizer interface {
	AuthorizeFileAccess(ctx context.Context, filename, requesterID string) (*chat.File, error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the components the transport drives.
type Deps struct {
	Options  Options
	Sessions Sessions
	Handler  FrameHandler
	Channels UserChannels
	Presence *presence.Tracker
	Files    FileAuthorizer
	Checks   []HealthCheck
	Metrics  *metrics.Registry
	Log      logger.Logger
}

// Server is the WebSocket and HTTP surface of one process.
type Server struct {
	opts     Options
	sessions Sessions
	handler  FrameHandler
	presence *presence.Tracker
	files    FileAuthorizer
	checks   []HealthCheck
	metrics  *metrics.Registry
	origins  *originPolicy
	upgrader websocket.Upgrader
	hub      *Hub
	log      logger.Logger
}

// New builds the server and starts its hub.
func New(d Deps) *Server {
	opts := sanitizeOptions(d.Options)
	log := logger.OrNop(d.Log).With("component", "server")
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	s := &Server{
		opts:     opts,
		sessions: d.Sessions,
		handler:  d.Handler,
		presence: d.Presence,
		files:    d.Files,
		checks:   d.Checks,
		metrics:  d.Metrics,
		origins:  newOriginPolicy(opts.AllowedOrigins, log),
		hub:      NewHub(d.Channels, d.Metrics, d.Log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}

	go s.hub.Run()
	return s
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown closes every WebSocket connection and waits for the client
// goroutines, up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
