package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/Tyrowin/nexus-chat-server/internal/bus"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
	"github.com/Tyrowin/nexus-chat-server/internal/config"
	"github.com/Tyrowin/nexus-chat-server/internal/keyedstore"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/metrics"
	"github.com/Tyrowin/nexus-chat-server/internal/ratelimit"
	"github.com/Tyrowin/nexus-chat-server/internal/server"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore"
)

// stack holds the stores selected by configuration. The shared client is
// nil when the store driver is memory.
type stack struct {
	cfg       config.Config
	node      string
	shared    sharedstore.Client
	db        *chatdb.DB
	documents *session.DocumentStore
	auth      *session.Authenticator
	limiter   ratelimit.Limiter
	keyed     keyedstore.Store
	metrics   *metrics.Registry
	closers   []func() error
}

func build(ctx context.Context, cfg config.Config, log logger.Logger) (st *stack, err error) {
	st = &stack{cfg: cfg, node: cfg.Server.Node, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	if st.node == "" {
		if st.node, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("resolve node name: %w", err)
		}
	}

	if cfg.Shared() {
		st.shared, err = sharedstore.New(ctx, sharedstore.Options{
			Driver:      cfg.Store.Driver,
			Addr:        cfg.Store.Addr,
			Password:    cfg.Store.Password,
			DB:          cfg.Store.DB,
			DialTimeout: cfg.Store.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		st.onClose(st.shared.Close)
		st.keyed = keyedstore.NewShared(st.shared)
	} else {
		log.Warn("using process-local stores; run a single node only", "store", cfg.Store.Driver)
		st.keyed = keyedstore.NewLocal()
	}

	st.db, err = chatdb.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	st.onClose(st.db.Close)

	var sessions session.Store
	switch cfg.Session.Backend {
	case config.SessionShared:
		sessions = session.NewSharedStore(st.shared, cfg.Session.TTL, log)
	default:
		st.documents = session.NewDocumentStore(st.db, log)
		sessions = st.documents
	}

	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		log.Warn("session.secret is not set; tokens will not survive a restart or work across nodes")
		secret = make([]byte, 32)
		if _, err = rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	st.auth, err = session.NewAuthenticator(sessions, session.AuthConfig{
		Secret:        secret,
		TTL:           cfg.Session.TTL,
		SingleSession: cfg.Session.SingleSession,
	}, log)
	if err != nil {
		return nil, err
	}

	switch cfg.RateLimit.Backend {
	case config.RateLimitShared:
		st.limiter = ratelimit.NewShared(st.shared, cfg.RateLimit.Window, log)
	default:
		st.limiter = ratelimit.NewLocal(cfg.RateLimit.Window)
	}
	return st, nil
}

func (st *stack) messenger(log logger.Logger) (bus.Messenger, error) {
	if st.cfg.Bus.Driver != config.BusNATS {
		return bus.NewInMem(), nil
	}
	nc, err := bus.ConnectNATS(bus.NATSOptions{
		URL:  st.cfg.Bus.URL,
		Name: "chat-server/" + st.node,
	}, log)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

func (st *stack) healthChecks() []server.HealthCheck {
	checks := []server.HealthCheck{{Name: "database", Check: st.db.Ping}}
	if st.shared != nil {
		checks = append(checks, server.HealthCheck{Name: "store", Check: st.shared.Ping})
	}
	return checks
}

func (st *stack) onClose(fn func() error) {
	st.closers = append(st.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (st *stack) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		errs = append(errs, st.closers[i]())
	}
	st.closers = nil
	return errors.Join(errs...)
}
