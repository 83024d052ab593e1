package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Tyrowin/nexus-chat-server/internal/config"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/membership"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/readstatus"
	"github.com/Tyrowin/nexus-chat-server/internal/server"
	"github.com/Tyrowin/nexus-chat-server/internal/session"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "chat-server",
		Usage: "Chat presence and read-state coordination server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"CHAT_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the WebSocket and HTTP server",
				Action: serve,
			},
			{
				Name:  "token",
				Usage: "Log an existing user in and print the session token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user-id",
						Aliases:  []string{"u"},
						Usage:    "User ID",
						Required: true,
					},
				},
				Action: issueToken,
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	return cfg, log, nil
}

func serve(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("shutdown left resources open", "error", err)
		}
	}()

	messenger, err := st.messenger(log)
	if err != nil {
		return err
	}
	st.onClose(messenger.Close)

	channels := dispatch.NewChannels(messenger, cfg.Bus.SubjectPrefix, log)
	rooms := membership.New(st.db, log)
	tracker := presence.New(st.keyed, st.node, log)

	disp := dispatch.New(dispatch.Deps{
		Sessions:     st.auth,
		Limiter:      st.limiter,
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Reads:        readstatus.New(st.db, channels, log),
		Rooms:        rooms,
		Presence:     tracker,
		Metrics:      st.metrics,
		Log:          log,
	})

	opts := server.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		Throttle: server.ThrottleOptions{
			Burst:          cfg.Server.Throttle.Burst,
			RefillInterval: cfg.Server.Throttle.RefillInterval,
		},
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}

	srv := server.New(server.Deps{
		Options:  opts,
		Sessions: st.auth,
		Handler:  disp,
		Channels: channels,
		Presence: tracker,
		Files:    rooms,
		Checks:   st.healthChecks(),
		Metrics:  st.metrics,
		Log:      log,
	})

	if st.documents != nil {
		go sweepSessions(ctx, st.documents, cfg.Session.SweepInterval, log)
	}

	log.Info("chat server starting",
		"addr", cfg.Server.Addr,
		"node", st.node,
		"store", cfg.Store.Driver,
		"sessions", cfg.Session.Backend,
		"ratelimit", cfg.RateLimit.Backend,
		"bus", cfg.Bus.Driver,
	)
	return srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout)
}

// sweepSessions removes expired document sessions, which carry no TTL of
// their own.
func sweepSessions(ctx context.Context, store *session.DocumentStore, every time.Duration, log logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := store.Sweep(ctx, now.UTC()); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("session sweep failed", "op", "sweep", "error", err)
			}
		}
	}
}

func issueToken(c *cli.Context) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Session.Secret == "" {
		return errors.New("session.secret must be configured to issue tokens the server will accept")
	}

	st, err := build(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	userID := c.String("user-id")
	if _, err := membership.New(st.db, log).RequireUser(c.Context, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}

	token, sess, err := st.auth.Login(c.Context, userID, session.Meta{UserAgent: "chat-server token"})
	if err != nil {
		return err
	}
	log.Info("session issued", "userId", userID, "sessionId", sess.SessionID, "expiresAt", sess.ExpiresAt)
	_, err = fmt.Fprintln(c.App.Writer, token)
	return err
}
