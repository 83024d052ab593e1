package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

// Claims identify a session. The token never carries an expiry of its own;
// the session record decides validity and is renewed on every use.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Meta is client information recorded with a new session.
type Meta struct {
	UserAgent string
	IPAddress string
}

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	Secret []byte
	TTL    time.Duration
	// SingleSession removes a user's earlier sessions on login.
	SingleSession bool
}

// Authenticator turns logins into stored sessions plus signed tokens and
// maps tokens presented later back to a live session.
type Authenticator struct {
	store  Store
	cfg    AuthConfig
	log    logger.Logger
	now    func() time.Time
	newSID func() string
}

func NewAuthenticator(store Store, cfg AuthConfig, log logger.Logger) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("session: token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Authenticator{
		store:  store,
		cfg:    cfg,
		log:    logger.OrNop(log).With("component", "auth"),
		now:    time.Now,
		newSID: uuid.NewString,
	}, nil
}

// Login creates and stores a session for userID and returns its token.
func (a *Authenticator) Login(ctx context.Context, userID string, meta Meta) (string, *Session, error) {
	if userID == "" {
		return "", nil, chat.ErrInvalidRequest.WithMessage("user id is required")
	}

	if a.cfg.SingleSession {
		if err := a.store.DeleteAll(ctx, userID); err != nil {
			return "", nil, chat.ErrStoreUnavailable.Wrap(err)
		}
	}

	now := a.now().UTC()
	sess, err := a.store.Save(ctx, &Session{
		UserID:       userID,
		SessionID:    a.newSID(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(a.cfg.TTL),
		LastActivity: now,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
	})
	if err != nil {
		return "", nil, chat.ErrStoreUnavailable.Wrap(err)
	}

	token, err := a.sign(sess, now)
	if err != nil {
		return "", nil, err
	}

	a.log.Info("session created", "op", "login", "userId", userID, "sessionId", sess.SessionID)
	return token, sess, nil
}

func (a *Authenticator) sign(sess *Session, now time.Time) (string, error) {
	claims := Claims{
		SessionID: sess.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sess.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return token, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, chat.ErrUnauthorized
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, chat.ErrUnauthorized.Wrap(err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, chat.ErrUnauthorized
	}
	return claims, nil
}

// Validate resolves token to its live session and renews it. Any failure,
// including a store error, is returned and must be treated as a denial.
func (a *Authenticator) Validate(ctx context.Context, token string) (*Session, error) {
	claims, err := a.parse(token)
	if err != nil {
		return nil, err
	}

	sess, err := a.store.FindByUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, chat.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, chat.ErrUnauthorized.Wrap(err)
	}
	if sess.SessionID != claims.SessionID {
		return nil, chat.ErrUnauthorized.Wrap(chat.ErrSessionNotFound)
	}

	now := a.now().UTC()
	if sess.Expired(now) {
		if err := a.store.Delete(ctx, sess.UserID, sess.SessionID); err != nil {
			a.log.Warn("expired session not removed", "op", "validate", "userId", sess.UserID, "error", err)
		}
		return nil, chat.ErrUnauthorized.WithMessage("Session expired")
	}

	sess.ExpiresAt = now.Add(a.cfg.TTL)
	sess.LastActivity = now
	renewed, err := a.store.Save(ctx, sess)
	if err != nil {
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}
	return renewed, nil
}

// Logout removes the session named by token.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, claims.Subject, claims.SessionID); err != nil {
		return chat.ErrStoreUnavailable.Wrap(err)
	}
	a.log.Info("session ended", "op", "logout", "userId", claims.Subject, "sessionId", claims.SessionID)
	return nil
}
