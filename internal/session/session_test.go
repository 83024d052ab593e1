package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb/chatdbtest"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore/sharedstoretest"
)

func newSession(userID, sessionID string) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		UserID:       userID,
		SessionID:    sessionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(DefaultTTL),
		LastActivity: now,
		UserAgent:    "test-agent",
	}
}

// runStoreContract checks the round trip every backend must support.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.FindByUser(ctx, "alice")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	saved, err := store.Save(ctx, newSession("alice", "s1"))
	require.NoError(t, err)

	got, err := store.FindByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, saved.UserID, got.UserID)
	assert.Equal(t, saved.SessionID, got.SessionID)
	assert.True(t, saved.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "test-agent", got.UserAgent)

	require.NoError(t, store.Delete(ctx, "alice", "s1"))
	_, err = store.FindByUser(ctx, "alice")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	_, err = store.Save(ctx, newSession("bob", "s2"))
	require.NoError(t, err)
	require.NoError(t, store.DeleteAll(ctx, "bob"))
	_, err = store.FindByUser(ctx, "bob")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	_, err = store.Save(ctx, &Session{UserID: "carol"})
	assert.Error(t, err, "a session without id is rejected")
}

// TestSharedStore runs the contract against the shared store and checks
// the key layout and TTLs.
func TestSharedStore(t *testing.T) {
	client, mr := sharedstoretest.New(t)
	store := NewSharedStore(client, 0, nil)

	runStoreContract(t, store)

	ctx := context.Background()
	_, err := store.Save(ctx, newSession("dave", "s9"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTTL, mr.TTL("session:dave:s9"))
	assert.Equal(t, DefaultTTL, mr.TTL("user_sessions:dave"))
	members, err := mr.Members("user_sessions:dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"s9"}, members)

	mr.FastForward(DefaultTTL + time.Second)
	_, err = store.FindByUser(ctx, "dave")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound, "expired sessions vanish with their TTL")
}

// TestSharedStoreDegradedData treats corrupt or dangling entries as missing.
func TestSharedStoreDegradedData(t *testing.T) {
	client, mr := sharedstoretest.New(t)
	store := NewSharedStore(client, time.Minute, nil)
	ctx := context.Background()

	_, err := mr.SAdd("user_sessions:erin", "s1")
	require.NoError(t, err)
	_, err = store.FindByUser(ctx, "erin")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound, "set member without value")

	require.NoError(t, mr.Set("session:erin:s1", "{not json"))
	_, err = store.FindByUser(ctx, "erin")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound, "corrupt payload")
}

// TestSharedStorePicksOne keeps answering when several sessions exist.
func TestSharedStorePicksOne(t *testing.T) {
	client, _ := sharedstoretest.New(t)
	store := NewSharedStore(client, time.Minute, nil)
	ctx := context.Background()

	_, err := store.Save(ctx, newSession("frank", "a"))
	require.NoError(t, err)
	_, err = store.Save(ctx, newSession("frank", "b"))
	require.NoError(t, err)

	got, err := store.FindByUser(ctx, "frank")
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, got.SessionID)
}

// TestSharedStoreUnavailable reports store failures distinctly from absence.
func TestSharedStoreUnavailable(t *testing.T) {
	client, mr := sharedstoretest.New(t)
	store := NewSharedStore(client, time.Minute, nil)

	mr.SetError("LOADING dataset in memory")
	_, err := store.FindByUser(context.Background(), "alice")
	assert.ErrorIs(t, err, chat.ErrStoreUnavailable)
}

// TestDocumentStore runs the contract against the SQLite sessions table.
func TestDocumentStore(t *testing.T) {
	db := chatdbtest.Open(t)
	store := NewDocumentStore(db, nil)

	runStoreContract(t, store)

	ctx := context.Background()
	old := newSession("gina", "s1")
	old.ExpiresAt = time.Now().Add(-time.Hour)
	_, err := store.Save(ctx, old)
	require.NoError(t, err)

	n, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func newTestAuthenticator(t *testing.T, single bool) (*Authenticator, Store) {
	t.Helper()
	client, _ := sharedstoretest.New(t)
	store := NewSharedStore(client, time.Minute, nil)
	auth, err := NewAuthenticator(store, AuthConfig{
		Secret:        []byte("test-secret"),
		TTL:           time.Minute,
		SingleSession: single,
	}, nil)
	require.NoError(t, err)
	return auth, store
}

// TestAuthenticatorLifecycle walks login, validation with renewal and logout.
func TestAuthenticatorLifecycle(t *testing.T) {
	auth, _ := newTestAuthenticator(t, true)
	ctx := context.Background()

	clock := time.Now().UTC()
	auth.now = func() time.Time { return clock }

	token, sess, err := auth.Login(ctx, "alice", Meta{UserAgent: "ua", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "alice", sess.UserID)

	clock = clock.Add(30 * time.Second)
	got, err := auth.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.True(t, clock.Add(time.Minute).Equal(got.ExpiresAt), "validation renews the expiry")

	require.NoError(t, auth.Logout(ctx, token))
	_, err = auth.Validate(ctx, token)
	assert.ErrorIs(t, err, chat.ErrUnauthorized)
}

// TestAuthenticatorSingleSession evicts the first login when a second occurs.
func TestAuthenticatorSingleSession(t *testing.T) {
	auth, _ := newTestAuthenticator(t, true)
	ctx := context.Background()

	first, _, err := auth.Login(ctx, "alice", Meta{})
	require.NoError(t, err)
	second, _, err := auth.Login(ctx, "alice", Meta{})
	require.NoError(t, err)

	_, err = auth.Validate(ctx, first)
	assert.ErrorIs(t, err, chat.ErrUnauthorized)
	_, err = auth.Validate(ctx, second)
	assert.NoError(t, err)
}

// TestAuthenticatorRejects covers tampered, foreign and expired tokens.
func TestAuthenticatorRejects(t *testing.T) {
	auth, _ := newTestAuthenticator(t, true)
	ctx := context.Background()

	_, err := auth.Validate(ctx, "")
	assert.ErrorIs(t, err, chat.ErrUnauthorized)

	_, err = auth.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, chat.ErrUnauthorized)

	other, _ := newTestAuthenticator(t, true)
	foreign, _, err := other.Login(ctx, "alice", Meta{})
	require.NoError(t, err)
	_, err = auth.Validate(ctx, foreign)
	assert.ErrorIs(t, err, chat.ErrUnauthorized, "token signed with another secret")

	clock := time.Now().UTC()
	auth.now = func() time.Time { return clock }
	token, _, err := auth.Login(ctx, "bob", Meta{})
	require.NoError(t, err)
	clock = clock.Add(2 * time.Minute)
	_, err = auth.Validate(ctx, token)
	assert.ErrorIs(t, err, chat.ErrUnauthorized)
}

type failingStore struct{ Store }

func (failingStore) FindByUser(context.Context, string) (*Session, error) {
	return nil, chat.ErrStoreUnavailable.Wrap(errors.New("connection refused"))
}

// TestAuthenticatorDeniesOnStoreError fails closed when sessions cannot be read.
func TestAuthenticatorDeniesOnStoreError(t *testing.T) {
	auth, store := newTestAuthenticator(t, false)
	token, _, err := auth.Login(context.Background(), "alice", Meta{})
	require.NoError(t, err)

	auth.store = failingStore{Store: store}
	_, err = auth.Validate(context.Background(), token)
	assert.ErrorIs(t, err, chat.ErrStoreUnavailable)
}

// TestNewAuthenticatorNeedsSecret refuses an empty signing key.
func TestNewAuthenticatorNeedsSecret(t *testing.T) {
	_, err := NewAuthenticator(nil, AuthConfig{}, nil)
	assert.Error(t, err)
}
