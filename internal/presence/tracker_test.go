package presence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/keyedstore"
	"github.com/Tyrowin/nexus-chat-server/internal/presence"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore/sharedstoretest"
)

func runTrackerContract(t *testing.T, tr *presence.Tracker) {
	ctx := context.Background()

	t.Run("connect and lookup", func(t *testing.T) {
		require.NoError(t, tr.Connect(ctx, "alice", "c1"))
		c, ok, err := tr.Lookup(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "c1", c.ConnectionID)
		assert.Equal(t, "node-1", c.Node)

		_, ok, err = tr.Lookup(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rooms", func(t *testing.T) {
		rooms, err := tr.JoinRoom(ctx, "alice", "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, rooms)

		rooms, err = tr.JoinRoom(ctx, "alice", "r2")
		require.NoError(t, err)
		rooms, err = tr.JoinRoom(ctx, "alice", "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r2"}, rooms)

		rooms, err = tr.LeaveRoom(ctx, "alice", "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"r2"}, rooms)

		rooms, err = tr.LeaveRoom(ctx, "alice", "missing")
		require.NoError(t, err)
		assert.Equal(t, []string{"r2"}, rooms)

		n, err := tr.Records(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("stale disconnect keeps newer connection", func(t *testing.T) {
		require.NoError(t, tr.Connect(ctx, "alice", "c2"))

		cleared, err := tr.Disconnect(ctx, "alice", "c1")
		require.NoError(t, err)
		assert.False(t, cleared)

		c, ok, err := tr.Lookup(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "c2", c.ConnectionID)
	})

	t.Run("disconnect clears user", func(t *testing.T) {
		cleared, err := tr.Disconnect(ctx, "alice", "c2")
		require.NoError(t, err)
		assert.True(t, cleared)

		_, ok, err := tr.Lookup(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)

		rooms, err := tr.Rooms(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, rooms)

		n, err := tr.Records(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// TestTrackerLocal runs presence on the in-process store.
func TestTrackerLocal(t *testing.T) {
	runTrackerContract(t, presence.New(keyedstore.NewLocal(), "node-1", nil))
}

// TestTrackerShared runs presence on the shared store and checks that two
// processes observe the same records.
func TestTrackerShared(t *testing.T) {
	client, _ := sharedstoretest.New(t)
	runTrackerContract(t, presence.New(keyedstore.NewShared(client), "node-1", nil))

	ctx := context.Background()
	a := presence.New(keyedstore.NewShared(client), "node-a", nil)
	b := presence.New(keyedstore.NewShared(client), "node-b", nil)

	require.NoError(t, a.Connect(ctx, "carol", "c9"))
	c, ok, err := b.Lookup(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-a", c.Node)
}

// TestTrackerStoreError surfaces store failures to the caller.
func TestTrackerStoreError(t *testing.T) {
	client, mr := sharedstoretest.New(t)
	tr := presence.New(keyedstore.NewShared(client), "node-1", nil)

	mr.SetError("READONLY replica")
	assert.Error(t, tr.Connect(context.Background(), "alice", "c1"))
	_, err := tr.Rooms(context.Background(), "alice")
	assert.Error(t, err)
}
