// Package chatdbtest opens throwaway chat databases for tests.
package chatdbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
)

// Open creates an empty database in the test's temp dir and closes it when
// the test ends.
func Open(t *testing.T) *chatdb.DB {
	t.Helper()

	db, err := chatdb.Open(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
