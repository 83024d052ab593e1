// Package sharedstoretest starts an in-process Redis-protocol server for
// tests of components built on sharedstore.Client.
package sharedstoretest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore"
)

// New returns a Redis driver connected to a fresh miniredis instance. The
// server is stopped and the client closed when the test ends.
func New(t *testing.T) (sharedstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := sharedstore.NewRedis(sharedstore.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}
