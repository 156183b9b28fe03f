package directory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	entry := Entry{
		ServerID:     "srv-A",
		Endpoint:     "wss://a.example.org/ws",
		PublicKey:    "pk-a",
		Region:       "eu-west",
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
		LastSeen:     time.Unix(1700000100, 0).UTC(),
	}
	require.NoError(t, store.Save(entry))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[0])
}

func TestBoltStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	entry := Entry{ServerID: "srv-A", Endpoint: "wss://a.example.org"}
	require.NoError(t, store.Save(entry))
	entry.Endpoint = "wss://a2.example.org"
	require.NoError(t, store.Save(entry))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wss://a2.example.org", entries[0].Endpoint)
}

func TestBoltStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(Entry{ServerID: "srv-A", Endpoint: "wss://a.example.org"}))
	require.NoError(t, store.Delete("srv-A"))
	require.NoError(t, store.Delete("srv-A")) // idempotent

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(Entry{ServerID: "srv-A", Endpoint: "wss://a.example.org"}))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMemStore(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Save(Entry{ServerID: "srv-A"}))
	require.NoError(t, store.Save(Entry{ServerID: "srv-B"}))
	require.NoError(t, store.Delete("srv-A"))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv-B", entries[0].ServerID)
}
