package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("statement.csv", []byte("data"))
	require.NoError(t, err)
	require.Equal(t, "statement.csv", rel)

	file, err := store.Open(rel)
	require.NoError(t, err)
	info, err := file.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 4, info.Size())
	require.NoError(t, file.Close())

	require.NoError(t, store.Delete(rel))
	_, err = store.Open(rel)
	require.Error(t, err)
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.csv", []byte("data"))
	require.Error(t, err)

	_, err = store.Open("/etc/passwd")
	require.Error(t, err)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("old.csv", []byte("old"))
	require.NoError(t, err)
	oldPath := store.Path("old.csv")
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	_, err = store.Save("fresh.csv", []byte("fresh"))
	require.NoError(t, err)

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"old.csv"}, deleted)

	_, err = store.Open("fresh.csv")
	require.NoError(t, err)
}
