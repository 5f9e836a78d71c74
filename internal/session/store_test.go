package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "file"))
	require.NoError(t, err)

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Backend{
		BackendFile:   fileStore,
		BackendSQLite: sqliteStore,
	}
}

func TestStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "state.json")
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err := store.Exists(ctx, "state.json")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Save(ctx, "state.json", []byte(`{"v":1}`)))
			require.NoError(t, store.Save(ctx, "state.json", []byte(`{"v":2}`)))

			data, err := store.Load(ctx, "state.json")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(data))

			ok, err = store.Exists(ctx, "state.json")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, store.Delete(ctx, "state.json"))
			assert.ErrorIs(t, store.Delete(ctx, "state.json"), ErrNotFound)
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"state.json", "archive/b.json", "archive/a.json", "request.json"} {
				require.NoError(t, store.Save(ctx, key, []byte("x")))
			}

			keys, err := store.List(ctx, "archive/")
			require.NoError(t, err)
			assert.Equal(t, []string{"archive/a.json", "archive/b.json"}, keys)

			keys, err = store.List(ctx, "")
			require.NoError(t, err)
			assert.Contains(t, keys, "state.json")
			assert.Contains(t, keys, "request.json")
			assert.Len(t, keys, 4)

			keys, err = store.List(ctx, "nothing/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, store.Save(ctx, "counter", []byte(fmt.Sprint(i))))
				}()
			}
			wg.Wait()

			data, err := store.Load(ctx, "counter")
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside", "a/../../b", "/"} {
		err := store.Save(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
	assert.Empty(t, store.Path("../x"))
	assert.Equal(t, filepath.Join(store.Dir(), "archive", "a.json"), store.Path("archive/a.json"))
}

func TestFileStore_ListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "state.json", []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"123"), []byte("partial"), 0644))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"state.json"}, keys)
}

func TestAtomicWriteFile_LeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.json")

	require.NoError(t, AtomicWriteFile(target, []byte("hello"), 0600))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFile_MissingDir(t *testing.T) {
	err := AtomicWriteFile(filepath.Join(t.TempDir(), "missing", "out"), []byte("x"), 0644)
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenSQLite(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "state.json", []byte("persisted")))
	require.NoError(t, store.Close())

	assert.FileExists(t, filepath.Join(dir, DBFileName))

	store, err = OpenSQLite(dir)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	data, err := store.Load(ctx, "state.json")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
	assert.Equal(t, dir, store.Dir())
}

func TestOpen(t *testing.T) {
	b, err := Open(t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, b)

	b, err = Open(t.TempDir(), BackendSQLite)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, b)
	require.NoError(t, b.Close())

	_, err = Open(t.TempDir(), "redis")
	assert.Error(t, err)
}

func TestIsBusyError(t *testing.T) {
	assert.False(t, IsBusyError(errors.New("plain")))
	assert.False(t, IsBusyError(nil))
}
