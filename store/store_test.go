package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	contentdrop "github.com/wolfeidau/content-drop"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "content"), nil)
	require.NoError(t, err)
	return st
}

func TestSaveResolvesBeforeLoad(t *testing.T) {
	st := newTestStore(t)

	var resolved *contentdrop.Content
	st.Save("abc1234", "text/plain", []byte("hello"), 1234, true, func(c *contentdrop.Content) {
		resolved = c
	})

	require.NotNil(t, resolved)
	require.Equal(t, "abc1234", resolved.Key)
	require.Equal(t, int64(1234), resolved.Expiry)

	// The resolved body is the stored (compressed) form.
	plain, err := contentdrop.Decompress(resolved.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), plain)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)

	st.Save("aB3xY9z", "application/json", []byte(`{"v":1}`), 7777, true, func(*contentdrop.Content) {})

	c, err := st.Load("aB3xY9z")
	require.NoError(t, err)
	require.Equal(t, "aB3xY9z", c.Key)
	require.Equal(t, "application/json", c.MediaType)
	require.Equal(t, int64(7777), c.Expiry)

	plain, err := contentdrop.Decompress(c.Body)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":1}`), plain)
}

func TestSavePreCompressedBodyStoredVerbatim(t *testing.T) {
	st := newTestStore(t)
	stored := contentdrop.Compress([]byte("already compressed"))

	st.Save("key0001", "text/plain", stored, 1, false, func(*contentdrop.Content) {})

	c, err := st.Load("key0001")
	require.NoError(t, err)
	require.Equal(t, stored, c.Body)
}

func TestLoadMissingReturnsEmptySentinel(t *testing.T) {
	st := newTestStore(t)

	c, err := st.Load("nothere")
	require.NoError(t, err)
	require.True(t, c.IsEmpty())

	c, err = st.LoadMeta("nothere")
	require.NoError(t, err)
	require.True(t, c.IsEmpty())
}

func TestLoadMetaOmitsBody(t *testing.T) {
	st := newTestStore(t)

	st.Save("metakey", "text/css", []byte("body {}"), 55, true, func(*contentdrop.Content) {})

	c, err := st.LoadMeta("metakey")
	require.NoError(t, err)
	require.Equal(t, "metakey", c.Key)
	require.Equal(t, "text/css", c.MediaType)
	require.Equal(t, int64(55), c.Expiry)
	require.Empty(t, c.Body)
}

func TestSaveCollisionDropsSecondWrite(t *testing.T) {
	st := newTestStore(t)

	st.Save("samekey", "text/plain", []byte("first"), 1, true, func(*contentdrop.Content) {})

	var resolved *contentdrop.Content
	st.Save("samekey", "text/plain", []byte("second"), 2, true, func(c *contentdrop.Content) {
		resolved = c
	})

	// The promise still resolves with the new content even though the
	// write is dropped.
	require.NotNil(t, resolved)
	plain, err := contentdrop.Decompress(resolved.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), plain)

	// Disk keeps the first record.
	c, err := st.Load("samekey")
	require.NoError(t, err)
	plain, err = contentdrop.Decompress(c.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), plain)
}

func TestDeleteAndKeys(t *testing.T) {
	st := newTestStore(t)

	st.Save("key1111", "text/plain", []byte("one"), 1, true, func(*contentdrop.Content) {})
	st.Save("key2222", "text/plain", []byte("two"), 2, true, func(*contentdrop.Content) {})

	keys, err := st.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"key1111", "key2222"}, keys)

	require.NoError(t, st.Delete("key1111"))

	keys, err = st.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"key2222"}, keys)
}

func TestLoadCorruptRecordPropagatesError(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "corrupt"), []byte{0xff}, 0o644))

	_, err := st.Load("corrupt")
	require.Error(t, err)
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "content")

	_, err := New(dir, nil)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
