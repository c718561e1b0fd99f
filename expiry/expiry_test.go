package expiry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/pool"
	"github.com/wolfeidau/content-drop/store"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "content"), nil)
	require.NoError(t, err)

	p := pool.New(2)
	t.Cleanup(p.Stop)

	s := NewSweeper(st, Config{
		Interval: time.Minute,
		Pool:     p,
	})
	return s, st
}

func save(t *testing.T, st *store.Store, key string, expiry time.Time) {
	t.Helper()
	st.Save(key, "text/plain", []byte("payload"), expiry.UnixMilli(), true, func(*contentdrop.Content) {})
	_, err := os.Stat(filepath.Join(st.Dir(), key))
	require.NoError(t, err)
}

func TestRunOnceDeletesExpiredRecords(t *testing.T) {
	s, st := newTestSweeper(t)

	now := time.Now()
	save(t, st, "expired", now.Add(-time.Minute))
	save(t, st, "alive01", now.Add(time.Hour))

	result := s.RunOnce(context.Background())
	require.Equal(t, 1, result.Deleted)
	require.Equal(t, 0, result.Errors)

	_, err := os.Stat(filepath.Join(st.Dir(), "expired"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(st.Dir(), "alive01"))
	require.NoError(t, err)
}

func TestRunOnceEmptyDirectory(t *testing.T) {
	s, _ := newTestSweeper(t)

	result := s.RunOnce(context.Background())
	require.Equal(t, 0, result.Deleted)
	require.Equal(t, 0, result.Errors)
}

func TestRunOnceSkipsUnreadableRecords(t *testing.T) {
	s, st := newTestSweeper(t)

	now := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "corrupt"), []byte{0x01}, 0o644))
	save(t, st, "expired", now.Add(-time.Minute))

	result := s.RunOnce(context.Background())
	require.Equal(t, 1, result.Deleted)
	require.Equal(t, 1, result.Errors)

	// The unreadable file is left alone; the expired one is gone.
	_, err := os.Stat(filepath.Join(st.Dir(), "corrupt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(st.Dir(), "expired"))
	require.True(t, os.IsNotExist(err))
}

func TestRunOnceUsesInjectedClock(t *testing.T) {
	s, st := newTestSweeper(t)

	base := time.Now()
	save(t, st, "future1", base.Add(30*time.Minute))

	s.now = func() time.Time { return base }
	result := s.RunOnce(context.Background())
	require.Equal(t, 0, result.Deleted)

	s.now = func() time.Time { return base.Add(time.Hour) }
	result = s.RunOnce(context.Background())
	require.Equal(t, 1, result.Deleted)
}

func TestStartStop(t *testing.T) {
	s, st := newTestSweeper(t)
	save(t, st, "expired", time.Now().Add(-time.Minute))

	s.Start(context.Background())
	defer s.Stop()

	// The first pass runs immediately on start.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(st.Dir(), "expired"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}
