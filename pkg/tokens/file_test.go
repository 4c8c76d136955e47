package tokens

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/taskgate/pkg/domain"
)

func TestFilePersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tokens.json")
	p, err := NewFilePersistence(path)
	require.NoError(t, err)

	_, err = p.Load(ctx)
	assert.ErrorIs(t, err, ErrNoTokens)

	pair := domain.TokenPair{AccessToken: "a1", RefreshToken: "r1"}
	require.NoError(t, p.Save(ctx, pair))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	require.NoError(t, p.Delete(ctx))
	_, err = p.Load(ctx)
	assert.ErrorIs(t, err, ErrNoTokens)

	require.NoError(t, p.Delete(ctx), "deleting twice is fine")
}

func TestFilePersistenceRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	p, err := NewFilePersistence(path)
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTokens)
}

func TestFilePersistenceWatchReportsExternalWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	p, err := NewFilePersistence(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, discardLogger(), func() { changes.Add(1) })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	other, err := NewFilePersistence(path)
	require.NoError(t, err)
	require.NoError(t, other.Save(context.Background(), domain.TokenPair{AccessToken: "a1"}))

	require.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestStoreFollowsFileChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	p, err := NewFilePersistence(path)
	require.NoError(t, err)

	store := newTestStore(t, p, nil)
	require.NoError(t, store.Set(ctx, domain.TokenPair{AccessToken: "a1"}))

	require.NoError(t, os.WriteFile(path, []byte(`{"accessToken":"a2","refreshToken":"r2"}`), 0o600))
	require.NoError(t, store.Reload(ctx))

	pair, ok := store.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, "a2", pair.AccessToken)
}
