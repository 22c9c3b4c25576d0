package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRejectsConcurrentPass(t *testing.T) {
	m := NewManager(false)
	dir := t.TempDir()

	release := make(chan struct{})
	first, err := m.Start(context.Background(), dir, func(ctx context.Context) (*Result, error) {
		<-release
		return &Result{Downloaded: 2}, nil
	})
	require.NoError(t, err)
	assert.True(t, m.Active(dir))

	second, err := m.Start(context.Background(), dir, func(ctx context.Context) (*Result, error) {
		t.Error("second pass must not run")
		return nil, nil
	})
	require.ErrorIs(t, err, syncerr.ErrSyncInProgress)
	assert.Same(t, first, second)

	close(release)
	res, err := second.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Downloaded)
	assert.False(t, m.Active(dir))

	// The slot is free again.
	third, err := m.Start(context.Background(), dir, func(ctx context.Context) (*Result, error) {
		return &Result{}, nil
	})
	require.NoError(t, err)
	_, err = third.Wait()
	require.NoError(t, err)
}

func TestManagerDistinctDirsRunConcurrently(t *testing.T) {
	m := NewManager(false)
	a, b := t.TempDir(), t.TempDir()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	run := func(ctx context.Context) (*Result, error) {
		started <- struct{}{}
		<-release
		return &Result{}, nil
	}

	sa, err := m.Start(context.Background(), a, run)
	require.NoError(t, err)
	sb, err := m.Start(context.Background(), b, run)
	require.NoError(t, err)

	for range 2 {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("passes did not start")
		}
	}
	close(release)
	_, err = sa.Wait()
	require.NoError(t, err)
	_, err = sb.Wait()
	require.NoError(t, err)
}

func TestSessionCancel(t *testing.T) {
	m := NewManager(false)
	s, err := m.Start(context.Background(), t.TempDir(), func(ctx context.Context) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	s.Cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
	_, err = s.Wait()
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestManagerFileLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mods")

	other := flock.New(LockPath(dir))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	m := NewManager(true)
	_, err = m.Start(context.Background(), dir, func(ctx context.Context) (*Result, error) {
		t.Error("pass must not run while another process holds the lock")
		return nil, nil
	})
	require.ErrorIs(t, err, syncerr.ErrDirLocked)
	assert.False(t, m.Active(dir))

	require.NoError(t, other.Unlock())

	s, err := m.Start(context.Background(), dir, func(ctx context.Context) (*Result, error) {
		return &Result{}, nil
	})
	require.NoError(t, err)
	_, err = s.Wait()
	require.NoError(t, err)

	// Released after the pass.
	again := flock.New(LockPath(dir))
	locked, err = again.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, again.Unlock())
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, filepath.Join("game", "mods")+".packsync.lock", LockPath(filepath.Join("game", "mods")+"/"))
}
