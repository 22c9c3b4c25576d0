package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/gofrs/flock"
)

const lockSuffix = ".packsync.lock"

// RunFunc is the work a Session performs.
type RunFunc func(ctx context.Context) (*Result, error)

// Manager hands out at most one in-flight Session per directory.
type Manager struct {
	// LockFiles additionally takes an exclusive file lock beside each
	// directory so other processes are kept out as well.
	LockFiles bool

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(lockFiles bool) *Manager {
	return &Manager{LockFiles: lockFiles, sessions: make(map[string]*Session)}
}

// Session is a handle to one running sync pass.
type Session struct {
	Dir string

	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Cancel aborts the pass. Wait still has to be called to observe the end.
func (s *Session) Cancel() { s.cancel() }

// Done is closed when the pass has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the pass finishes and returns its outcome.
func (s *Session) Wait() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// LockPath returns the lock file used for dir.
func LockPath(dir string) string {
	return filepath.Clean(dir) + lockSuffix
}

// Start launches run for dir. If a session for dir is already in flight it
// is returned together with syncerr.ErrSyncInProgress; the caller may Wait
// on it to join.
func (m *Manager) Start(ctx context.Context, dir string, run RunFunc) (*Session, error) {
	key, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions == nil {
		m.sessions = make(map[string]*Session)
	}
	if existing, ok := m.sessions[key]; ok {
		return existing, syncerr.ErrSyncInProgress
	}

	var lock *flock.Flock
	if m.LockFiles {
		if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
			return nil, &syncerr.IOError{Op: "mkdir", Path: filepath.Dir(key), Err: err}
		}
		lock = flock.New(LockPath(key))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, &syncerr.IOError{Op: "lock", Path: lock.Path(), Err: err}
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", syncerr.ErrDirLocked, key)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{Dir: key, cancel: cancel, done: make(chan struct{})}
	m.sessions[key] = s

	go func() {
		defer cancel()
		s.result, s.err = run(runCtx)

		if lock != nil {
			if err := lock.Unlock(); err != nil {
				slog.Warn("failed to release lock", "path", lock.Path(), "error", err)
			}
		}

		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		close(s.done)
	}()

	return s, nil
}

// Active reports whether a session for dir is in flight.
func (m *Manager) Active(dir string) bool {
	key, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}
