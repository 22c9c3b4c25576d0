package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/pkg/fetcher"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/manifest"
	"github.com/cuberecall/packsync/pkg/retry"
	"github.com/cuberecall/packsync/pkg/syncerr"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency bounds downloads of pack files.
	DefaultConcurrency = 3
	// AssetConcurrency bounds downloads of many small asset or library files.
	AssetConcurrency = 10

	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second

	partSuffix = ".part"
)

// partPattern names a hidden temp file next to dest. The random component
// keeps it distinct from any manifest path and from concurrent attempts.
func partPattern(dest string) string {
	return "." + filepath.Base(dest) + ".*" + partSuffix
}

// Downloader fetches manifest entries into a directory, verifying each file
// against its declared digest before it becomes visible.
type Downloader struct {
	Concurrency int
	Attempts    int
	BaseDelay   time.Duration
	Timeout     time.Duration
	Hasher      *checksum.StreamHasher
	Logger      logger.Logger

	// InFlightHook, when set, is called with +1 as a download starts and -1
	// as it finishes.
	InFlightHook func(delta int)
}

func (d *Downloader) concurrency() int {
	if d.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return d.Concurrency
}

func (d *Downloader) attempts() int {
	if d.Attempts <= 0 {
		return DefaultAttempts
	}
	return d.Attempts
}

func (d *Downloader) timeout() time.Duration {
	if d.Timeout <= 0 {
		return fetcher.DefaultTimeout
	}
	return d.Timeout
}

func (d *Downloader) baseDelay() time.Duration {
	if d.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return d.BaseDelay
}

func (d *Downloader) hasher() *checksum.StreamHasher {
	if d.Hasher == nil {
		return checksum.Default
	}
	return d.Hasher
}

func (d *Downloader) logger() logger.Logger {
	if d.Logger == nil {
		return logger.NullLogger{}
	}
	return d.Logger
}

// DownloadAll downloads every entry under destRoot. onEach is called after
// each successful file; calls never overlap. Every failed entry is reported
// in the returned *syncerr.SyncError.
func (d *Downloader) DownloadAll(ctx context.Context, entries []manifest.Entry, destRoot string, onEach func(manifest.Entry)) error {
	var (
		mu       sync.Mutex
		failures []syncerr.Failure
	)

	// Failures are collected rather than returned so one bad file does not
	// cancel its siblings.
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency())

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if d.InFlightHook != nil {
				d.InFlightHook(1)
				defer d.InFlightHook(-1)
			}

			err := d.download(ctx, entry, destRoot)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger().Error("download", entry.Path, err)
				failures = append(failures, syncerr.Failure{Path: entry.Path, Err: err})
				return nil
			}
			if onEach != nil {
				onEach(entry)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
		return &syncerr.SyncError{Failures: failures}
	}
	return nil
}

func (d *Downloader) download(ctx context.Context, entry manifest.Entry, destRoot string) error {
	dest, err := manifest.Resolve(destRoot, entry.Path)
	if err != nil {
		return err
	}

	d.logger().Download(entry.Path, entry.URL)

	newClient := func() (*fetcher.Client, error) {
		return fetcher.New(fetcher.WithTimeout(d.timeout())), nil
	}
	_, err = retry.Do(ctx, "download "+entry.Path, retry.Options{
		MaxRetries: d.attempts(),
		Timeout:    d.timeout(),
		Backoff:    retry.Exponential(d.baseDelay()),
	}, newClient, func(ctx context.Context, client *fetcher.Client) (struct{}, error) {
		return struct{}{}, d.fetchOnce(ctx, client, entry, dest)
	})
	return err
}

// fetchOnce streams entry.URL into a temp file beside dest, checks the
// digest and renames the file into place. No partial file survives a failure.
func (d *Downloader) fetchOnce(ctx context.Context, client *fetcher.Client, entry manifest.Entry, dest string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &syncerr.IOError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	f, err := os.CreateTemp(filepath.Dir(dest), partPattern(dest))
	if err != nil {
		return &syncerr.IOError{Op: "create", Path: dest, Err: err}
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	// CreateTemp uses 0600
	if err := f.Chmod(0o644); err != nil {
		return &syncerr.IOError{Op: "chmod", Path: tmp, Err: err}
	}

	body, err := client.Open(ctx, entry.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	tee := d.hasher().NewTeeReader(body)
	if _, err := io.Copy(f, tee); err != nil {
		var coded syncerr.Coded
		if errors.As(err, &coded) {
			return err
		}
		return &syncerr.IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &syncerr.IOError{Op: "close", Path: tmp, Err: err}
	}

	got, err := tee.Sum()
	if err != nil {
		return &syncerr.IOError{Op: "hash", Path: tmp, Err: err}
	}
	if !checksum.Equal(got, entry.Digest) {
		return &syncerr.IntegrityError{
			Path:   entry.Path,
			Want:   entry.Digest,
			Got:    got,
			Reason: syncerr.ErrDigestMismatch,
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return &syncerr.IOError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// String describes the downloader settings for debug logs.
func (d *Downloader) String() string {
	return fmt.Sprintf("concurrency=%d attempts=%d base_delay=%s timeout=%s", d.concurrency(), d.attempts(), d.baseDelay(), d.timeout())
}
