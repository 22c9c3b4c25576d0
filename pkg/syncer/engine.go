// Package syncer converges a local directory onto a server manifest and
// reports staged progress while doing so.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/internal/walker"
	"github.com/cuberecall/packsync/pkg/cleaner"
	"github.com/cuberecall/packsync/pkg/executor"
	"github.com/cuberecall/packsync/pkg/fetcher"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/manifest"
	"github.com/cuberecall/packsync/pkg/planner"
	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/dustin/go-humanize"
)

type Stage string

const (
	StageChecking    Stage = "checking"
	StageCleaning    Stage = "cleaning"
	StageDeleting    Stage = "deleting"
	StageDownloading Stage = "downloading"
	StageDone        Stage = "done"
	StageError       Stage = "error"
)

// cleanedPercent is reported after the cleaner removed something.
const cleanedPercent = 5

type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type ProgressFunc func(Progress)

type Result struct {
	Downloaded int      `json:"downloaded"`
	Deleted    int      `json:"deleted"`
	Cleaned    []string `json:"cleaned,omitempty"`
	// Bytes is the declared size of everything downloaded.
	Bytes int64 `json:"bytes"`
}

// Engine runs sync passes. It holds settings only; a single Engine may run
// passes for different directories concurrently, but not for the same one.
// Use Manager to serialize passes per directory.
type Engine struct {
	Concurrency int
	Attempts    int
	BaseDelay   time.Duration
	Timeout     time.Duration
	Hasher      checksum.Hasher
	Logger      logger.Logger
	Slog        *slog.Logger

	// InFlightHook is passed through to the downloader.
	InFlightHook func(delta int)
}

func (e *Engine) slogger() *slog.Logger {
	if e.Slog != nil {
		return e.Slog
	}
	return slog.Default()
}

// timeout bounds the manifest fetch and each download attempt alike.
func (e *Engine) timeout() time.Duration {
	if e.Timeout <= 0 {
		return fetcher.DefaultTimeout
	}
	return e.Timeout
}

func (e *Engine) logger() logger.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logger.NullLogger{}
}

// streamHasher is the hasher downloads are verified with. It must agree
// with the one used to scan the directory.
func (e *Engine) streamHasher() *checksum.StreamHasher {
	switch h := e.Hasher.(type) {
	case *checksum.StreamHasher:
		return h
	case *checksum.CachedHasher:
		if s, ok := h.Inner().(*checksum.StreamHasher); ok {
			return s
		}
	}
	return nil
}

func (e *Engine) fetchManifest(ctx context.Context, manifestURL string) (manifest.Remote, error) {
	client := fetcher.New(fetcher.WithTimeout(e.timeout()))
	defer client.Close()
	return client.FetchManifest(ctx, fetcher.RewriteLocalhost(manifestURL))
}

// Check fetches the manifest and diffs it against targetDir without
// touching the filesystem.
func (e *Engine) Check(ctx context.Context, manifestURL, targetDir string, extensions []string) (*planner.Diff, error) {
	remote, err := e.fetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	local, err := walker.Scan(ctx, targetDir, extensions, e.Hasher)
	if err != nil {
		return nil, err
	}
	return planner.ComputeDiff(remote, local), nil
}

// Sync runs one pass: checking, cleaning, deleting, downloading, done.
// Progress events are delivered synchronously and never concurrently. Any
// failure emits a final error event and aborts the pass.
func (e *Engine) Sync(ctx context.Context, manifestURL, targetDir string, extensions []string, onProgress ProgressFunc) (*Result, error) {
	rep := &reporter{sink: onProgress}
	log := e.slogger().With("dir", targetDir)

	result, err := e.sync(ctx, manifestURL, targetDir, extensions, rep, log)
	if err != nil {
		rep.emit(StageError, 0, err.Error())
		log.Error("sync failed", "error", err, "code", syncerr.Code(err))
		return nil, err
	}
	return result, nil
}

func (e *Engine) sync(ctx context.Context, manifestURL, targetDir string, extensions []string, rep *reporter, log *slog.Logger) (*Result, error) {
	rep.emit(StageChecking, 0, "fetching manifest")
	remote, err := e.fetchManifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	log.Debug("manifest fetched", "entries", len(remote), "size", humanize.Bytes(uint64(remote.TotalSize())))

	cleaned, err := cleaner.CleanUntracked(ctx, targetDir, remote, extensions, e.logger())
	if err != nil {
		return nil, err
	}
	if len(cleaned) > 0 {
		rep.emit(StageCleaning, cleanedPercent, fmt.Sprintf("removed %d untracked entries", len(cleaned)))
	}

	local, err := walker.Scan(ctx, targetDir, extensions, e.Hasher)
	if err != nil {
		return nil, err
	}
	diff := planner.ComputeDiff(remote, local)
	result := &Result{Cleaned: cleaned}

	if diff.UpToDate {
		rep.emit(StageDone, 100, "up to date")
		return result, nil
	}

	total := diff.Total()
	log.Info("sync plan",
		"download", len(diff.ToDownload),
		"delete", len(diff.ToDelete),
		"bytes", humanize.Bytes(uint64(diff.DownloadSize())))

	completed := 0
	for _, rel := range diff.ToDelete {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.deleteFile(targetDir, rel); err != nil {
			return nil, err
		}
		completed++
		result.Deleted++
		rep.emit(StageDeleting, percent(completed, total), rel)
	}

	downloader := &executor.Downloader{
		Concurrency:  e.Concurrency,
		Attempts:     e.Attempts,
		BaseDelay:    e.BaseDelay,
		Timeout:      e.timeout(),
		Hasher:       e.streamHasher(),
		Logger:       e.logger(),
		InFlightHook: e.InFlightHook,
	}
	log.Debug("downloading", "settings", downloader.String())

	err = downloader.DownloadAll(ctx, diff.ToDownload, targetDir, func(entry manifest.Entry) {
		completed++
		result.Downloaded++
		result.Bytes += entry.Size
		rep.emit(StageDownloading, percent(completed, total), entry.Path)
	})
	if err != nil {
		return nil, err
	}

	rep.emit(StageDone, 100, fmt.Sprintf("downloaded %d, deleted %d", result.Downloaded, result.Deleted))
	return result, nil
}

func (e *Engine) deleteFile(root, rel string) error {
	full, err := manifest.Resolve(root, rel)
	if err != nil {
		return err
	}
	e.logger().Delete(rel)
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &syncerr.IOError{Op: "remove", Path: full, Err: err}
	}
	return nil
}

func percent(completed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// reporter serializes progress delivery and keeps percent monotonic.
type reporter struct {
	mu   sync.Mutex
	sink ProgressFunc
	last int
}

func (r *reporter) emit(stage Stage, pct int, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pct < r.last {
		pct = r.last
	}
	r.last = pct
	if r.sink != nil {
		r.sink(Progress{Stage: stage, Percent: pct, Message: msg})
	}
}
