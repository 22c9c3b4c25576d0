package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuberecall/packsync/pkg/executor"
	"github.com/cuberecall/packsync/pkg/fetcher"
	"github.com/cuberecall/packsync/pkg/manifest"
	"github.com/cuberecall/packsync/pkg/planner"
	"github.com/cuberecall/packsync/pkg/syncerr"
)

// GlobalSettings are server-wide download settings. Durations are in
// milliseconds on the wire.
type GlobalSettings struct {
	MaxConcurrent int `json:"max_concurrent"`
	RetryAttempts int `json:"retry_attempts"`
	RetryDelay    int `json:"retry_delay"`
	Timeout       int `json:"timeout"`
}

type Folder struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Priority    int      `json:"priority"`
	Extensions  []string `json:"extensions"`
}

// Config is served at <server>/sync/config.
type Config struct {
	Version        string         `json:"version"`
	ServerIP       string         `json:"server_ip"`
	GlobalSettings GlobalSettings `json:"global_settings"`
	Folders        []Folder       `json:"folders"`
}

// Validate rejects folder ids that are not a single safe path segment.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Folders))
	for _, f := range c.Folders {
		if err := manifest.ValidatePath(f.ID); err != nil {
			return fmt.Errorf("invalid folder id %q: %w", f.ID, err)
		}
		if strings.Contains(f.ID, "/") {
			return fmt.Errorf("invalid folder id %q: must be a single directory name", f.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate folder id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Sorted returns the folders in ascending priority, keeping server order
// among equal priorities.
func (c *Config) Sorted() []Folder {
	folders := append([]Folder(nil), c.Folders...)
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].Priority < folders[j].Priority
	})
	return folders
}

// FolderProgress is a Progress annotated with the folder it belongs to.
type FolderProgress struct {
	Progress
	FolderID   string `json:"folder_id"`
	FolderName string `json:"folder_name"`
}

type MultiResult struct {
	SyncedFolders int                `json:"synced_folders"`
	Folders       map[string]*Result `json:"folders"`
}

type FolderCheck struct {
	ToDownload int `json:"to_download"`
	ToDelete   int `json:"to_delete"`
}

type CheckResult struct {
	NeedsSync  bool                   `json:"needs_sync"`
	ToDownload int                    `json:"to_download"`
	ToDelete   int                    `json:"to_delete"`
	Folders    map[string]FolderCheck `json:"folders,omitempty"`
}

// Runner syncs the folders a pack server publishes into a game directory.
type Runner struct {
	ServerURL string
	GameDir   string
	// Engine supplies defaults; server global settings override them.
	Engine Engine
	// Manager, when set, serializes passes per directory.
	Manager *Manager
}

func (r *Runner) serverURL() string {
	return fetcher.RewriteLocalhost(strings.TrimRight(r.ServerURL, "/"))
}

// FetchConfig downloads and validates the folder configuration.
func (r *Runner) FetchConfig(ctx context.Context) (*Config, error) {
	client := fetcher.New(fetcher.WithTimeout(r.Engine.timeout()))
	defer client.Close()

	var cfg Config
	if err := client.FetchJSON(ctx, fetcher.JoinURL(r.serverURL(), "sync", "config"), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Runner) engineFor(gs GlobalSettings) *Engine {
	e := r.Engine
	if gs.MaxConcurrent > 0 {
		e.Concurrency = gs.MaxConcurrent
	}
	if gs.RetryAttempts > 0 {
		e.Attempts = gs.RetryAttempts
	}
	if gs.RetryDelay > 0 {
		e.BaseDelay = time.Duration(gs.RetryDelay) * time.Millisecond
	}
	if gs.Timeout > 0 {
		e.Timeout = time.Duration(gs.Timeout) * time.Millisecond
	}
	return &e
}

func (r *Runner) folderManifestURL(id string) string {
	return fetcher.JoinURL(r.serverURL(), "sync", id, "manifest")
}

// selectFolders keeps the folders named in only, in priority order. An
// empty filter selects every folder.
func selectFolders(cfg *Config, only []string) ([]Folder, error) {
	sorted := cfg.Sorted()
	if len(only) == 0 {
		return sorted, nil
	}

	want := make(map[string]bool, len(only))
	for _, id := range only {
		want[id] = true
	}
	var out []Folder
	for _, f := range sorted {
		if want[f.ID] {
			out = append(out, f)
			delete(want, f.ID)
		}
	}
	if len(want) > 0 {
		var missing []string
		for id := range want {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown folder(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// SyncAll syncs every configured folder (or those in only) one after
// another in priority order. The first failing folder stops the run.
func (r *Runner) SyncAll(ctx context.Context, only []string, onProgress func(FolderProgress)) (*MultiResult, error) {
	cfg, err := r.FetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := selectFolders(cfg, only)
	if err != nil {
		return nil, err
	}

	engine := r.engineFor(cfg.GlobalSettings)
	out := &MultiResult{Folders: make(map[string]*Result, len(folders))}

	for _, folder := range folders {
		progress := func(p Progress) {
			if onProgress != nil {
				onProgress(FolderProgress{Progress: p, FolderID: folder.ID, FolderName: folder.DisplayName})
			}
		}

		target := filepath.Join(r.GameDir, folder.ID)
		res, err := r.run(ctx, target, func(ctx context.Context) (*Result, error) {
			return engine.Sync(ctx, r.folderManifestURL(folder.ID), target, folder.Extensions, progress)
		})
		if err != nil {
			return out, fmt.Errorf("folder %s: %w", folder.ID, err)
		}
		out.Folders[folder.ID] = res
		out.SyncedFolders++
	}
	return out, nil
}

// CheckAll sums the pending work across every folder without changing
// anything on disk.
func (r *Runner) CheckAll(ctx context.Context) (*CheckResult, error) {
	cfg, err := r.FetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	engine := r.engineFor(cfg.GlobalSettings)

	out := &CheckResult{Folders: make(map[string]FolderCheck, len(cfg.Folders))}
	for _, folder := range cfg.Sorted() {
		diff, err := engine.Check(ctx, r.folderManifestURL(folder.ID), filepath.Join(r.GameDir, folder.ID), folder.Extensions)
		if err != nil {
			return nil, fmt.Errorf("folder %s: %w", folder.ID, err)
		}
		out.Folders[folder.ID] = FolderCheck{ToDownload: len(diff.ToDownload), ToDelete: len(diff.ToDelete)}
		out.ToDownload += len(diff.ToDownload)
		out.ToDelete += len(diff.ToDelete)
	}
	out.NeedsSync = out.ToDownload > 0 || out.ToDelete > 0
	return out, nil
}

var modExtensions = []string{".jar"}

func (r *Runner) modsEngine() *Engine {
	e := r.Engine
	e.Concurrency = executor.DefaultConcurrency
	e.Attempts = 3
	e.BaseDelay = time.Second
	return &e
}

// SyncMods runs the legacy single-folder sync of <server>/mods/manifest
// into <game>/mods.
func (r *Runner) SyncMods(ctx context.Context, onProgress ProgressFunc) (*Result, error) {
	target := filepath.Join(r.GameDir, "mods")
	url := fetcher.JoinURL(r.serverURL(), "mods", "manifest")
	engine := r.modsEngine()
	return r.run(ctx, target, func(ctx context.Context) (*Result, error) {
		return engine.Sync(ctx, url, target, modExtensions, onProgress)
	})
}

// CheckMods diffs the legacy mods folder.
func (r *Runner) CheckMods(ctx context.Context) (*planner.Diff, error) {
	return r.modsEngine().Check(ctx, fetcher.JoinURL(r.serverURL(), "mods", "manifest"), filepath.Join(r.GameDir, "mods"), modExtensions)
}

func (r *Runner) run(ctx context.Context, dir string, fn RunFunc) (*Result, error) {
	if r.Manager == nil {
		return fn(ctx)
	}
	s, err := r.Manager.Start(ctx, dir, fn)
	if errors.Is(err, syncerr.ErrSyncInProgress) {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if err != nil {
		return nil, err
	}
	return s.Wait()
}
