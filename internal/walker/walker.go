package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/pkg/manifest"
)

// FileInfo represents a local file
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative path from root, forward slashes
	Size    int64
	ModTime int64 // Unix timestamp
}

// Walker walks local files filtered by extension and exclude patterns
type Walker struct {
	root       string
	extensions []string
	excludes   []string
}

// NewWalker creates a new file walker. An empty extension list matches
// every file. The root does not need to exist.
func NewWalker(root string, extensions, excludes []string) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	return &Walker{
		root:       absRoot,
		extensions: extensions,
		excludes:   excludes,
	}, nil
}

func (w *Walker) Root() string { return w.root }

// Walk visits the tree depth-first using an explicit stack of directories
// and returns matching regular files sorted by RelPath. A missing root
// yields no files. Unreadable entries and symlinks are skipped.
func (w *Walker) Walk(ctx context.Context) ([]FileInfo, error) {
	info, err := os.Stat(w.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", w.root)
	}

	var files []FileInfo
	stack := []string{w.root}

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("walker: skipping unreadable directory", "path", dir, "error", err)
			continue
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			fullPath := filepath.Join(dir, entry.Name())
			relPath, err := filepath.Rel(w.root, fullPath)
			if err != nil {
				continue
			}
			relPath = filepath.ToSlash(relPath)

			switch {
			case entry.Type()&fs.ModeSymlink != 0:
				continue
			case entry.IsDir():
				if w.isExcluded(relPath + "/") {
					continue
				}
				stack = append(stack, fullPath)
				continue
			case !entry.Type().IsRegular():
				continue
			}

			if !w.MatchesExtension(entry.Name()) || w.isExcluded(relPath) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				slog.Warn("walker: skipping unreadable file", "path", fullPath, "error", err)
				continue
			}

			files = append(files, FileInfo{
				Path:    fullPath,
				RelPath: relPath,
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})

	return files, nil
}

// MatchesExtension reports whether name's extension (case-sensitive, as
// returned by filepath.Ext) is tracked.
func (w *Walker) MatchesExtension(name string) bool {
	return MatchesExtension(name, w.extensions)
}

// MatchesExtension reports whether name's extension is in extensions. An
// empty list matches everything.
func MatchesExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// isExcluded checks if a path matches any exclude pattern
func (w *Walker) isExcluded(path string) bool {
	for _, pattern := range w.excludes {
		// Handle directory patterns (ending with /)
		if strings.HasSuffix(pattern, "/") {
			if !strings.HasSuffix(path, "/") {
				continue
			}
			if matched, _ := doublestar.Match(pattern, path); matched {
				return true
			}
			continue
		}
		if matched, _ := doublestar.Match(pattern, strings.TrimSuffix(path, "/")); matched {
			return true
		}
	}
	return false
}

// Scan walks root and hashes every tracked file, producing the local manifest.
func Scan(ctx context.Context, root string, extensions []string, hasher checksum.Hasher) (manifest.Local, error) {
	w, err := NewWalker(root, extensions, nil)
	if err != nil {
		return nil, err
	}
	files, err := w.Walk(ctx)
	if err != nil {
		return nil, err
	}
	if hasher == nil {
		hasher = checksum.Default
	}

	local := make(manifest.Local, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, err := hasher.FileDigest(f.Path)
		if err != nil {
			slog.Warn("walker: skipping file that could not be hashed", "path", f.Path, "error", err)
			continue
		}
		local[f.RelPath] = digest
	}
	return local, nil
}

// BuildManifest produces the remote manifest a server would publish for
// root, with each URL formed as baseURL + "/" + escaped relative path.
func BuildManifest(ctx context.Context, root string, extensions []string, baseURL string, hasher checksum.Hasher) (manifest.Remote, error) {
	w, err := NewWalker(root, extensions, nil)
	if err != nil {
		return nil, err
	}
	files, err := w.Walk(ctx)
	if err != nil {
		return nil, err
	}
	if hasher == nil {
		hasher = checksum.Default
	}

	base := strings.TrimSuffix(baseURL, "/")
	remote := make(manifest.Remote, len(files))
	for _, f := range files {
		digest, err := hasher.FileDigest(f.Path)
		if err != nil {
			slog.Warn("walker: skipping file that could not be hashed", "path", f.Path, "error", err)
			continue
		}
		remote[f.RelPath] = manifest.Entry{
			Path:   f.RelPath,
			Digest: digest,
			Size:   f.Size,
			URL:    base + "/" + escapePath(f.RelPath),
		}
	}
	return remote, nil
}

func escapePath(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
