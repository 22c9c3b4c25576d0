// Package cleaner prunes top-level entries of a sync target that the
// server no longer declares.
package cleaner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuberecall/packsync/internal/walker"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/manifest"
	"github.com/cuberecall/packsync/pkg/syncerr"
	mapset "github.com/deckarep/golang-set/v2"
)

// CleanUntracked inspects the direct children of root:
//
//   - a directory is removed when no manifest key lives under it;
//   - a file is removed only when its extension is not tracked and its
//     name is not itself a manifest key.
//
// Removed directories are reported with a trailing slash. A missing root
// is not an error.
func CleanUntracked(ctx context.Context, root string, remote manifest.Remote, extensions []string, log logger.Logger) ([]string, error) {
	if log == nil {
		log = logger.NullLogger{}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &syncerr.IOError{Op: "readdir", Path: root, Err: err}
	}

	keys := mapset.NewThreadUnsafeSetWithSize[string](len(remote))
	topDirs := mapset.NewThreadUnsafeSet[string]()
	for key := range remote {
		keys.Add(key)
		if i := strings.IndexByte(key, '/'); i > 0 {
			topDirs.Add(key[:i])
		}
	}

	var removed []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		name := entry.Name()
		full := filepath.Join(root, name)

		switch {
		case entry.IsDir():
			if topDirs.Contains(name) {
				continue
			}
			if err := os.RemoveAll(full); err != nil {
				return removed, &syncerr.IOError{Op: "remove", Path: full, Err: err}
			}
			removed = append(removed, name+"/")
			log.Clean(name + "/")

		case entry.Type().IsRegular():
			if walker.MatchesExtension(name, extensions) || keys.Contains(name) {
				continue
			}
			if err := os.Remove(full); err != nil {
				return removed, &syncerr.IOError{Op: "remove", Path: full, Err: err}
			}
			removed = append(removed, name)
			log.Clean(name)
		}
	}

	sort.Strings(removed)
	return removed, nil
}
