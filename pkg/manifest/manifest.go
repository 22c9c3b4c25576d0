// Package manifest models the server-declared file tree a sync pass converges to.
package manifest

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/goccy/go-json"
)

// Entry is one file the server expects to exist locally.
type Entry struct {
	Path   string `json:"-"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
}

// wireEntry accepts the legacy "md5" field alongside "digest".
type wireEntry struct {
	Digest string `json:"digest"`
	MD5    string `json:"md5"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
}

// Remote maps relative path to entry. It is immutable for one sync pass.
type Remote map[string]Entry

// Local maps relative path to digest for files found on disk.
type Local map[string]string

// Decode reads a remote manifest and validates every key.
func Decode(r io.Reader) (Remote, error) {
	var raw map[string]wireEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return fromWire(raw)
}

// Unmarshal is Decode for an in-memory document.
func Unmarshal(data []byte) (Remote, error) {
	var raw map[string]wireEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return fromWire(raw)
}

func fromWire(raw map[string]wireEntry) (Remote, error) {
	remote := make(Remote, len(raw))
	for key, w := range raw {
		if err := ValidatePath(key); err != nil {
			return nil, err
		}
		digest := w.Digest
		if digest == "" {
			digest = w.MD5
		}
		digest = strings.ToLower(digest)
		if err := validateDigest(key, digest); err != nil {
			return nil, err
		}
		remote[key] = Entry{
			Path:   key,
			Digest: digest,
			Size:   w.Size,
			URL:    w.URL,
		}
	}
	return remote, nil
}

// validateDigest rejects entries that could never be verified after download.
func validateDigest(key, digest string) error {
	if digest == "" {
		return &syncerr.IntegrityError{Path: key, Reason: fmt.Errorf("%w: empty", syncerr.ErrInvalidDigest)}
	}
	if i := strings.IndexFunc(digest, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'a' || r > 'f')
	}); i >= 0 {
		return &syncerr.IntegrityError{Path: key, Reason: fmt.Errorf("%w: non-hex character %q", syncerr.ErrInvalidDigest, digest[i])}
	}
	return nil
}

// Keys returns the manifest paths in lexical order.
func (m Remote) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TotalSize sums the declared sizes of all entries.
func (m Remote) TotalSize() int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}

// ValidatePath rejects keys that are empty, absolute, use backslashes,
// or contain "." / ".." segments.
func ValidatePath(p string) error {
	bad := func(reason string) error {
		return &syncerr.IntegrityError{
			Path:   p,
			Reason: fmt.Errorf("%w: %s", syncerr.ErrPathEscapesRoot, reason),
		}
	}

	if p == "" {
		return bad("empty path")
	}
	if strings.ContainsRune(p, '\\') {
		return bad("backslash in path")
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return bad("absolute path")
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".", "..":
			return bad(fmt.Sprintf("invalid segment %q", seg))
		}
	}
	if path.Clean(p) != p {
		return bad("path is not clean")
	}
	return nil
}

// Resolve joins a validated key onto root and confirms the result stays
// under root.
func Resolve(root, key string) (string, error) {
	if err := ValidatePath(key); err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(key))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &syncerr.IntegrityError{Path: key, Reason: syncerr.ErrPathEscapesRoot}
	}
	return full, nil
}
