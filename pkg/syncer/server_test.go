package syncer

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// packServer mimics the pack server: /manifest lists every file,
// /sync/<id>/manifest and /mods/manifest list one folder, /files/ serves
// content, /sync/config serves config.
type packServer struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string]string // key "<folder>/<rel>" or "<rel>"
	digests map[string]string // digest overrides
	config  *Config
	hits    map[string]int
}

func newPackServer(t *testing.T, files map[string]string) *packServer {
	t.Helper()
	ps := &packServer{files: files, digests: map[string]string{}, hits: map[string]int{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.serve))
	t.Cleanup(ps.Close)
	return ps
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (ps *packServer) hitCount(path string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[path]
}

func (ps *packServer) manifestFor(prefix string) map[string]any {
	out := map[string]any{}
	for key, content := range ps.files {
		rel := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"/") {
				continue
			}
			rel = strings.TrimPrefix(key, prefix+"/")
		}
		digest := md5Hex(content)
		if d, ok := ps.digests[key]; ok {
			digest = d
		}
		out[rel] = map[string]any{
			"md5":  digest,
			"size": len(content),
			"url":  ps.URL + "/files/" + key,
		}
	}
	return out
}

func (ps *packServer) serve(w http.ResponseWriter, r *http.Request) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.hits[r.URL.Path]++

	p := r.URL.Path
	switch {
	case p == "/manifest":
		_ = json.NewEncoder(w).Encode(ps.manifestFor(""))
	case p == "/mods/manifest":
		_ = json.NewEncoder(w).Encode(ps.manifestFor("mods"))
	case p == "/sync/config" && ps.config != nil:
		_ = json.NewEncoder(w).Encode(ps.config)
	case strings.HasPrefix(p, "/sync/") && strings.HasSuffix(p, "/manifest"):
		id := strings.TrimSuffix(strings.TrimPrefix(p, "/sync/"), "/manifest")
		_ = json.NewEncoder(w).Encode(ps.manifestFor(id))
	case strings.HasPrefix(p, "/files/"):
		content, ok := ps.files[strings.TrimPrefix(p, "/files/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(content))
	default:
		http.NotFound(w, r)
	}
}

func writeLocal(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func readLocal(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}
