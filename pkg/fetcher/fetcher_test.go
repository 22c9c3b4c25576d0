package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchManifest(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"mods/a.jar": {"md5": "ABC", "size": 3, "url": "http://x/mods/a.jar"}}`)
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	m, err := c.FetchManifest(context.Background(), srv.URL+"/mods/manifest")
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "abc", m["mods/a.jar"].Digest)
	assert.Equal(t, "mods/a.jar", m["mods/a.jar"].Path)
	assert.True(t, strings.HasPrefix(gotUA, "packsync/"), "user agent %q", gotUA)
}

func TestFetchManifestRejectsTraversal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"../evil.jar": {"digest": "abc", "size": 1, "url": "http://x/evil"}}`)
	}))
	defer srv.Close()

	_, err := New().FetchManifest(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrPathEscapesRoot)
	assert.Equal(t, syncerr.CodeIntegrity, syncerr.Code(err))
}

func TestFetchJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	var v map[string]any
	err := New().FetchJSON(context.Background(), srv.URL, &v)

	var netErr *syncerr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
}

func TestFetchJSONFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version": "2"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var v struct {
		Version string `json:"version"`
	}
	require.NoError(t, New().FetchJSON(context.Background(), srv.URL+"/old", &v))
	assert.Equal(t, "2", v.Version)
}

func TestFetchJSONTooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	var v map[string]any
	err := New().FetchJSON(context.Background(), srv.URL+"/r", &v)

	var netErr *syncerr.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	var v map[string]any
	err := New(WithTimeout(50*time.Millisecond)).FetchJSON(context.Background(), srv.URL, &v)

	var timeoutErr *syncerr.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.After)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "jar bytes")
	}))
	defer srv.Close()

	c := New()
	defer c.Close()

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), srv.URL+"/a.jar", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "jar bytes", buf.String())

	_, err = c.Download(context.Background(), srv.URL+"/missing", &buf)
	var netErr *syncerr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
}

func TestDownloadCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "never read")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Download(ctx, srv.URL, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCloseAbortsOpenBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "partial")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New()
	rc, err := c.Open(context.Background(), srv.URL+"/a.jar")
	require.NoError(t, err)

	buf := make([]byte, len("partial"))
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf))

	time.AfterFunc(20*time.Millisecond, func() { c.Close() })

	start := time.Now()
	_, err = rc.Read(make([]byte, 16))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.open.Cardinality())
}

func TestRewriteLocalhost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:8000/sync", "http://127.0.0.1:8000/sync"},
		{"https://localhost/a", "https://127.0.0.1/a"},
		{"http://packs.example.com/localhost", "http://packs.example.com/localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RewriteLocalhost(tt.in))
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h/sync/mods/manifest", JoinURL("http://h/", "sync", "mods", "manifest"))
	assert.Equal(t, "http://h/mods/manifest", JoinURL("http://h", "/mods/", "manifest"))
}
