// Package fetcher talks to the pack server over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/cuberecall/packsync/pkg/manifest"
	"github.com/cuberecall/packsync/pkg/syncerr"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
)

const (
	DefaultTimeout = 300 * time.Second
	MaxRedirects   = 5
)

// Version is reported in the User-Agent. The CLI overrides it at startup.
var Version = "dev"

func UserAgent() string {
	return fmt.Sprintf("packsync/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client is a single-use HTTP client. Each Client owns its transport, so
// closing one never disturbs requests made through another.
type Client struct {
	http    *req.Client
	timeout time.Duration
	open    mapset.Set[*streamBody]
}

func New(opts ...Option) *Client {
	c := &Client{timeout: DefaultTimeout, open: mapset.NewSet[*streamBody]()}
	for _, opt := range opts {
		opt(c)
	}

	c.http = req.C().
		SetTimeout(c.timeout).
		SetUserAgent(UserAgent()).
		SetRedirectPolicy(req.MaxRedirectPolicy(MaxRedirects)).
		DisableKeepAlives().
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	return c
}

// Close aborts any body still being streamed and drops idle connections.
// Reads blocked on an aborted body return an error.
func (c *Client) Close() error {
	for _, b := range c.open.ToSlice() {
		b.Close()
	}
	c.http.GetTransport().CloseIdleConnections()
	return nil
}

// FetchJSON GETs url and decodes the body into v.
func (c *Client) FetchJSON(ctx context.Context, url string, v any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

// FetchManifest GETs and validates a remote manifest. Unsafe keys fail the
// whole manifest.
func (c *Client) FetchManifest(ctx context.Context, url string) (manifest.Remote, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest from %s: %w", url, err)
	}
	return m, nil
}

// Open starts a GET and returns the response body for streaming. Non-2xx
// responses are closed and reported as NetworkError.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(url)
	if err != nil {
		return nil, c.wrapErr(url, err)
	}

	if !resp.IsSuccessState() {
		resp.Body.Close()
		return nil, &syncerr.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	body := &streamBody{ReadCloser: resp.Body, client: c, url: url}
	c.open.Add(body)
	return body, nil
}

// Download streams the body of url into w and returns the bytes written.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	rc, err := c.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// streamBody classifies read errors the same way request errors are.
type streamBody struct {
	io.ReadCloser
	client *Client
	url    string
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, b.client.wrapErr(b.url, err)
	}
	return n, err
}

func (b *streamBody) Close() error {
	b.client.open.Remove(b)
	return b.ReadCloser.Close()
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, c.wrapErr(url, err)
	}
	if !resp.IsSuccessState() {
		return nil, &syncerr.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	body, err := resp.ToBytes()
	if err != nil {
		return nil, c.wrapErr(url, err)
	}
	return body, nil
}

func (c *Client) wrapErr(url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &syncerr.TimeoutError{Op: "GET " + url, After: c.timeout, Err: err}
	}
	return &syncerr.NetworkError{URL: url, Err: err}
}

// RewriteLocalhost replaces a localhost host with 127.0.0.1 so resolvers
// that prefer ::1 do not stall against an IPv4-only server.
func RewriteLocalhost(url string) string {
	return strings.Replace(url, "://localhost", "://127.0.0.1", 1)
}

// JoinURL appends slash-separated segments to base.
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		out += "/" + strings.Trim(s, "/")
	}
	return out
}
