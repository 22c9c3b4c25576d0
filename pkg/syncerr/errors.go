package syncerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPathEscapesRoot is wrapped by IntegrityError when a manifest key
	// would resolve outside the target directory.
	ErrPathEscapesRoot = errors.New("path escapes target root")
	ErrDigestMismatch  = errors.New("digest mismatch")
	ErrInvalidDigest   = errors.New("missing or malformed digest")
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrDirLocked       = errors.New("directory locked by another process")
)

const (
	CodeNetwork   = "E_NETWORK"
	CodeTimeout   = "E_TIMEOUT"
	CodeIntegrity = "E_INTEGRITY"
	CodeIO        = "E_IO"
	CodeSync      = "E_SYNC"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	ErrorCode() string
}

// NetworkError covers non-2xx responses, DNS failures and connection resets.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error: %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error     { return e.Err }
func (e *NetworkError) ErrorCode() string { return CodeNetwork }

// TimeoutError is returned when an attempt exceeds its time budget.
type TimeoutError struct {
	Op    string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error     { return e.Err }
func (e *TimeoutError) ErrorCode() string { return CodeTimeout }

// IntegrityError reports a digest mismatch or an unsafe manifest path.
type IntegrityError struct {
	Path   string
	Want   string
	Got    string
	Reason error
}

func (e *IntegrityError) Error() string {
	if e.Want != "" || e.Got != "" {
		return fmt.Sprintf("integrity error: %s: want %s, got %s", e.Path, e.Want, e.Got)
	}
	return fmt.Sprintf("integrity error: %s: %v", e.Path, e.Reason)
}

func (e *IntegrityError) Unwrap() error     { return e.Reason }
func (e *IntegrityError) ErrorCode() string { return CodeIntegrity }

// IOError wraps a filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error     { return e.Err }
func (e *IOError) ErrorCode() string { return CodeIO }

// Failure is one entry that exhausted its retry budget.
type Failure struct {
	Path string
	Err  error
}

// SyncError aggregates every failed entry of a download phase.
type SyncError struct {
	Failures []Failure
}

func (e *SyncError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sync failed: %d file(s)", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s: %v", f.Path, f.Err)
	}
	return b.String()
}

func (e *SyncError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *SyncError) ErrorCode() string { return CodeSync }

// Paths lists the failed paths in the order they were recorded.
func (e *SyncError) Paths() []string {
	paths := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		paths = append(paths, f.Path)
	}
	return paths
}

var (
	_ Coded = (*NetworkError)(nil)
	_ Coded = (*TimeoutError)(nil)
	_ Coded = (*IntegrityError)(nil)
	_ Coded = (*IOError)(nil)
	_ Coded = (*SyncError)(nil)
)

// Code returns the code of the first Coded error in err's chain, or "".
func Code(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
