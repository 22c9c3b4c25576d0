package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cuberecall/packsync/pkg/syncerr"
)

const bufferSize = 64 * 1024 // 64KB buffer

// Algorithm names a digest function. Manifests produced by the server use MD5.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	XXH64  Algorithm = "xxh64"
)

// CRC64NVME polynomial as per AWS S3 specification
var crc64NVMETable = crc64.MakeTable(0x9a6c9329ac4bc9b5)

// Hasher computes the digest of a file on disk.
type Hasher interface {
	FileDigest(path string) (string, error)
}

// StreamHasher hashes files in constant memory using a fixed algorithm.
type StreamHasher struct {
	alg     Algorithm
	newHash func() hash.Hash
}

// NewHasher returns a hasher for alg. An empty alg selects MD5.
func NewHasher(alg Algorithm) (*StreamHasher, error) {
	switch Algorithm(strings.ToLower(string(alg))) {
	case "", MD5:
		return &StreamHasher{alg: MD5, newHash: md5.New}, nil
	case SHA256:
		return &StreamHasher{alg: SHA256, newHash: sha256.New}, nil
	case XXH64:
		return &StreamHasher{alg: XXH64, newHash: func() hash.Hash { return xxhash.New() }}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", alg)
	}
}

// Default is the MD5 hasher matching the server's manifest digests.
var Default = &StreamHasher{alg: MD5, newHash: md5.New}

func (h *StreamHasher) Algorithm() Algorithm { return h.alg }

// FileDigest streams the file at path and returns its lowercase hex digest.
func (h *StreamHasher) FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &syncerr.IOError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	sum, err := h.Digest(file)
	if err != nil {
		return "", &syncerr.IOError{Op: "read", Path: path, Err: err}
	}
	return sum, nil
}

// Digest consumes r and returns its lowercase hex digest.
func (h *StreamHasher) Digest(r io.Reader) (string, error) {
	hs := h.newHash()
	buffer := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(hs, r, buffer); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return hex.EncodeToString(hs.Sum(nil)), nil
}

// NewTeeReader wraps r so the digest is computed while it is read.
func (h *StreamHasher) NewTeeReader(r io.Reader) *TeeReader {
	return &TeeReader{reader: r, hash: h.newHash()}
}

// FileDigest hashes path with the default MD5 hasher.
func FileDigest(path string) (string, error) {
	return Default.FileDigest(path)
}

// Equal compares two hex digests ignoring case.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// TeeReader calculates a digest while reading
type TeeReader struct {
	reader io.Reader
	hash   hash.Hash
	sum    string
	done   bool
}

// Read implements io.Reader
func (t *TeeReader) Read(p []byte) (n int, err error) {
	n, err = t.reader.Read(p)
	if n > 0 {
		if _, werr := t.hash.Write(p[:n]); werr != nil {
			return n, werr
		}
	}
	if err == io.EOF {
		t.done = true
		t.sum = hex.EncodeToString(t.hash.Sum(nil))
	}
	return n, err
}

// Sum returns the calculated digest (only valid after EOF)
func (t *TeeReader) Sum() (string, error) {
	if !t.done {
		return "", fmt.Errorf("checksum not yet calculated (read not complete)")
	}
	return t.sum, nil
}

// CRC64NVME returns the base64 CRC64NVME of a file, the format S3 reports
// in ChecksumCRC64NVME.
func CRC64NVME(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", &syncerr.IOError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	hs := crc64.New(crc64NVMETable)
	if _, err := io.Copy(hs, file); err != nil {
		return "", &syncerr.IOError{Op: "read", Path: path, Err: err}
	}

	return base64.StdEncoding.EncodeToString(hs.Sum(nil)), nil
}
