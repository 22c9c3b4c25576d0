package planner

import (
	"time"

	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/manifest"
)

// Diff is the work a sync pass must do to converge a directory onto a
// remote manifest. It is produced once and consumed once.
type Diff struct {
	ToDownload  []manifest.Entry
	ToDelete    []string
	UpToDate    bool
	ServerCount int
	LocalCount  int
}

// Total is the number of file operations the diff implies.
func (d *Diff) Total() int {
	return len(d.ToDownload) + len(d.ToDelete)
}

// DownloadSize sums the declared size of every entry to download.
func (d *Diff) DownloadSize() int64 {
	var total int64
	for _, e := range d.ToDownload {
		total += e.Size
	}
	return total
}

// ItemRef names one path on both sides of a mirror comparison.
type ItemRef struct {
	Path string
	Size int64
}

// Phase1Result buckets every path by what a size-only comparison can
// decide. NeedChecksum entries have equal sizes and must be hashed.
type Phase1Result struct {
	NewItems     []ItemRef
	DeletedItems []ItemRef
	SizeMismatch []ItemRef
	NeedChecksum []ItemRef
	Identical    []ItemRef
}

// ChecksumData pairs the local CRC64NVME with the one stored on the object.
type ChecksumData struct {
	ItemRef        ItemRef
	SourceChecksum string
	DestChecksum   string
}

type ItemMetadata struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Checksum string
}

type Options struct {
	DeleteEnabled bool
	Excludes      []string
	Logger        logger.Logger
}

type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
	ActionSkip   Action = "skip"
)

// Item is one mirror operation against object storage.
type Item struct {
	Action    Action
	LocalPath string
	Bucket    string
	Key       string
	Size      int64
	Reason    string
	Checksum  string
}
