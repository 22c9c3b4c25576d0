package planner

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/internal/walker"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/s3client"
	"golang.org/x/sync/errgroup"
)

const defaultChecksumWorkers = 8

// MirrorPlanner plans pushing a local pack directory to an S3 bucket, so
// the pack server can serve its files from object storage.
type MirrorPlanner struct {
	client  s3client.Client
	logger  logger.Logger
	workers int
}

func NewMirrorPlanner(client s3client.Client, log logger.Logger) *MirrorPlanner {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &MirrorPlanner{
		client:  client,
		logger:  log,
		workers: defaultChecksumWorkers,
	}
}

// Plan compares localDir against s3URI and returns the operations needed
// to make the bucket match it.
func (p *MirrorPlanner) Plan(ctx context.Context, localDir, s3URI string, opts Options) ([]Item, error) {
	bucket, prefix, err := s3client.ParseURI(s3URI)
	if err != nil {
		return nil, err
	}

	localFiles, err := p.gatherLocalFiles(ctx, localDir, opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to gather local files: %w", err)
	}

	objects, err := p.client.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	remote := []ItemMetadata{}
	for _, obj := range objects {
		excluded, err := IsExcluded(obj.Path, opts.Excludes)
		if err != nil {
			return nil, fmt.Errorf("failed to check exclude pattern for %s: %w", obj.Path, err)
		}
		if excluded {
			continue
		}
		remote = append(remote, ItemMetadata(obj))
	}

	phase1 := Phase1Compare(localFiles, remote, opts.DeleteEnabled)
	p.logger.Debug(fmt.Sprintf("phase1: %d new, %d size mismatch, %d need checksum, %d to delete",
		len(phase1.NewItems), len(phase1.SizeMismatch), len(phase1.NeedChecksum), len(phase1.DeletedItems)))

	checksums, err := p.Phase2CollectChecksums(ctx, phase1.NeedChecksum, localDir, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to collect checksums: %w", err)
	}

	items := Phase3GeneratePlan(phase1, checksums, localDir, bucket, prefix)

	sums := make(map[string]string, len(checksums))
	for _, cs := range checksums {
		sums[cs.ItemRef.Path] = cs.SourceChecksum
	}
	for i, item := range items {
		if item.Action != ActionUpload {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(item.Key, prefix), "/")
		if sum, ok := sums[rel]; ok {
			items[i].Checksum = sum
			continue
		}
		sum, err := checksum.CRC64NVME(item.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate checksum for %s: %w", item.LocalPath, err)
		}
		items[i].Checksum = sum
	}

	return items, nil
}

func (p *MirrorPlanner) gatherLocalFiles(ctx context.Context, basePath string, excludes []string) ([]ItemMetadata, error) {
	w, err := walker.NewWalker(basePath, nil, excludes)
	if err != nil {
		return nil, err
	}
	files, err := w.Walk(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]ItemMetadata, 0, len(files))
	for _, f := range files {
		items = append(items, ItemMetadata{
			Path:    f.RelPath,
			Size:    f.Size,
			ModTime: time.Unix(f.ModTime, 0),
		})
	}
	return items, nil
}

// Phase2CollectChecksums hashes local files and heads their objects in
// parallel. Results keep the order of items.
func (p *MirrorPlanner) Phase2CollectChecksums(ctx context.Context, items []ItemRef, localBase, bucket, prefix string) ([]ChecksumData, error) {
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]ChecksumData, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, item := range items {
		g.Go(func() error {
			localPath := filepath.Join(localBase, filepath.FromSlash(item.Path))
			sourceChecksum, err := checksum.CRC64NVME(localPath)
			if err != nil {
				return fmt.Errorf("failed to calculate checksum for %s: %w", localPath, err)
			}

			key := path.Join(prefix, item.Path)
			info, err := p.client.HeadObject(ctx, bucket, key)
			if err != nil {
				return fmt.Errorf("failed to head object %s: %w", key, err)
			}

			results[i] = ChecksumData{
				ItemRef:        item,
				SourceChecksum: sourceChecksum,
				DestChecksum:   info.Checksum,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
