package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/planner"
	"github.com/cuberecall/packsync/pkg/retry"
	"github.com/cuberecall/packsync/pkg/s3client"
)

const defaultMirrorConcurrency = 16

// Executor applies a mirror plan to object storage.
type Executor struct {
	client      s3client.Client
	logger      logger.Logger
	concurrency int
	attempts    int
	step        time.Duration
}

func NewExecutor(client s3client.Client, log logger.Logger, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = defaultMirrorConcurrency
	}
	if log == nil {
		log = logger.NullLogger{}
	}
	return &Executor{
		client:      client,
		logger:      log,
		concurrency: concurrency,
		attempts:    DefaultAttempts,
		step:        retry.DefaultStep,
	}
}

type Result struct {
	Item  planner.Item
	Error error
}

// Execute runs every item and reports one Result per item, in plan order.
// A failed item does not stop the others.
func (e *Executor) Execute(ctx context.Context, items []planner.Item) []Result {
	results := make([]Result, len(items))

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, itm planner.Item) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Result{Item: itm, Error: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			target := fmt.Sprintf("s3://%s/%s", itm.Bucket, itm.Key)
			switch itm.Action {
			case planner.ActionUpload:
				e.logger.Upload(itm.LocalPath, target)
			case planner.ActionDelete:
				e.logger.Delete(target)
			}

			err := e.executeItem(ctx, itm)
			if err != nil {
				e.logger.Error(string(itm.Action), target, err)
			}

			results[idx] = Result{
				Item:  itm,
				Error: err,
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeItem(ctx context.Context, item planner.Item) error {
	switch item.Action {
	case planner.ActionUpload:
		return e.uploadFile(ctx, item)
	case planner.ActionDelete:
		return e.deleteObject(ctx, item)
	default:
		return nil
	}
}

// uploadFile reopens the file for every attempt since a consumed body
// cannot be replayed.
func (e *Executor) uploadFile(ctx context.Context, item planner.Item) error {
	contentType := guessContentType(item.LocalPath)

	_, err := retry.Do(ctx, "upload "+item.Key, retry.Options{
		MaxRetries: e.attempts,
		Step:       e.step,
	}, func() (*os.File, error) {
		file, err := os.Open(item.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		return file, nil
	}, func(ctx context.Context, file *os.File) (struct{}, error) {
		return struct{}{}, e.client.PutObject(ctx, &s3client.PutObjectRequest{
			Bucket:      item.Bucket,
			Key:         item.Key,
			Body:        file,
			Size:        item.Size,
			Checksum:    item.Checksum,
			ContentType: contentType,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}

	return nil
}

func (e *Executor) deleteObject(ctx context.Context, item planner.Item) error {
	if err := e.client.DeleteObject(ctx, item.Bucket, item.Key); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}

	return nil
}
