package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuberecall/packsync/pkg/s3client"
)

// mockS3Client is a mock implementation of s3client.Client for testing
type mockS3Client struct {
	listObjectsFunc  func(ctx context.Context, bucket, prefix string) ([]s3client.ItemMetadata, error)
	headObjectFunc   func(ctx context.Context, bucket, key string) (*s3client.ObjectInfo, error)
	putObjectFunc    func(ctx context.Context, req *s3client.PutObjectRequest) error
	deleteObjectFunc func(ctx context.Context, bucket, key string) error
}

func (m *mockS3Client) ListObjects(ctx context.Context, bucket, prefix string) ([]s3client.ItemMetadata, error) {
	if m.listObjectsFunc != nil {
		return m.listObjectsFunc(ctx, bucket, prefix)
	}
	return nil, fmt.Errorf("ListObjects not implemented")
}

func (m *mockS3Client) HeadObject(ctx context.Context, bucket, key string) (*s3client.ObjectInfo, error) {
	if m.headObjectFunc != nil {
		return m.headObjectFunc(ctx, bucket, key)
	}
	return nil, fmt.Errorf("HeadObject not implemented")
}

func (m *mockS3Client) PutObject(ctx context.Context, req *s3client.PutObjectRequest) error {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, req)
	}
	return fmt.Errorf("PutObject not implemented")
}

func (m *mockS3Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if m.deleteObjectFunc != nil {
		return m.deleteObjectFunc(ctx, bucket, key)
	}
	return fmt.Errorf("DeleteObject not implemented")
}

// mockLogger records calls; Phase2 runs in parallel so it locks.
type mockLogger struct {
	mu          sync.Mutex
	uploadCalls []uploadCall
	deleteCalls []string
	errorCalls  []errorCall
	debugCalls  []string
}

type uploadCall struct {
	localPath string
	target    string
}

type errorCall struct {
	operation string
	path      string
	err       error
}

func (m *mockLogger) Download(path, url string) {}

func (m *mockLogger) Clean(path string) {}

func (m *mockLogger) Upload(localPath, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadCalls = append(m.uploadCalls, uploadCall{localPath, target})
}

func (m *mockLogger) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, path)
}

func (m *mockLogger) Error(operation, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCalls = append(m.errorCalls, errorCall{operation, path, err})
}

func (m *mockLogger) Debug(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugCalls = append(m.debugCalls, message)
}
