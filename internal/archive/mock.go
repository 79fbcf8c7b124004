package archive

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
type MockClient struct {
	UploadFileErr error

	mu            sync.Mutex
	UploadedFiles map[string]string // bucket/key → local path
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{UploadedFiles: make(map[string]string)}
}

func (m *MockClient) UploadFileToS3(_ context.Context, bucket, key, localPath string) error {
	if m.UploadFileErr != nil {
		return m.UploadFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadedFiles[bucket+"/"+key] = localPath
	return nil
}
