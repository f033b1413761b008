package testing

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// MockUploader is an in-memory object store
type MockUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

// NewMockUploader creates an empty mock uploader
func NewMockUploader() *MockUploader {
	return &MockUploader{objects: make(map[string][]byte)}
}

// SetError makes subsequent uploads fail with err
func (m *MockUploader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Upload stores body under key after checking its size
func (m *MockUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s: declared %d, read %d", key, size, len(data))
	}
	m.objects[key] = data
	return nil
}

// Object returns the stored body for key
func (m *MockUploader) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// Keys returns the stored keys in order
func (m *MockUploader) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
