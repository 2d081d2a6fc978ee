package filestore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStore is an in-memory Store for testing.
type MockStore struct {
	UploadErr  error
	WaitErr    error
	OpsPending int // WaitOperation succeeds after this many polls per op

	mu        sync.Mutex
	stores    map[string]string
	uploads   map[string][]string // storeID -> filenames
	waits     map[string]int
	nextStore int
	nextOp    int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		stores:  make(map[string]string),
		uploads: make(map[string][]string),
		waits:   make(map[string]int),
	}
}

// CreateStore returns a synthetic store name.
func (m *MockStore) CreateStore(ctx context.Context, displayName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStore++
	name := fmt.Sprintf("fileSearchStores/mock-%d", m.nextStore)
	m.stores[name] = displayName
	return name, nil
}

// Upload records the document and returns a synthetic operation name.
func (m *MockStore) Upload(ctx context.Context, storeID, filename string, data []byte, metadata map[string]string) (string, error) {
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[storeID] = append(m.uploads[storeID], filename)
	m.nextOp++
	return fmt.Sprintf("operations/mock-%d", m.nextOp), nil
}

// WaitOperation succeeds immediately unless configured otherwise.
func (m *MockStore) WaitOperation(ctx context.Context, opName string, timeout time.Duration) error {
	if m.WaitErr != nil {
		return m.WaitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits[opName]++
	return nil
}

// DeleteStore removes the store record.
func (m *MockStore) DeleteStore(ctx context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, storeID)
	delete(m.uploads, storeID)
	return nil
}

// Uploads returns the filenames uploaded into a store.
func (m *MockStore) Uploads(storeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.uploads[storeID]))
	copy(out, m.uploads[storeID])
	return out
}

var _ Store = (*MockStore)(nil)
