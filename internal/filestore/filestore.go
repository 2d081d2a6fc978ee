// Package filestore manages the hosted retrieval stores that ground
// chapter generation. Documents are uploaded into a per-job store and
// indexed asynchronously; generation only starts once every upload
// operation has completed.
package filestore

import (
	"context"
	"time"
)

// Store is the retrieval store surface the pipeline depends on.
type Store interface {
	// CreateStore provisions a new retrieval store and returns its
	// fully qualified name.
	CreateStore(ctx context.Context, displayName string) (string, error)

	// Upload pushes one document into the store and returns the name
	// of the indexing operation.
	Upload(ctx context.Context, storeID, filename string, data []byte, metadata map[string]string) (string, error)

	// WaitOperation blocks until the operation completes or the
	// timeout elapses.
	WaitOperation(ctx context.Context, opName string, timeout time.Duration) error

	// DeleteStore removes a retrieval store and its documents.
	DeleteStore(ctx context.Context, storeID string) error
}
