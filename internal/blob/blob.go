// Package blob owns the raw bytes of document content. Each document's
// content lives in a single flat text blob named deterministically from the
// document id; nothing outside this package touches the bytes directly.
package blob

import (
	"context"
	"errors"
)

var (
	ErrAlreadyExists = errors.New("content already exists")
	ErrNotFound      = errors.New("content not found")
)

// Handle names a document's backing content blob.
type Handle string

// HandleFor returns the deterministic blob name for a document.
func HandleFor(documentID string) Handle {
	return Handle(documentID + ".txt")
}

// URL returns the retrievable locator for a handle.
func URL(handle Handle) string {
	return "/documents/" + string(handle)
}

// Store is the content store contract. Append is atomic with respect to
// other appends on the same handle. Truncate is not internally safe against
// concurrent truncate/append interleavings; callers serialize it per
// document.
type Store interface {
	Create(ctx context.Context, documentID string) (Handle, error)
	Append(ctx context.Context, handle Handle, text string) error
	Truncate(ctx context.Context, handle Handle) error
	Read(ctx context.Context, handle Handle) (string, error)
	Remove(ctx context.Context, handle Handle) error
}
