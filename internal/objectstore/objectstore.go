// Package objectstore provides blob storage access for transcripts, rubric
// snapshots, audio, and score payload backups.
package objectstore

import "context"

// Store defines the contract for object storage.
type Store interface {
	// Get fetches the object identified by ref. For the HTTP adapter, ref
	// is a presigned URL; for the filesystem adapter, a relative path.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Put writes data under key and returns the stored object's reference.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
