// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the resource stores the engine reads and writes.
// A ResourceStore holds file-like resources addressed by slash-separated
// paths; backends cover in-memory (tests, dry runs), local directory, and
// MinIO object storage.
package store

import "context"

// ResourceStore is the persistence surface for step execution and artifact
// emission. Get reports existence explicitly so callers can distinguish a
// missing resource from an empty one.
type ResourceStore interface {
	Get(ctx context.Context, path string) (content string, exists bool, err error)
	Put(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
}
