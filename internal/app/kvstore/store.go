// Package kvstore implements the per-service namespaced key-value host
// capability exposed to components: a single logical table keyed by
// "{service_id}/{bucket_id}/{user_key}", plus a separate atomics counter
// table.
package kvstore

import (
	"context"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Handle identifies one (service, bucket) namespace. Guests never see this
// struct directly — the engine's host ABI maps opaque integer handles to
// Handle values so one service can never enumerate another's keys.
type Handle struct {
	ServiceId wavs.ServiceId
	BucketId  string
}

// ListResult is the response to a paginated list_keys call.
type ListResult struct {
	Keys       []string
	NextCursor string // empty when there are no further pages
}

// Store is the key-value host capability contract.
type Store interface {
	Open(ctx context.Context, serviceID wavs.ServiceId, bucketID string) (Handle, error)

	Get(ctx context.Context, h Handle, key string) ([]byte, bool, error)
	Set(ctx context.Context, h Handle, key string, value []byte) error
	Delete(ctx context.Context, h Handle, key string) error
	Exists(ctx context.Context, h Handle, key string) (bool, error)

	// ListKeys returns keys stripped of their "{prefix}/", sorted
	// lexicographically. pageSize <= 0 means "no pagination".
	ListKeys(ctx context.Context, h Handle, cursor string, pageSize int) (ListResult, error)

	// GetMany/SetMany/DeleteMany apply an all-or-nothing batch: any error
	// aborts the whole batch with no partial writes visible.
	GetMany(ctx context.Context, h Handle, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, h Handle, values map[string][]byte) error
	DeleteMany(ctx context.Context, h Handle, keys []string) error

	// Increment performs a read-modify-write against a separate counter
	// table, starting from 0, and returns the post-increment value.
	Increment(ctx context.Context, h Handle, key string, delta int64) (int64, error)

	// CASCurrent returns the current value for a compare-and-swap key.
	CASCurrent(ctx context.Context, h Handle, key string) ([]byte, bool, error)
	// CASSwap unconditionally replaces the value (the current contract has
	// no compare step).
	CASSwap(ctx context.Context, h Handle, key string, value []byte) error

	// PurgeService deletes every key and counter belonging to serviceID. The
	// Postgres services registry's DeleteService removes the same rows in its
	// own transaction rather than calling this.
	PurgeService(ctx context.Context, serviceID wavs.ServiceId) error
}
