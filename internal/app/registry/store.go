// Package registry implements the persistent services registry: the
// read-mostly mapping from ServiceId to Service definition that every other
// subsystem watches.
package registry

import (
	"context"
	"errors"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// ErrAlreadyExists is returned by AddService when the service's id is
// already registered.
var ErrAlreadyExists = errors.New("registry: service already exists")

// Store is the services registry contract.
type Store interface {
	// AddService stores a new service and returns its derived id. Adding a
	// service whose id already exists returns wavs.ErrNotFound's sibling
	// error — ErrAlreadyExists — since add_service is for first-time
	// registration only.
	AddService(ctx context.Context, svc wavs.Service) (wavs.ServiceId, error)
	// SaveService atomically replaces the stored definition for svc.Id().
	SaveService(ctx context.Context, svc wavs.Service) error
	// DeleteService removes the service. The Postgres store also deletes the
	// service's key-value rows (kv_store, kv_atomics_counter) in the same
	// transaction; the in-memory store does not touch the key-value store.
	// Callers are responsible for tearing down its trigger subscriptions and
	// engine instances.
	DeleteService(ctx context.Context, id wavs.ServiceId) error
	// GetService returns the stored service, or wavs.ErrNotFound.
	GetService(ctx context.Context, id wavs.ServiceId) (wavs.Service, error)
	// ListServices returns every stored service, most-recently-added first.
	ListServices(ctx context.Context, limit, offset int) ([]wavs.Service, error)
	// AllComponentDigests returns the set of component digests referenced by
	// any workflow of any stored service, used by castore.GC.
	AllComponentDigests(ctx context.Context) (map[wavs.ComponentDigest]struct{}, error)
}
