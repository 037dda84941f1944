// Package store defines the persistence contract for bursar.
//
// Backends live in sub-packages (memory, mongo, postgres, sqlite). Each
// backend reports missing records with the entity's not-found sentinel
// from the root package, and roster or fee-structure write conflicts
// with bursar.ErrConcurrentUpdate.
package store

import (
	"context"

	"github.com/xraph/bursar/batch"
	"github.com/xraph/bursar/fee"
	"github.com/xraph/bursar/student"
)

// Store is the unified storage interface for all bursar entities.
type Store interface {
	batch.Store
	student.Store
	fee.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
