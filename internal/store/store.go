package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Bulk operation kinds
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete" // soft tombstone, excluded from future reads
)

// BulkOperation is one entity write inside a store transaction.
type BulkOperation struct {
	Op            string // create/update/delete
	EntityKind    string // ingredient/recipe/packaging
	EntityID      uuid.UUID
	ClientVersion int64
	Payload       any
}

// OpResult reports the stored id and the new version token for one operation.
type OpResult struct {
	EntityKind string
	ID         uuid.UUID
	Version    int64
}

// EntityRef names one entity for a version read.
type EntityRef struct {
	Kind string
	ID   uuid.UUID
}

// VersionRecord is the store's current view of one entity's token.
type VersionRecord struct {
	Kind    string
	ID      uuid.UUID
	Version int64
	Name    string
}

// ErrTransactionNotFound is returned for an unknown or already-closed
// transaction id.
var ErrTransactionNotFound = errors.New("store: transaction not found")

// StaleVersionError is the commit-time defense: an update found the stored
// token already past the client's, after preflight let the batch through.
type StaleVersionError struct {
	Kind    string
	ID      uuid.UUID
	Client  int64
	Current int64
	Name    string
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("store: stale version for %s %s: client %d, current %d", e.Kind, e.ID, e.Client, e.Current)
}

// Store is the remote persistence collaborator. It offers no row-level
// locking; version tokens are the only concurrency control. One logical save
// consumes at most two round trips: CurrentVersions (preflight) and the
// Start/Execute/Commit triple (commit).
type Store interface {
	// CurrentVersions returns the stored token for each referenced entity.
	// Unknown ids are simply absent from the result.
	CurrentVersions(ctx context.Context, refs []EntityRef) ([]VersionRecord, error)

	StartTransaction(ctx context.Context, operationID uuid.UUID) (string, error)
	// ExecuteBulkOperations applies ops inside the given transaction. Safe to
	// call from concurrent goroutines for independent entity groups; calls on
	// one transaction are serialized internally.
	ExecuteBulkOperations(ctx context.Context, txID string, ops []BulkOperation) ([]OpResult, error)
	CommitTransaction(ctx context.Context, txID string) error
	RollbackTransaction(ctx context.Context, txID string) error
}
