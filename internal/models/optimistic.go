package models

import (
	"time"

	"github.com/google/uuid"
)

// AffectedItem is one entity touched by a speculative operation. OriginalData
// anchors to the value before the first unconfirmed edit, so rollback restores
// the true pre-edit state even after several speculative edits in a row.
type AffectedItem struct {
	Type           string    `json:"type"` // entity kind
	ID             uuid.UUID `json:"id"`
	OriginalData   any       `json:"original_data"`
	OptimisticData any       `json:"optimistic_data"`
}

// OptimisticOperation groups the speculative edits that will be committed or
// rolled back together.
type OptimisticOperation struct {
	OperationID   uuid.UUID      `json:"operation_id"`
	AffectedItems []AffectedItem `json:"affected_items"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        uuid.UUID      `json:"user_id"`
}

// RollbackItemError reports one item the rollback callback could not restore.
type RollbackItemError struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Message string    `json:"message"`
}

// RollbackReport summarizes a rollback: restored items plus the ones needing
// manual reconciliation.
type RollbackReport struct {
	OperationID uuid.UUID           `json:"operation_id"`
	Reason      string              `json:"reason"`
	Restored    int                 `json:"restored"`
	Errors      []RollbackItemError `json:"errors,omitempty"`
}
