package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	ActionCreate           = "CREATE"
	ActionUpdate           = "UPDATE"
	ActionDelete           = "DELETE"
	ActionBatchStart       = "BATCH_START"
	ActionBatchComplete    = "BATCH_COMPLETE"
	ActionBatchFailed      = "BATCH_FAILED"
	ActionConflictOverride = "CONFLICT_OVERRIDE"
	ActionRetentionPruning = "RETENTION_PRUNING"
	ActionRollback         = "ROLLBACK"
)

// FieldChange is one field-level diff inside an audit entry. OldValue is nil
// for creations.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// AuditEntry is immutable once written; only retention pruning removes it.
type AuditEntry struct {
	ID          uuid.UUID      `json:"id"`
	OperationID *uuid.UUID     `json:"operation_id,omitempty"`
	UserID      *uuid.UUID     `json:"user_id,omitempty"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    *uuid.UUID     `json:"entity_id,omitempty"`
	Changes     []FieldChange  `json:"changes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RetentionPolicy bounds the ledger. Entries whose action is critical survive
// pruning regardless of age or count pressure.
type RetentionPolicy struct {
	MaxEntries      int
	MaxAge          time.Duration
	CriticalActions map[string]bool
}

func DefaultRetentionPolicy(maxEntries int, maxAge time.Duration) RetentionPolicy {
	return RetentionPolicy{
		MaxEntries: maxEntries,
		MaxAge:     maxAge,
		CriticalActions: map[string]bool{
			ActionDelete:           true,
			ActionConflictOverride: true,
			ActionRetentionPruning: true,
			ActionBatchFailed:      true,
		},
	}
}

func (p RetentionPolicy) IsCritical(action string) bool {
	return p.CriticalActions[action]
}

// PruneTarget is the entry count pruning aims for once triggered, ~80% of the
// cap so successive writes do not re-trigger immediately.
func (p RetentionPolicy) PruneTarget() int {
	return p.MaxEntries * 8 / 10
}

// AuditFilter selects ledger entries; zero values mean "any".
type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	Action     string
	UserID     *uuid.UUID
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
