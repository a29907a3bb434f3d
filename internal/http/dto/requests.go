package dto

import "encoding/json"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ApplyChangeRequest records one speculative edit. Original is null for a
// creation; payloads are decoded per Type.
type ApplyChangeRequest struct {
	OperationID string          `json:"operation_id"`
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Original    json.RawMessage `json:"original,omitempty"`
	Optimistic  json.RawMessage `json:"optimistic"`
}

// ResolveConflictsRequest picks a side after a conflicted save.
type ResolveConflictsRequest struct {
	Action string `json:"action"` // refresh / override
}

type RollbackRequest struct {
	Reason string `json:"reason"`
}
