package events

import "context"

// Event types
const (
	EventGlobalSaveStart    = "global_save_start"
	EventGlobalSaveComplete = "global_save_complete"
	EventGlobalSaveError    = "global_save_error"
	EventConflictDetected   = "conflict_detected"
	EventConflictRefreshed  = "conflict_refreshed"
	EventConflictOverridden = "conflict_overridden"
	EventEntityRestored     = "entity_restored"
)

// StreamSave is the pub/sub channel carrying save lifecycle events.
const StreamSave = "events:save"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
