package services

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/craftcost/backend/internal/metrics"
	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditSink is the persistence surface of the ledger; *repositories.AuditRepo
// implements it.
type AuditSink interface {
	Append(ctx context.Context, entry models.AuditEntry) error
	Query(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error)
	Count(ctx context.Context) (int, error)
	OldestTimestamp(ctx context.Context) (*time.Time, error)
	PruneOldest(ctx context.Context, keep int, criticalActions []string) (int, error)
	PruneExpired(ctx context.Context, cutoff time.Time, criticalActions []string) (int, error)
}

// AuditService keeps the append-mostly mutation ledger. Writes are
// best-effort: a sink failure is logged and swallowed, never surfaced to the
// user-facing save. Retention is evaluated after every write.
type AuditService struct {
	sink    AuditSink
	policy  models.RetentionPolicy
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewAuditService(sink AuditSink, policy models.RetentionPolicy, m *metrics.Metrics, log *zap.Logger) *AuditService {
	return &AuditService{sink: sink, policy: policy, metrics: m, log: log, now: time.Now}
}

// LogAction appends one ledger entry and evaluates retention.
func (s *AuditService) LogAction(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.sink.Append(ctx, entry); err != nil {
		// Fallback channel: the save must not fail on a ledger error.
		s.log.Error("audit write failed",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.Error(err),
		)
		return
	}
	s.evaluateRetention(ctx)
}

func (s *AuditService) LogIngredientChange(ctx context.Context, opID, userID uuid.UUID, action string, old, cur *models.Ingredient) {
	var id uuid.UUID
	if cur != nil {
		id = cur.ID
	} else if old != nil {
		id = old.ID
	}
	s.logEntityChange(ctx, opID, userID, action, models.KindIngredient, id, asAny(old), asAny(cur))
}

func (s *AuditService) LogRecipeChange(ctx context.Context, opID, userID uuid.UUID, action string, old, cur *models.Recipe) {
	var id uuid.UUID
	if cur != nil {
		id = cur.ID
	} else if old != nil {
		id = old.ID
	}
	s.logEntityChange(ctx, opID, userID, action, models.KindRecipe, id, asAny(old), asAny(cur))
}

func (s *AuditService) LogPackagingChange(ctx context.Context, opID, userID uuid.UUID, action string, old, cur *models.Packaging) {
	var id uuid.UUID
	if cur != nil {
		id = cur.ID
	} else if old != nil {
		id = old.ID
	}
	s.logEntityChange(ctx, opID, userID, action, models.KindPackaging, id, asAny(old), asAny(cur))
}

// LogBatchOperation brackets a save: start and completion markers share the
// operation id so the whole batch can be reconstructed from logs.
func (s *AuditService) LogBatchOperation(ctx context.Context, opID, userID uuid.UUID, action string, meta map[string]any) {
	s.LogAction(ctx, models.AuditEntry{
		OperationID: &opID,
		UserID:      &userID,
		Action:      action,
		EntityType:  "batch",
		Metadata:    meta,
	})
}

func (s *AuditService) Query(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	return s.sink.Query(ctx, f)
}

func (s *AuditService) logEntityChange(ctx context.Context, opID, userID uuid.UUID, action, kind string, id uuid.UUID, old, cur any) {
	changes := FieldDiffs(old, cur)
	if action == models.ActionUpdate && len(changes) == 0 {
		// Nothing actually changed; keep the ledger quiet.
		return
	}
	s.LogAction(ctx, models.AuditEntry{
		OperationID: &opID,
		UserID:      &userID,
		Action:      action,
		EntityType:  kind,
		EntityID:    &id,
		Changes:     changes,
	})
}

func (s *AuditService) evaluateRetention(ctx context.Context) {
	count, err := s.sink.Count(ctx)
	if err != nil {
		s.log.Error("retention: count failed", zap.Error(err))
		return
	}
	oldest, err := s.sink.OldestTimestamp(ctx)
	if err != nil {
		s.log.Error("retention: oldest lookup failed", zap.Error(err))
		return
	}

	overCount := count > s.policy.MaxEntries
	overAge := oldest != nil && s.now().Sub(*oldest) > s.policy.MaxAge
	if !overCount && !overAge {
		return
	}

	critical := make([]string, 0, len(s.policy.CriticalActions))
	for action := range s.policy.CriticalActions {
		critical = append(critical, action)
	}
	sort.Strings(critical)

	removed := 0
	if overAge {
		n, err := s.sink.PruneExpired(ctx, s.now().Add(-s.policy.MaxAge), critical)
		if err != nil {
			s.log.Error("retention: expired prune failed", zap.Error(err))
		} else {
			removed += n
		}
	}
	if overCount {
		n, err := s.sink.PruneOldest(ctx, s.policy.PruneTarget(), critical)
		if err != nil {
			s.log.Error("retention: prune failed", zap.Error(err))
		} else {
			removed += n
		}
	}
	if removed == 0 {
		return
	}

	s.metrics.PruneTotal.Inc()
	s.log.Info("audit retention pruning",
		zap.Int("removed", removed),
		zap.Int("count_before", count),
		zap.Int("target", s.policy.PruneTarget()),
	)

	// The prune marker is itself a critical action, so it cannot be pruned
	// away. Appended directly to avoid re-triggering retention.
	entry := models.AuditEntry{
		ID:         uuid.New(),
		Action:     models.ActionRetentionPruning,
		EntityType: "audit_log",
		Metadata: map[string]any{
			"removed":      removed,
			"count_before": count,
			"target":       s.policy.PruneTarget(),
		},
		CreatedAt: s.now(),
	}
	if err := s.sink.Append(ctx, entry); err != nil {
		s.log.Error("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// auditFieldExclusions are self-referential bookkeeping fields that never
// show up as diffs.
var auditFieldExclusions = map[string]bool{
	"id":         true,
	"version":    true,
	"created_at": true,
	"updated_at": true,
}

// FieldDiffs computes field-level changes between two serialized entity
// snapshots. With a nil old value every field is reported with a nil
// OldValue (creation); otherwise only fields whose serialized values differ
// are included.
func FieldDiffs(old, cur any) []models.FieldChange {
	curMap := toFieldMap(cur)
	if curMap == nil {
		return nil
	}
	oldMap := toFieldMap(old)

	fields := make([]string, 0, len(curMap))
	for f := range curMap {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var changes []models.FieldChange
	for _, f := range fields {
		if auditFieldExclusions[f] {
			continue
		}
		newVal := curMap[f]
		if oldMap == nil {
			changes = append(changes, models.FieldChange{Field: f, OldValue: nil, NewValue: newVal})
			continue
		}
		oldVal, had := oldMap[f]
		if !had || !reflect.DeepEqual(oldVal, newVal) {
			changes = append(changes, models.FieldChange{Field: f, OldValue: oldVal, NewValue: newVal})
		}
	}
	return changes
}

func toFieldMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func asAny[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
