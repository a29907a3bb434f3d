package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/craftcost/backend/internal/metrics"
	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memSink is an in-memory AuditSink mirroring the repository's retention
// semantics: prune removes the oldest non-critical entries until the kept
// count reaches the target.
type memSink struct {
	mu        sync.Mutex
	entries   []models.AuditEntry
	appendErr error
}

func (s *memSink) Append(ctx context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memSink) Query(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *memSink) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *memSink) OldestTimestamp(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	oldest := s.entries[0].CreatedAt
	for _, e := range s.entries[1:] {
		if e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	return &oldest, nil
}

func (s *memSink) PruneOldest(ctx context.Context, keep int, criticalActions []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	critical := make(map[string]bool, len(criticalActions))
	for _, a := range criticalActions {
		critical[a] = true
	}

	drop := len(s.entries) - keep
	if drop <= 0 {
		return 0, nil
	}

	removed := 0
	kept := s.entries[:0]
	for _, e := range s.entries {
		if removed < drop && !critical[e.Action] {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *memSink) PruneExpired(ctx context.Context, cutoff time.Time, criticalActions []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	critical := make(map[string]bool, len(criticalActions))
	for _, a := range criticalActions {
		critical[a] = true
	}

	removed := 0
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) && !critical[e.Action] {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *memSink) byAction(action string) []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action == "" {
		return append([]models.AuditEntry(nil), s.entries...)
	}
	var out []models.AuditEntry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestAuditService(sink *memSink, policy models.RetentionPolicy) *AuditService {
	return NewAuditService(sink, policy, metrics.NewNop(), zap.NewNop())
}

func TestLogActionFillsDefaults(t *testing.T) {
	sink := &memSink{}
	svc := newTestAuditService(sink, models.DefaultRetentionPolicy(100, 24*time.Hour))

	svc.LogAction(context.Background(), models.AuditEntry{Action: models.ActionCreate, EntityType: models.KindIngredient})

	entries := sink.byAction(models.ActionCreate)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ID == uuid.Nil {
		t.Fatal("entry id not assigned")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("entry timestamp not assigned")
	}
}

func TestLogActionSwallowsSinkFailure(t *testing.T) {
	sink := &memSink{appendErr: errors.New("ledger down")}
	svc := newTestAuditService(sink, models.DefaultRetentionPolicy(100, 24*time.Hour))

	// Must not panic or propagate; the save flow treats the ledger as
	// best-effort.
	svc.LogAction(context.Background(), models.AuditEntry{Action: models.ActionUpdate, EntityType: models.KindRecipe})

	if n := len(sink.byAction("")); n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestRetentionPruningByCount(t *testing.T) {
	policy := models.DefaultRetentionPolicy(50, 365*24*time.Hour)
	sink := &memSink{}
	now := time.Now()

	// Seed the ledger at its cap, oldest entry first. One early DELETE must
	// survive any pruning.
	deleteID := uuid.New()
	sink.entries = append(sink.entries, models.AuditEntry{
		ID: deleteID, Action: models.ActionDelete, EntityType: models.KindIngredient,
		CreatedAt: now.Add(-50 * time.Minute),
	})
	for i := 1; i < 50; i++ {
		sink.entries = append(sink.entries, models.AuditEntry{
			ID: uuid.New(), Action: models.ActionUpdate, EntityType: models.KindIngredient,
			CreatedAt: now.Add(time.Duration(i-50) * time.Minute),
		})
	}

	svc := newTestAuditService(sink, policy)
	svc.LogAction(context.Background(), models.AuditEntry{Action: models.ActionUpdate, EntityType: models.KindRecipe})

	// 51 entries breached the cap of 50; pruning aims at the 80% target of 40.
	// 11 old UPDATE entries go, the DELETE stays, and the prune run leaves its
	// own marker.
	all := sink.byAction("")
	if len(all) != 41 {
		t.Fatalf("entries after prune = %d, want 41", len(all))
	}

	foundDelete := false
	for _, e := range all {
		if e.ID == deleteID {
			foundDelete = true
		}
	}
	if !foundDelete {
		t.Fatal("critical DELETE entry was pruned")
	}

	markers := sink.byAction(models.ActionRetentionPruning)
	if len(markers) != 1 {
		t.Fatalf("RETENTION_PRUNING markers = %d, want 1", len(markers))
	}
	if markers[0].Metadata["removed"] != 11 {
		t.Fatalf("marker metadata = %+v, want removed=11", markers[0].Metadata)
	}
}

func TestRetentionPruningByAge(t *testing.T) {
	policy := models.DefaultRetentionPolicy(1000, time.Hour)
	sink := &memSink{}
	now := time.Now()

	// Over-age entries, including one critical DELETE that must survive.
	deleteID := uuid.New()
	sink.entries = append(sink.entries, models.AuditEntry{
		ID: deleteID, Action: models.ActionDelete, EntityType: models.KindIngredient,
		CreatedAt: now.Add(-3 * time.Hour),
	})
	for i := 0; i < 10; i++ {
		sink.entries = append(sink.entries, models.AuditEntry{
			ID: uuid.New(), Action: models.ActionUpdate, EntityType: models.KindIngredient,
			CreatedAt: now.Add(-2 * time.Hour),
		})
	}

	svc := newTestAuditService(sink, policy)
	svc.LogAction(context.Background(), models.AuditEntry{Action: models.ActionUpdate, EntityType: models.KindRecipe})

	// Age pressure removes over-age non-critical entries even though the count
	// cap is far away. Left: the critical DELETE, the fresh UPDATE, the marker.
	all := sink.byAction("")
	if len(all) != 3 {
		t.Fatalf("entries after prune = %d, want 3", len(all))
	}
	foundDelete := false
	for _, e := range all {
		if e.ID == deleteID {
			foundDelete = true
		}
	}
	if !foundDelete {
		t.Fatal("critical DELETE entry was pruned")
	}
	markers := sink.byAction(models.ActionRetentionPruning)
	if len(markers) != 1 {
		t.Fatalf("RETENTION_PRUNING markers = %d, want 1", len(markers))
	}
	if markers[0].Metadata["removed"] != 10 {
		t.Fatalf("marker metadata = %+v, want removed=10", markers[0].Metadata)
	}
}

func TestLogEntityChangeSkipsEmptyUpdate(t *testing.T) {
	sink := &memSink{}
	svc := newTestAuditService(sink, models.DefaultRetentionPolicy(100, 24*time.Hour))

	ing := paidIngredient("Flour", 1.2)
	same := ing
	svc.LogIngredientChange(context.Background(), uuid.New(), uuid.New(), models.ActionUpdate, &ing, &same)

	if n := len(sink.byAction("")); n != 0 {
		t.Fatalf("no-op update wrote %d entries", n)
	}
}

func TestFieldDiffsCreation(t *testing.T) {
	ing := paidIngredient("Flour", 1.2)

	changes := FieldDiffs(nil, ing)
	if len(changes) == 0 {
		t.Fatal("expected changes for creation")
	}
	byField := map[string]models.FieldChange{}
	for _, c := range changes {
		byField[c.Field] = c
	}

	for _, excluded := range []string{"id", "version", "created_at", "updated_at"} {
		if _, ok := byField[excluded]; ok {
			t.Fatalf("bookkeeping field %q reported as a diff", excluded)
		}
	}
	name, ok := byField["name"]
	if !ok || name.OldValue != nil || name.NewValue != "Flour" {
		t.Fatalf("unexpected name diff %+v", name)
	}
}

func TestFieldDiffsUpdate(t *testing.T) {
	old := paidIngredient("Flour", 1.2)
	cur := old
	cur.CostPerUnit = 1.5
	cur.Version = old.Version + 1

	changes := FieldDiffs(old, cur)
	if len(changes) != 1 {
		t.Fatalf("changes = %+v, want exactly the cost diff", changes)
	}
	c := changes[0]
	if c.Field != "cost_per_unit" || c.OldValue != 1.2 || c.NewValue != 1.5 {
		t.Fatalf("unexpected diff %+v", c)
	}
}

func TestFieldDiffsNoChange(t *testing.T) {
	ing := paidIngredient("Flour", 1.2)
	if changes := FieldDiffs(ing, ing); len(changes) != 0 {
		t.Fatalf("expected no diffs, got %+v", changes)
	}
}
