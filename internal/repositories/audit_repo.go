package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/craftcost/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Append(ctx context.Context, entry models.AuditEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, operation_id, user_id, action, entity_type, entity_id, changes, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.OperationID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, changes, meta)
	return err
}

// Query returns entries newest-first, filtered and paginated.
func (r *AuditRepo) Query(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != nil {
		add("entity_id = $%d", *f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	q := `SELECT id, operation_id, user_id, action, entity_type, entity_id, changes, meta, created_at FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			changes []byte
			meta    []byte
		)
		if err := rows.Scan(&e.ID, &e.OperationID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &changes, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			_ = json.Unmarshal(changes, &e.Changes)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AuditRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_log`).Scan(&n)
	return n, err
}

func (r *AuditRepo) OldestTimestamp(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `SELECT min(created_at) FROM audit_log`).Scan(&ts)
	return ts, err
}

// PruneOldest deletes the oldest entries whose action is not in the critical
// set, down to keep entries total. Returns the number removed.
func (r *AuditRepo) PruneOldest(ctx context.Context, keep int, criticalActions []string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM audit_log
		WHERE id IN (
			SELECT id FROM audit_log
			WHERE NOT (action = ANY($1))
			ORDER BY created_at ASC
			LIMIT GREATEST((SELECT count(*) FROM audit_log) - $2, 0)
		)
	`, criticalActions, keep)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PruneExpired deletes non-critical entries older than the cutoff regardless
// of the count target.
func (r *AuditRepo) PruneExpired(ctx context.Context, cutoff time.Time, criticalActions []string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM audit_log
		WHERE created_at < $1 AND NOT (action = ANY($2))
	`, cutoff, criticalActions)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
