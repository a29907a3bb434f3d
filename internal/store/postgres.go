package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres implements Store on a pgx pool. Open transactions are plain pgx
// transactions held by id until commit or rollback; a per-transaction mutex
// lets callers fan out bulk operations from several goroutines.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	mu   sync.Mutex
	open map[string]*txHandle
}

type txHandle struct {
	mu sync.Mutex
	tx pgx.Tx
}

func NewPostgres(pool *pgxpool.Pool, log *zap.Logger) *Postgres {
	return &Postgres{pool: pool, log: log, open: make(map[string]*txHandle)}
}

func (s *Postgres) CurrentVersions(ctx context.Context, refs []EntityRef) ([]VersionRecord, error) {
	byKind := map[string][]uuid.UUID{}
	for _, r := range refs {
		byKind[r.Kind] = append(byKind[r.Kind], r.ID)
	}

	var records []VersionRecord
	for kind, ids := range byKind {
		table, err := tableFor(kind)
		if err != nil {
			return nil, err
		}
		rows, err := s.pool.Query(ctx, fmt.Sprintf(`
			SELECT id, version, name FROM %s WHERE id = ANY($1) AND deleted_at IS NULL
		`, table), ids)
		if err != nil {
			return nil, fmt.Errorf("read versions for %s: %w", kind, err)
		}
		for rows.Next() {
			rec := VersionRecord{Kind: kind}
			if err := rows.Scan(&rec.ID, &rec.Version, &rec.Name); err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Postgres) StartTransaction(ctx context.Context, operationID uuid.UUID) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	txID := uuid.New().String()
	s.mu.Lock()
	s.open[txID] = &txHandle{tx: tx}
	s.mu.Unlock()

	s.log.Debug("store transaction started",
		zap.String("tx_id", txID),
		zap.String("operation_id", operationID.String()),
	)
	return txID, nil
}

func (s *Postgres) ExecuteBulkOperations(ctx context.Context, txID string, ops []BulkOperation) ([]OpResult, error) {
	h, err := s.handle(txID)
	if err != nil {
		return nil, err
	}

	// pgx transactions are not safe for concurrent statements;
	// serialize per transaction and let callers fan out freely.
	h.mu.Lock()
	defer h.mu.Unlock()

	results := make([]OpResult, 0, len(ops))
	for _, op := range ops {
		var (
			version int64
			execErr error
		)
		switch op.EntityKind {
		case models.KindIngredient:
			version, execErr = s.applyIngredient(ctx, h.tx, op)
		case models.KindRecipe:
			version, execErr = s.applyRecipe(ctx, h.tx, op)
		case models.KindPackaging:
			version, execErr = s.applyPackaging(ctx, h.tx, op)
		default:
			execErr = fmt.Errorf("unknown entity kind %q", op.EntityKind)
		}
		if execErr != nil {
			return nil, execErr
		}
		results = append(results, OpResult{EntityKind: op.EntityKind, ID: op.EntityID, Version: version})
	}
	return results, nil
}

func (s *Postgres) CommitTransaction(ctx context.Context, txID string) error {
	h, err := s.take(txID)
	if err != nil {
		return err
	}
	if err := h.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) RollbackTransaction(ctx context.Context, txID string) error {
	h, err := s.take(txID)
	if err != nil {
		return err
	}
	if err := h.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (s *Postgres) handle(txID string) (*txHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.open[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return h, nil
}

// take removes the handle so a transaction cannot be finalized twice.
func (s *Postgres) take(txID string) (*txHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.open[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	delete(s.open, txID)
	return h, nil
}

func tableFor(kind string) (string, error) {
	switch kind {
	case models.KindIngredient:
		return "ingredients", nil
	case models.KindRecipe:
		return "recipes", nil
	case models.KindPackaging:
		return "packaging", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

func (s *Postgres) applyIngredient(ctx context.Context, tx pgx.Tx, op BulkOperation) (int64, error) {
	ing, ok := op.Payload.(models.Ingredient)
	if !ok && op.Op != OpDelete {
		return 0, fmt.Errorf("ingredient op %s: unexpected payload %T", op.Op, op.Payload)
	}

	var version int64
	switch op.Op {
	case OpCreate:
		err := tx.QueryRow(ctx, `
			INSERT INTO ingredients (id, name, unit, cost_per_unit, complimentary, supplier, notes, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			RETURNING version
		`, op.EntityID, ing.Name, ing.Unit, ing.CostPerUnit, ing.Complimentary, ing.Supplier, ing.Notes).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("create ingredient %s: %w", op.EntityID, err)
		}
	case OpUpdate:
		err := tx.QueryRow(ctx, `
			UPDATE ingredients
			SET name=$2, unit=$3, cost_per_unit=$4, complimentary=$5, supplier=$6, notes=$7,
			    version = version + 1, updated_at = now()
			WHERE id=$1 AND deleted_at IS NULL AND version=$8
			RETURNING version
		`, op.EntityID, ing.Name, ing.Unit, ing.CostPerUnit, ing.Complimentary, ing.Supplier, ing.Notes, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
	case OpDelete:
		err := tx.QueryRow(ctx, `
			UPDATE ingredients SET deleted_at = now(), version = version + 1
			WHERE id=$1 AND deleted_at IS NULL AND version=$2
			RETURNING version
		`, op.EntityID, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
	default:
		return 0, fmt.Errorf("unknown bulk op %q", op.Op)
	}
	return version, nil
}

func (s *Postgres) applyPackaging(ctx context.Context, tx pgx.Tx, op BulkOperation) (int64, error) {
	pkg, ok := op.Payload.(models.Packaging)
	if !ok && op.Op != OpDelete {
		return 0, fmt.Errorf("packaging op %s: unexpected payload %T", op.Op, op.Payload)
	}

	var version int64
	switch op.Op {
	case OpCreate:
		err := tx.QueryRow(ctx, `
			INSERT INTO packaging (id, name, cost_per_unit, supplier, version)
			VALUES ($1, $2, $3, $4, 1)
			RETURNING version
		`, op.EntityID, pkg.Name, pkg.CostPerUnit, pkg.Supplier).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("create packaging %s: %w", op.EntityID, err)
		}
	case OpUpdate:
		err := tx.QueryRow(ctx, `
			UPDATE packaging
			SET name=$2, cost_per_unit=$3, supplier=$4, version = version + 1, updated_at = now()
			WHERE id=$1 AND deleted_at IS NULL AND version=$5
			RETURNING version
		`, op.EntityID, pkg.Name, pkg.CostPerUnit, pkg.Supplier, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
	case OpDelete:
		err := tx.QueryRow(ctx, `
			UPDATE packaging SET deleted_at = now(), version = version + 1
			WHERE id=$1 AND deleted_at IS NULL AND version=$2
			RETURNING version
		`, op.EntityID, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
	default:
		return 0, fmt.Errorf("unknown bulk op %q", op.Op)
	}
	return version, nil
}

func (s *Postgres) applyRecipe(ctx context.Context, tx pgx.Tx, op BulkOperation) (int64, error) {
	rec, ok := op.Payload.(models.Recipe)
	if !ok && op.Op != OpDelete {
		return 0, fmt.Errorf("recipe op %s: unexpected payload %T", op.Op, op.Payload)
	}

	var version int64
	switch op.Op {
	case OpCreate:
		err := tx.QueryRow(ctx, `
			INSERT INTO recipes (id, name, category, batch_size, version)
			VALUES ($1, $2, $3, $4, 1)
			RETURNING version
		`, op.EntityID, rec.Name, rec.Category, rec.BatchSize).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("create recipe %s: %w", op.EntityID, err)
		}
	case OpUpdate:
		err := tx.QueryRow(ctx, `
			UPDATE recipes
			SET name=$2, category=$3, batch_size=$4, version = version + 1, updated_at = now()
			WHERE id=$1 AND deleted_at IS NULL AND version=$5
			RETURNING version
		`, op.EntityID, rec.Name, rec.Category, rec.BatchSize, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
	case OpDelete:
		err := tx.QueryRow(ctx, `
			UPDATE recipes SET deleted_at = now(), version = version + 1
			WHERE id=$1 AND deleted_at IS NULL AND version=$2
			RETURNING version
		`, op.EntityID, op.ClientVersion).Scan(&version)
		if err != nil {
			return 0, s.staleOrErr(ctx, tx, op, err)
		}
		return version, nil
	default:
		return 0, fmt.Errorf("unknown bulk op %q", op.Op)
	}

	// Lines are replaced wholesale; their identity lives inside the recipe.
	if _, err := tx.Exec(ctx, `DELETE FROM recipe_lines WHERE recipe_id=$1`, op.EntityID); err != nil {
		return 0, fmt.Errorf("replace recipe lines %s: %w", op.EntityID, err)
	}
	for _, line := range rec.Lines {
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO recipe_lines (id, recipe_id, ingredient_id, quantity, unit, active, complimentary)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, line.ID, op.EntityID, line.IngredientID, line.Quantity, line.Unit, line.Active, line.Complimentary)
		if err != nil {
			return 0, fmt.Errorf("insert recipe line for %s: %w", op.EntityID, err)
		}
	}
	return version, nil
}

// staleOrErr distinguishes "token advanced since preflight" from a plain
// failure. A zero-row update on an existing row means the guard lost the race.
func (s *Postgres) staleOrErr(ctx context.Context, tx pgx.Tx, op BulkOperation, cause error) error {
	if !errors.Is(cause, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s %s: %w", op.Op, op.EntityKind, op.EntityID, cause)
	}

	table, err := tableFor(op.EntityKind)
	if err != nil {
		return err
	}
	var (
		current int64
		name    string
	)
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT version, name FROM %s WHERE id=$1 AND deleted_at IS NULL
	`, table), op.EntityID).Scan(&current, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s %s: entity not found", op.Op, op.EntityKind, op.EntityID)
	}
	if err != nil {
		return err
	}
	return &StaleVersionError{
		Kind:    op.EntityKind,
		ID:      op.EntityID,
		Client:  op.ClientVersion,
		Current: current,
		Name:    name,
	}
}
