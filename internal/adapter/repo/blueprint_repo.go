package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
	"github.com/Driserq/Convergence-sub001/internal/sqlinline"
)

var _ domain.BlueprintStore = (*BlueprintStorePG)(nil)

// BlueprintStorePG implements domain.BlueprintStore on the blueprints table.
type BlueprintStorePG struct {
	db infra.SQLExecutor
}

func NewBlueprintStore(db infra.SQLExecutor) *BlueprintStorePG {
	return &BlueprintStorePG{db: db}
}

func (r *BlueprintStorePG) CreatePending(ctx context.Context, bp *domain.Blueprint) error {
	reqJSON, err := json.Marshal(bp.RequestData)
	if err != nil {
		return fmt.Errorf("encode request data: %w", err)
	}
	row := r.db.QueryRow(ctx, sqlinline.QInsertBlueprint, bp.ID, bp.UserID, bp.Title, reqJSON)
	if err := row.Scan(&bp.CreatedAt, &bp.UpdatedAt); err != nil {
		return err
	}
	bp.Status = domain.BlueprintStatusPending
	return nil
}

func (r *BlueprintStorePG) ResetPending(ctx context.Context, id string, req domain.RequestData) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request data: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlinline.QResetBlueprintPending, id, reqJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *BlueprintStorePG) Get(ctx context.Context, id string) (*domain.Blueprint, error) {
	bp, err := scanBlueprint(r.db.QueryRow(ctx, sqlinline.QSelectBlueprint, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return bp, nil
}

// MarkCompleted is a no-op unless the blueprint is still pending.
func (r *BlueprintStorePG) MarkCompleted(ctx context.Context, id string, payload json.RawMessage, provider string) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkBlueprintCompleted, id, []byte(payload), provider)
	return err
}

// MarkFailed is a no-op unless the blueprint is still pending.
func (r *BlueprintStorePG) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, sqlinline.QMarkBlueprintFailed, id)
	return err
}

func (r *BlueprintStorePG) ListOrphanedPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Blueprint, error) {
	rows, err := r.db.Query(ctx, sqlinline.QSelectOrphanedBlueprints, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Blueprint
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bp)
	}
	return out, rows.Err()
}

func scanBlueprint(row pgx.Row) (*domain.Blueprint, error) {
	var (
		bp      domain.Blueprint
		status  string
		reqJSON []byte
		payload []byte
	)
	if err := row.Scan(
		&bp.ID,
		&bp.UserID,
		&bp.Title,
		&status,
		&reqJSON,
		&payload,
		&bp.Provider,
		&bp.CreatedAt,
		&bp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	bp.Status = domain.BlueprintStatus(status)
	if len(reqJSON) > 0 {
		if err := json.Unmarshal(reqJSON, &bp.RequestData); err != nil {
			return nil, fmt.Errorf("decode request data for blueprint %s: %w", bp.ID, err)
		}
	}
	if len(payload) > 0 {
		bp.Payload = json.RawMessage(payload)
	}
	return &bp, nil
}
