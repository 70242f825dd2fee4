package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Relay/internal/domain"
)

// schema — таблица сохранённых графов.
const schema = `
	CREATE TABLE IF NOT EXISTS flows (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		definition  JSONB NOT NULL,
		revision    BIGINT NOT NULL DEFAULT 1,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// FlowRecord — сохранённый граф.
type FlowRecord struct {
	ID         string
	Name       string
	Definition *domain.GraphDefinition
	Revision   int64
	Enabled    bool
	UpdatedAt  time.Time
}

// FlowRepo — репозиторий графов в таблице flows.
//
// Каждое сохранение увеличивает revision: по ней оркестратор
// понимает, что граф нужно развернуть заново.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// EnsureSchema создаёт таблицу flows, если её нет.
func (r *FlowRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save сохраняет граф (insert или update) и возвращает запись
// с новой ревизией.
func (r *FlowRepo) Save(ctx context.Context, def *domain.GraphDefinition) (*FlowRecord, error) {
	if def == nil || def.ID == "" {
		return nil, fmt.Errorf("%w: flow id is required", ErrInvalidState)
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO flows (id, name, definition, revision, enabled, updated_at)
		VALUES ($1, $2, $3, 1, TRUE, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    definition = EXCLUDED.definition,
		    revision = flows.revision + 1,
		    updated_at = NOW()
		RETURNING id, name, definition, revision, enabled, updated_at
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, def.ID, def.Label, data))
	if err != nil {
		return nil, fmt.Errorf("save flow: %w", err)
	}
	return rec, nil
}

// Get возвращает граф по ID.
func (r *FlowRepo) Get(ctx context.Context, id string) (*FlowRecord, error) {
	query := `
		SELECT id, name, definition, revision, enabled, updated_at
		FROM flows
		WHERE id = $1
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return rec, nil
}

// List возвращает все включённые графы, упорядоченные по ID.
func (r *FlowRepo) List(ctx context.Context) ([]FlowRecord, error) {
	query := `
		SELECT id, name, definition, revision, enabled, updated_at
		FROM flows
		WHERE enabled
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var records []FlowRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SetEnabled включает или выключает граф. Выключенный граф
// останавливается оркестратором при следующей синхронизации.
func (r *FlowRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `
		UPDATE flows
		SET enabled = $2, revision = revision + 1, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет граф.
func (r *FlowRepo) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*FlowRecord, error) {
	var (
		rec  FlowRecord
		data []byte
	)
	if err := row.Scan(&rec.ID, &rec.Name, &data, &rec.Revision, &rec.Enabled, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	def, err := decodeDefinition(data)
	if err != nil {
		return nil, err
	}
	rec.Definition = def
	return &rec, nil
}

// decodeDefinition разбирает JSONB-определение графа.
func decodeDefinition(data []byte) (*domain.GraphDefinition, error) {
	var def domain.GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &def, nil
}
