package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assessment-service/internal/app"
	"assessment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// DefinitionStore persists assessment definitions as JSONB documents,
// with the fields used for filtering mirrored into columns.
type DefinitionStore struct {
	pool *pgxpool.Pool
}

func NewDefinitionStore(pool *pgxpool.Pool) *DefinitionStore {
	return &DefinitionStore{pool: pool}
}

func (s *DefinitionStore) Create(ctx context.Context, def domain.AssessmentDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO assessment_definitions (id, data, course_ref, published, active, closes_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		def.ID, data, def.CourseRef, def.Published, def.Active, def.ClosesAt, def.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindConflict, "assessment %q already exists", def.ID)
	}
	return nil
}

func (s *DefinitionStore) Get(ctx context.Context, id string) (domain.AssessmentDefinition, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM assessment_definitions WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssessmentDefinition{}, domain.ErrDefinitionNotFound
	}
	if err != nil {
		return domain.AssessmentDefinition{}, fmt.Errorf("load definition: %w", err)
	}
	var def domain.AssessmentDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.AssessmentDefinition{}, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, nil
}

func (s *DefinitionStore) Update(ctx context.Context, def domain.AssessmentDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE assessment_definitions
		SET data=$2, course_ref=$3, published=$4, active=$5, closes_at=$6
		WHERE id=$1`,
		def.ID, data, def.CourseRef, def.Published, def.Active, def.ClosesAt)
	if err != nil {
		return fmt.Errorf("update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDefinitionNotFound
	}
	return nil
}

func (s *DefinitionStore) List(ctx context.Context, opts app.ListOpts) ([]domain.AssessmentDefinition, int, error) {
	where := `WHERE ($1 = '' OR course_ref = $1) AND ($2::boolean IS NULL OR published = $2)`
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM assessment_definitions `+where,
		opts.CourseRef, opts.Published).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count definitions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM assessment_definitions `+where+` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`,
		opts.CourseRef, opts.Published, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AssessmentDefinition, 0, opts.Limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("scan definition: %w", err)
		}
		var def domain.AssessmentDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, 0, fmt.Errorf("unmarshal definition: %w", err)
		}
		out = append(out, def)
	}
	return out, total, rows.Err()
}

func (s *DefinitionStore) DeactivateClosed(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assessment_definitions
		SET active = FALSE, data = jsonb_set(data, '{active}', 'false')
		WHERE active AND closes_at IS NOT NULL AND closes_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate closed definitions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
