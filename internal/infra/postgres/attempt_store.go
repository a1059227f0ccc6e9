package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assessment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AttemptStore persists the attempt ledger. The partial unique index on
// (definition_id, participant_id) WHERE finished_at IS NULL makes the
// one-in-progress invariant a database guarantee; finalization is a
// compare-and-swap on finished_at.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) CreateInProgress(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("marshal attempt: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (id, definition_id, participant_id, attempt_number, started_at, finished_at, data)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (definition_id, participant_id) WHERE finished_at IS NULL DO NOTHING`,
		a.ID, a.DefinitionID, a.ParticipantID, a.AttemptNumber, a.StartedAt, data)
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("insert attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race: another start already holds the in-progress slot.
		existing, err := s.GetActive(ctx, a.DefinitionID, a.ParticipantID)
		if err != nil {
			return domain.Attempt{}, false, err
		}
		return existing, false, nil
	}
	return a, true, nil
}

func (s *AttemptStore) GetActive(ctx context.Context, definitionID, participantID string) (domain.Attempt, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM attempts
		WHERE definition_id=$1 AND participant_id=$2 AND finished_at IS NULL`,
		definitionID, participantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrNoActiveAttempt
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load active attempt: %w", err)
	}
	return unmarshalAttempt(raw)
}

func (s *AttemptStore) CountForParticipant(ctx context.Context, definitionID, participantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM attempts WHERE definition_id=$1 AND participant_id=$2`,
		definitionID, participantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *AttemptStore) Finalize(ctx context.Context, a domain.Attempt) error {
	if a.FinishedAt == nil {
		return fmt.Errorf("finalize: attempt %s has no finish time", a.ID)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts SET finished_at=$2, data=$3
		WHERE id=$1 AND finished_at IS NULL`,
		a.ID, a.FinishedAt, data)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM attempts WHERE id=$1)`, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check attempt: %w", err)
		}
		if !exists {
			return domain.ErrAttemptNotFound
		}
		return domain.ErrAlreadySubmitted
	}
	return nil
}

func (s *AttemptStore) ListForParticipant(ctx context.Context, definitionID, participantID string) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM attempts
		WHERE definition_id=$1 AND participant_id=$2
		ORDER BY attempt_number`,
		definitionID, participantID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *AttemptStore) ListForDefinition(ctx context.Context, definitionID string, limit, offset int) ([]domain.Attempt, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM attempts WHERE definition_id=$1`, definitionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM attempts
		WHERE definition_id=$1
		ORDER BY started_at DESC, id LIMIT $2 OFFSET $3`,
		definitionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	attempts, err := collectAttempts(rows)
	return attempts, total, err
}

func (s *AttemptStore) HasAttempts(ctx context.Context, definitionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM attempts WHERE definition_id=$1)`, definitionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attempts: %w", err)
	}
	return exists, nil
}

func collectAttempts(rows pgx.Rows) ([]domain.Attempt, error) {
	var out []domain.Attempt
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a, err := unmarshalAttempt(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func unmarshalAttempt(raw []byte) (domain.Attempt, error) {
	var a domain.Attempt
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Attempt{}, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return a, nil
}
