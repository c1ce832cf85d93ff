package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
)

const outcomeColumns = `id, user_id, call_sid, lead_id, session_id, disposition, notes, summary, points, created_at`

// OutcomeRepository implements repository.OutcomeRepository.
type OutcomeRepository struct {
	db *sqlx.DB
}

// NewOutcomeRepository constructs the repository.
func NewOutcomeRepository(db *sqlx.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Insert appends an outcome. call_sid is unique.
func (r *OutcomeRepository) Insert(ctx context.Context, outcome *domain.CallOutcome) error {
	q := `INSERT INTO call_outcomes (` + outcomeColumns + `) VALUES (
		:id, :user_id, :call_sid, :lead_id, :session_id, :disposition, :notes, :summary, :points, :created_at
	)`
	if _, err := r.db.NamedExecContext(ctx, q, fromOutcome(outcome)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("outcome repo: call %s already logged: %w", outcome.CallID, repository.ErrConflict)
		}
		return fmt.Errorf("outcome repo: insert: %w", err)
	}
	return nil
}

// GetByCall returns the outcome logged for a call.
func (r *OutcomeRepository) GetByCall(ctx context.Context, userID, callID string) (*domain.CallOutcome, error) {
	var rec outcomeRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+outcomeColumns+` FROM call_outcomes WHERE user_id = $1 AND call_sid = $2`, userID, callID).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("outcome repo: get: %w", err)
	}
	o := rec.toDomain()
	return &o, nil
}

// ListSince returns the user's outcomes created at or after since.
func (r *OutcomeRepository) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.CallOutcome, error) {
	return r.list(ctx, `SELECT `+outcomeColumns+` FROM call_outcomes
		WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`, userID, since)
}

// ListBySession returns outcomes of one dial session.
func (r *OutcomeRepository) ListBySession(ctx context.Context, userID string, sessionID uuid.UUID) ([]domain.CallOutcome, error) {
	return r.list(ctx, `SELECT `+outcomeColumns+` FROM call_outcomes
		WHERE user_id = $1 AND session_id = $2 ORDER BY created_at`, userID, sessionID)
}

func (r *OutcomeRepository) list(ctx context.Context, query string, args ...any) ([]domain.CallOutcome, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outcome repo: list: %w", err)
	}
	defer rows.Close()

	var out []domain.CallOutcome
	for rows.Next() {
		var rec outcomeRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("outcome repo: scan: %w", err)
		}
		out = append(out, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome repo: rows err: %w", err)
	}
	return out, nil
}

type outcomeRecord struct {
	ID          uuid.UUID     `db:"id"`
	UserID      string        `db:"user_id"`
	CallSID     string        `db:"call_sid"`
	LeadID      uuid.NullUUID `db:"lead_id"`
	SessionID   uuid.NullUUID `db:"session_id"`
	Disposition string        `db:"disposition"`
	Notes       string        `db:"notes"`
	Summary     string        `db:"summary"`
	Points      int           `db:"points"`
	CreatedAt   time.Time     `db:"created_at"`
}

func fromOutcome(o *domain.CallOutcome) outcomeRecord {
	rec := outcomeRecord{
		ID:          o.ID,
		UserID:      o.UserID,
		CallSID:     o.CallID,
		Disposition: string(o.Disposition),
		Notes:       o.Notes,
		Summary:     o.Summary,
		Points:      o.Points,
		CreatedAt:   o.CreatedAt,
	}
	if o.LeadID != nil {
		rec.LeadID = uuid.NullUUID{UUID: *o.LeadID, Valid: true}
	}
	if o.SessionID != nil {
		rec.SessionID = uuid.NullUUID{UUID: *o.SessionID, Valid: true}
	}
	return rec
}

func (r outcomeRecord) toDomain() domain.CallOutcome {
	o := domain.CallOutcome{
		ID:          r.ID,
		UserID:      r.UserID,
		CallID:      r.CallSID,
		Disposition: domain.Disposition(r.Disposition),
		Notes:       r.Notes,
		Summary:     r.Summary,
		Points:      r.Points,
		CreatedAt:   r.CreatedAt,
	}
	if r.LeadID.Valid {
		id := r.LeadID.UUID
		o.LeadID = &id
	}
	if r.SessionID.Valid {
		id := r.SessionID.UUID
		o.SessionID = &id
	}
	return o
}
