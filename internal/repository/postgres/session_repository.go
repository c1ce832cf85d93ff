package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
)

const sessionColumns = `id, user_id, pipeline_filter, total_leads, attempted_count, completed_count,
	active, started_at, ended_at, updated_at`

// SessionRepository implements repository.SessionRepository.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Start closes the previous active session and snapshots the lead queue.
func (r *SessionRepository) Start(ctx context.Context, session *domain.DialSession, leadIDs []uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE dial_sessions SET active = FALSE, ended_at = $2, updated_at = $2
			WHERE user_id = $1 AND active`, session.UserID, session.StartedAt); err != nil {
			return fmt.Errorf("session repo: close previous: %w", err)
		}

		q := `INSERT INTO dial_sessions (` + sessionColumns + `) VALUES (
			:id, :user_id, :pipeline_filter, :total_leads, :attempted_count, :completed_count,
			:active, :started_at, :ended_at, :updated_at
		)`
		if _, err := tx.NamedExecContext(ctx, q, fromSession(session)); err != nil {
			return fmt.Errorf("session repo: insert: %w", err)
		}

		if len(leadIDs) == 0 {
			return nil
		}
		rows := make([]map[string]any, 0, len(leadIDs))
		for i, id := range leadIDs {
			rows = append(rows, map[string]any{
				"session_id": session.ID,
				"lead_id":    id,
				"position":   i + 1,
				"state":      string(domain.QueueStatePending),
			})
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO dial_queue (session_id, lead_id, position, state)
			VALUES (:session_id, :lead_id, :position, :state)`, rows); err != nil {
			return fmt.Errorf("session repo: queue leads: %w", err)
		}
		return nil
	})
}

// Get returns a session owned by the user.
func (r *SessionRepository) Get(ctx context.Context, userID string, id uuid.UUID) (*domain.DialSession, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM dial_sessions WHERE user_id = $1 AND id = $2`, userID, id)
}

// GetActive returns the user's active session.
func (r *SessionRepository) GetActive(ctx context.Context, userID string) (*domain.DialSession, error) {
	return r.one(ctx, `SELECT `+sessionColumns+` FROM dial_sessions WHERE user_id = $1 AND active`, userID)
}

// ClaimNext moves up to n pending queue entries into the dialing state.
func (r *SessionRepository) ClaimNext(ctx context.Context, sessionID uuid.UUID, n int) ([]domain.QueuedLead, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed []domain.QueuedLead
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, `WITH next AS (
				SELECT session_id, lead_id, position FROM dial_queue
				WHERE session_id = $1 AND state = 'pending'
				ORDER BY position
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			UPDATE dial_queue q SET state = 'dialing'
			FROM next
			WHERE q.session_id = next.session_id AND q.lead_id = next.lead_id
			RETURNING q.position, q.lead_id`, sessionID, n)
		if err != nil {
			return fmt.Errorf("session repo: claim: %w", err)
		}
		defer rows.Close()

		var leadIDs []uuid.UUID
		positions := map[uuid.UUID]int{}
		for rows.Next() {
			var (
				pos int
				id  uuid.UUID
			)
			if err := rows.Scan(&pos, &id); err != nil {
				return fmt.Errorf("session repo: scan claim: %w", err)
			}
			leadIDs = append(leadIDs, id)
			positions[id] = pos
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("session repo: claim rows: %w", err)
		}
		if len(leadIDs) == 0 {
			return nil
		}

		leadRows, err := tx.QueryxContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ANY($1)`, leadIDs)
		if err != nil {
			return fmt.Errorf("session repo: load leads: %w", err)
		}
		defer leadRows.Close()
		for leadRows.Next() {
			var rec leadRecord
			if err := leadRows.StructScan(&rec); err != nil {
				return fmt.Errorf("session repo: scan lead: %w", err)
			}
			claimed = append(claimed, domain.QueuedLead{
				SessionID: sessionID,
				Position:  positions[rec.ID],
				Lead:      rec.toDomain(),
			})
		}
		return leadRows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].Position < claimed[j].Position })
	return claimed, nil
}

// IncrementAttempted bumps the attempted counter while below the total.
func (r *SessionRepository) IncrementAttempted(ctx context.Context, sessionID uuid.UUID) error {
	return r.increment(ctx, `UPDATE dial_sessions SET attempted_count = attempted_count + 1, updated_at = NOW()
		WHERE id = $1 AND attempted_count < total_leads`, sessionID)
}

// IncrementCompleted bumps the completed counter while below attempted.
func (r *SessionRepository) IncrementCompleted(ctx context.Context, sessionID uuid.UUID) error {
	return r.increment(ctx, `UPDATE dial_sessions SET completed_count = completed_count + 1, updated_at = NOW()
		WHERE id = $1 AND completed_count < attempted_count`, sessionID)
}

// End deactivates a session. Ending an already closed session is a no-op.
func (r *SessionRepository) End(ctx context.Context, userID string, sessionID uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dial_sessions SET active = FALSE, ended_at = COALESCE(ended_at, $3), updated_at = $3
		WHERE user_id = $1 AND id = $2`, userID, sessionID, at)
	if err != nil {
		return fmt.Errorf("session repo: end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) increment(ctx context.Context, query string, sessionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("session repo: increment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session repo: counter bound reached: %w", repository.ErrConflict)
	}
	return nil
}

func (r *SessionRepository) one(ctx context.Context, query string, args ...any) (*domain.DialSession, error) {
	var rec sessionRecord
	if err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("session repo: get: %w", err)
	}
	s := rec.toDomain()
	return &s, nil
}

type sessionRecord struct {
	ID             uuid.UUID    `db:"id"`
	UserID         string       `db:"user_id"`
	PipelineFilter string       `db:"pipeline_filter"`
	TotalLeads     int          `db:"total_leads"`
	AttemptedCount int          `db:"attempted_count"`
	CompletedCount int          `db:"completed_count"`
	Active         bool         `db:"active"`
	StartedAt      time.Time    `db:"started_at"`
	EndedAt        sql.NullTime `db:"ended_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func fromSession(s *domain.DialSession) sessionRecord {
	rec := sessionRecord{
		ID:             s.ID,
		UserID:         s.UserID,
		PipelineFilter: s.PipelineFilter,
		TotalLeads:     s.TotalLeads,
		AttemptedCount: s.AttemptedCount,
		CompletedCount: s.CompletedCount,
		Active:         s.Active,
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.EndedAt != nil {
		rec.EndedAt = sql.NullTime{Time: *s.EndedAt, Valid: true}
	}
	return rec
}

func (r sessionRecord) toDomain() domain.DialSession {
	s := domain.DialSession{
		ID:             r.ID,
		UserID:         r.UserID,
		PipelineFilter: r.PipelineFilter,
		TotalLeads:     r.TotalLeads,
		AttemptedCount: r.AttemptedCount,
		CompletedCount: r.CompletedCount,
		Active:         r.Active,
		StartedAt:      r.StartedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		s.EndedAt = &t
	}
	return s
}
