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

const callColumns = `call_sid, user_id, lead_id, session_id, batch_id, line_number, to_number,
	status, status_source, amd_result, duration_seconds, started_at, answered_at, ended_at,
	status_changed_at, created_at`

// CallRepository implements repository.CallRepository on the active_calls table.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs the repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Insert stores a freshly placed call.
func (r *CallRepository) Insert(ctx context.Context, call *domain.ActiveCall) error {
	q := `INSERT INTO active_calls (` + callColumns + `) VALUES (
		:call_sid, :user_id, :lead_id, :session_id, :batch_id, :line_number, :to_number,
		:status, :status_source, :amd_result, :duration_seconds, :started_at, :answered_at, :ended_at,
		:status_changed_at, :created_at
	)`
	if _, err := r.db.NamedExecContext(ctx, q, fromCall(call)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("call repo: insert %s: %w", call.CallID, repository.ErrConflict)
		}
		return fmt.Errorf("call repo: insert: %w", err)
	}
	return nil
}

// Get fetches a call by vendor id.
func (r *CallRepository) Get(ctx context.Context, callID string) (*domain.ActiveCall, error) {
	var rec callRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+callColumns+` FROM active_calls WHERE call_sid = $1`, callID).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}
	call := rec.toDomain()
	return &call, nil
}

// CompareAndSetStatus performs the conditional status write.
func (r *CallRepository) CompareAndSetStatus(ctx context.Context, callID string, expected domain.CallStatus, change repository.StatusChange) (bool, error) {
	q := `UPDATE active_calls SET
		status = $3,
		status_source = $4,
		status_changed_at = $5,
		amd_result = CASE WHEN $6 = '' THEN amd_result ELSE $6 END,
		duration_seconds = COALESCE($7, duration_seconds),
		answered_at = CASE WHEN $8 THEN COALESCE(answered_at, $5) ELSE answered_at END,
		ended_at = CASE WHEN $9 THEN COALESCE(ended_at, $5) ELSE ended_at END
	WHERE call_sid = $1 AND status = $2`

	var duration sql.NullInt64
	if change.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: int64(*change.DurationSeconds), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, q,
		callID, string(expected), string(change.Status), string(change.Source), change.ChangedAt,
		string(change.AMDResult), duration, change.MarkAnswered, change.MarkEnded,
	)
	if err != nil {
		return false, fmt.Errorf("call repo: compare and set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("call repo: rows affected: %w", err)
	}
	return n == 1, nil
}

// ListOpenByUser returns every call of the user that has not ended.
func (r *CallRepository) ListOpenByUser(ctx context.Context, userID string) ([]domain.ActiveCall, error) {
	return r.list(ctx, `SELECT `+callColumns+` FROM active_calls
		WHERE user_id = $1 AND ended_at IS NULL ORDER BY line_number`, userID)
}

// ListOpenByLine returns open calls on one line of the user.
func (r *CallRepository) ListOpenByLine(ctx context.Context, userID string, line int) ([]domain.ActiveCall, error) {
	return r.list(ctx, `SELECT `+callColumns+` FROM active_calls
		WHERE user_id = $1 AND line_number = $2 AND ended_at IS NULL`, userID, line)
}

// ListByUser returns the tracked calls of the user, newest first per line.
func (r *CallRepository) ListByUser(ctx context.Context, userID string) ([]domain.ActiveCall, error) {
	return r.list(ctx, `SELECT DISTINCT ON (line_number) `+callColumns+` FROM active_calls
		WHERE user_id = $1 ORDER BY line_number, created_at DESC`, userID)
}

// ListSince returns calls of the user created at or after since.
func (r *CallRepository) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.ActiveCall, error) {
	return r.list(ctx, `SELECT `+callColumns+` FROM active_calls
		WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`, userID, since)
}

// ListBySession returns calls placed within a dial session.
func (r *CallRepository) ListBySession(ctx context.Context, userID string, sessionID uuid.UUID) ([]domain.ActiveCall, error) {
	return r.list(ctx, `SELECT `+callColumns+` FROM active_calls
		WHERE user_id = $1 AND session_id = $2 ORDER BY created_at`, userID, sessionID)
}

// ListStale returns open calls in one of statuses whose last status change
// is older than before.
func (r *CallRepository) ListStale(ctx context.Context, statuses []domain.CallStatus, before time.Time, limit int) ([]domain.ActiveCall, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	return r.list(ctx, `SELECT `+callColumns+` FROM active_calls
		WHERE ended_at IS NULL AND status = ANY($1) AND status_changed_at < $2
		ORDER BY status_changed_at LIMIT $3`, names, before, limit)
}

// DeleteTerminalBefore removes finished calls that ended before the cutoff.
func (r *CallRepository) DeleteTerminalBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM active_calls WHERE call_sid IN (
		SELECT call_sid FROM active_calls WHERE ended_at IS NOT NULL AND ended_at < $1 LIMIT $2
	)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("call repo: delete expired: %w", err)
	}
	return res.RowsAffected()
}

func (r *CallRepository) list(ctx context.Context, query string, args ...any) ([]domain.ActiveCall, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("call repo: list: %w", err)
	}
	defer rows.Close()

	var calls []domain.ActiveCall
	for rows.Next() {
		var rec callRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("call repo: scan: %w", err)
		}
		calls = append(calls, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call repo: rows err: %w", err)
	}
	return calls, nil
}

type callRecord struct {
	CallSID         string        `db:"call_sid"`
	UserID          string        `db:"user_id"`
	LeadID          uuid.NullUUID `db:"lead_id"`
	SessionID       uuid.NullUUID `db:"session_id"`
	BatchID         uuid.UUID     `db:"batch_id"`
	LineNumber      int           `db:"line_number"`
	ToNumber        string        `db:"to_number"`
	Status          string        `db:"status"`
	StatusSource    string        `db:"status_source"`
	AMDResult       string        `db:"amd_result"`
	DurationSeconds int           `db:"duration_seconds"`
	StartedAt       time.Time     `db:"started_at"`
	AnsweredAt      sql.NullTime  `db:"answered_at"`
	EndedAt         sql.NullTime  `db:"ended_at"`
	StatusChangedAt time.Time     `db:"status_changed_at"`
	CreatedAt       time.Time     `db:"created_at"`
}

func fromCall(c *domain.ActiveCall) callRecord {
	rec := callRecord{
		CallSID:         c.CallID,
		UserID:          c.UserID,
		BatchID:         c.BatchID,
		LineNumber:      c.LineNumber,
		ToNumber:        c.ToNumber,
		Status:          string(c.Status),
		StatusSource:    string(c.StatusSource),
		AMDResult:       string(c.AMDResult),
		DurationSeconds: c.DurationSeconds,
		StartedAt:       c.StartedAt,
		StatusChangedAt: c.StatusChangedAt,
		CreatedAt:       c.CreatedAt,
	}
	if c.LeadID != nil {
		rec.LeadID = uuid.NullUUID{UUID: *c.LeadID, Valid: true}
	}
	if c.SessionID != nil {
		rec.SessionID = uuid.NullUUID{UUID: *c.SessionID, Valid: true}
	}
	if c.AnsweredAt != nil {
		rec.AnsweredAt = sql.NullTime{Time: *c.AnsweredAt, Valid: true}
	}
	if c.EndedAt != nil {
		rec.EndedAt = sql.NullTime{Time: *c.EndedAt, Valid: true}
	}
	return rec
}

func (r callRecord) toDomain() domain.ActiveCall {
	call := domain.ActiveCall{
		CallID:          r.CallSID,
		UserID:          r.UserID,
		BatchID:         r.BatchID,
		LineNumber:      r.LineNumber,
		ToNumber:        r.ToNumber,
		Status:          domain.CallStatus(r.Status),
		StatusSource:    domain.StatusSource(r.StatusSource),
		AMDResult:       domain.AMDResult(r.AMDResult),
		DurationSeconds: r.DurationSeconds,
		StartedAt:       r.StartedAt,
		StatusChangedAt: r.StatusChangedAt,
		CreatedAt:       r.CreatedAt,
	}
	if r.LeadID.Valid {
		id := r.LeadID.UUID
		call.LeadID = &id
	}
	if r.SessionID.Valid {
		id := r.SessionID.UUID
		call.SessionID = &id
	}
	if r.AnsweredAt.Valid {
		t := r.AnsweredAt.Time
		call.AnsweredAt = &t
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		call.EndedAt = &t
	}
	return call
}
