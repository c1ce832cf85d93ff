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

const leadColumns = `id, user_id, name, phone, company, pipeline_stage, status, last_called_at, created_at`

// LeadRepository implements repository.LeadRepository.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// ListDialable returns new or callback leads, optionally filtered by pipeline stage.
func (r *LeadRepository) ListDialable(ctx context.Context, userID, pipelineStage string, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE user_id = $1 AND status IN ('new', 'callback')`
	args := []any{userID}
	if pipelineStage != "" {
		query += " AND pipeline_stage = $2 ORDER BY last_called_at ASC NULLS FIRST, created_at ASC LIMIT $3"
		args = append(args, pipelineStage, limit)
	} else {
		query += " ORDER BY last_called_at ASC NULLS FIRST, created_at ASC LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list dialable: %w", err)
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		var rec leadRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		leads = append(leads, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return leads, nil
}

// Get fetches a lead owned by the user.
func (r *LeadRepository) Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Lead, error) {
	var rec leadRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE user_id = $1 AND id = $2`, userID, id).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}
	lead := rec.toDomain()
	return &lead, nil
}

// UpdateStatus sets the workflow status of a lead.
func (r *LeadRepository) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, status domain.LeadStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $3 WHERE user_id = $1 AND id = $2`, userID, id, string(status))
	if err != nil {
		return fmt.Errorf("lead repo: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchCalled records the last dial time of a lead.
func (r *LeadRepository) TouchCalled(ctx context.Context, userID string, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE leads SET last_called_at = $3 WHERE user_id = $1 AND id = $2`, userID, id, at); err != nil {
		return fmt.Errorf("lead repo: touch: %w", err)
	}
	return nil
}

type leadRecord struct {
	ID            uuid.UUID    `db:"id"`
	UserID        string       `db:"user_id"`
	Name          string       `db:"name"`
	Phone         string       `db:"phone"`
	Company       string       `db:"company"`
	PipelineStage string       `db:"pipeline_stage"`
	Status        string       `db:"status"`
	LastCalledAt  sql.NullTime `db:"last_called_at"`
	CreatedAt     time.Time    `db:"created_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	lead := domain.Lead{
		ID:            r.ID,
		UserID:        r.UserID,
		Name:          r.Name,
		Phone:         r.Phone,
		Company:       r.Company,
		PipelineStage: r.PipelineStage,
		Status:        domain.LeadStatus(r.Status),
		CreatedAt:     r.CreatedAt,
	}
	if r.LastCalledAt.Valid {
		t := r.LastCalledAt.Time
		lead.LastCalledAt = &t
	}
	return lead
}
