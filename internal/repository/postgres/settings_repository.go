package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
)

// SettingsRepository implements repository.SettingsRepository.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs the repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get loads dial settings of a user.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*domain.DialSettings, error) {
	var rec settingsRecord
	err := r.db.QueryRowxContext(ctx, `SELECT user_id, caller_id, client_identity, hangup_on_voicemail, amd_enabled,
		record_calls, ring_timeout_seconds, amd_timeout_seconds, updated_at
		FROM user_dial_settings WHERE user_id = $1`, userID).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("settings repo: get: %w", err)
	}
	s := rec.toDomain()
	return &s, nil
}

// Upsert writes the settings row.
func (r *SettingsRepository) Upsert(ctx context.Context, settings *domain.DialSettings) error {
	q := `INSERT INTO user_dial_settings (
		user_id, caller_id, client_identity, hangup_on_voicemail, amd_enabled,
		record_calls, ring_timeout_seconds, amd_timeout_seconds, updated_at
	) VALUES (
		:user_id, :caller_id, :client_identity, :hangup_on_voicemail, :amd_enabled,
		:record_calls, :ring_timeout_seconds, :amd_timeout_seconds, :updated_at
	) ON CONFLICT (user_id) DO UPDATE SET
		caller_id = EXCLUDED.caller_id,
		client_identity = EXCLUDED.client_identity,
		hangup_on_voicemail = EXCLUDED.hangup_on_voicemail,
		amd_enabled = EXCLUDED.amd_enabled,
		record_calls = EXCLUDED.record_calls,
		ring_timeout_seconds = EXCLUDED.ring_timeout_seconds,
		amd_timeout_seconds = EXCLUDED.amd_timeout_seconds,
		updated_at = EXCLUDED.updated_at`

	rec := settingsRecord{
		UserID:            settings.UserID,
		CallerID:          settings.CallerID,
		ClientIdentity:    settings.ClientIdentity,
		HangupOnVoicemail: settings.HangupOnVoicemail,
		AMDEnabled:        settings.AMDEnabled,
		RecordCalls:       settings.RecordCalls,
		RingTimeout:       int(settings.RingTimeout / time.Second),
		AMDTimeout:        int(settings.AMDTimeout / time.Second),
		UpdatedAt:         settings.UpdatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("settings repo: upsert: %w", err)
	}
	return nil
}

type settingsRecord struct {
	UserID            string    `db:"user_id"`
	CallerID          string    `db:"caller_id"`
	ClientIdentity    string    `db:"client_identity"`
	HangupOnVoicemail bool      `db:"hangup_on_voicemail"`
	AMDEnabled        bool      `db:"amd_enabled"`
	RecordCalls       bool      `db:"record_calls"`
	RingTimeout       int       `db:"ring_timeout_seconds"`
	AMDTimeout        int       `db:"amd_timeout_seconds"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r settingsRecord) toDomain() domain.DialSettings {
	return domain.DialSettings{
		UserID:            r.UserID,
		CallerID:          r.CallerID,
		ClientIdentity:    r.ClientIdentity,
		HangupOnVoicemail: r.HangupOnVoicemail,
		AMDEnabled:        r.AMDEnabled,
		RecordCalls:       r.RecordCalls,
		RingTimeout:       time.Duration(r.RingTimeout) * time.Second,
		AMDTimeout:        time.Duration(r.AMDTimeout) * time.Second,
		UpdatedAt:         r.UpdatedAt,
	}
}
