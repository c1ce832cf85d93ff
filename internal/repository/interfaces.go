package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/domain"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation or a lost conditional write.
	ErrConflict = apperrors.ErrConflict
)

// CallRepository persists the active_calls rows.
type CallRepository interface {
	// Insert stores a new call. A second open call on the same line is ErrConflict.
	Insert(ctx context.Context, call *domain.ActiveCall) error
	Get(ctx context.Context, callID string) (*domain.ActiveCall, error)
	// CompareAndSetStatus writes change only while the stored status equals
	// expected. It reports whether a row was updated.
	CompareAndSetStatus(ctx context.Context, callID string, expected domain.CallStatus, change StatusChange) (bool, error)
	ListOpenByUser(ctx context.Context, userID string) ([]domain.ActiveCall, error)
	ListOpenByLine(ctx context.Context, userID string, line int) ([]domain.ActiveCall, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ActiveCall, error)
	ListSince(ctx context.Context, userID string, since time.Time) ([]domain.ActiveCall, error)
	ListBySession(ctx context.Context, userID string, sessionID uuid.UUID) ([]domain.ActiveCall, error)
	ListStale(ctx context.Context, statuses []domain.CallStatus, before time.Time, limit int) ([]domain.ActiveCall, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time, limit int) (int64, error)
}

// StatusChange is the set of columns written by an accepted transition.
type StatusChange struct {
	Status          domain.CallStatus
	Source          domain.StatusSource
	AMDResult       domain.AMDResult
	DurationSeconds *int
	ChangedAt       time.Time
	// MarkAnswered sets answered_at if it is still empty.
	MarkAnswered bool
	// MarkEnded sets ended_at if it is still empty.
	MarkEnded bool
}

// SessionRepository persists dial sessions and their lead queues.
type SessionRepository interface {
	// Start ends any active session of the user, then creates session with
	// the given leads queued in order.
	Start(ctx context.Context, session *domain.DialSession, leadIDs []uuid.UUID) error
	Get(ctx context.Context, userID string, id uuid.UUID) (*domain.DialSession, error)
	GetActive(ctx context.Context, userID string) (*domain.DialSession, error)
	ClaimNext(ctx context.Context, sessionID uuid.UUID, n int) ([]domain.QueuedLead, error)
	// IncrementAttempted is ErrConflict once attempted_count reaches total_leads.
	IncrementAttempted(ctx context.Context, sessionID uuid.UUID) error
	// IncrementCompleted is ErrConflict once completed_count reaches attempted_count.
	IncrementCompleted(ctx context.Context, sessionID uuid.UUID) error
	End(ctx context.Context, userID string, sessionID uuid.UUID, at time.Time) error
}

// LeadRepository reads and updates leads.
type LeadRepository interface {
	ListDialable(ctx context.Context, userID, pipelineStage string, limit int) ([]domain.Lead, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Lead, error)
	UpdateStatus(ctx context.Context, userID string, id uuid.UUID, status domain.LeadStatus) error
	TouchCalled(ctx context.Context, userID string, id uuid.UUID, at time.Time) error
}

// OutcomeRepository is the append-only disposition log.
type OutcomeRepository interface {
	// Insert is ErrConflict when the call already has an outcome.
	Insert(ctx context.Context, outcome *domain.CallOutcome) error
	GetByCall(ctx context.Context, userID, callID string) (*domain.CallOutcome, error)
	ListSince(ctx context.Context, userID string, since time.Time) ([]domain.CallOutcome, error)
	ListBySession(ctx context.Context, userID string, sessionID uuid.UUID) ([]domain.CallOutcome, error)
}

// SettingsRepository stores per-user dial settings.
type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.DialSettings, error)
	Upsert(ctx context.Context, settings *domain.DialSettings) error
}

// TimelineStore keeps the per-call status history.
type TimelineStore interface {
	Append(ctx context.Context, event domain.CallStatusEvent) error
	// ListByCall pages through a call's events; an empty returned page state
	// means the last page was read.
	ListByCall(ctx context.Context, userID string, callDay time.Time, callID string, limit int, pageState []byte) ([]domain.CallStatusEvent, []byte, error)
}
