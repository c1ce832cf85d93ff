package callstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// maxWriteAttempts bounds re-evaluation after a lost conditional write.
const maxWriteAttempts = 3

// Publisher receives accepted transitions.
type Publisher interface {
	PublishStatus(ctx context.Context, event domain.CallStatusEvent) error
}

// Update is one reported status change for a call.
type Update struct {
	CallID          string
	Status          domain.CallStatus
	Source          domain.StatusSource
	DurationSeconds *int
	AMDResult       domain.AMDResult
}

// Result describes what Apply did.
type Result struct {
	Call     domain.ActiveCall
	Previous domain.CallStatus
	// Changed is false when the update was an idempotent repeat of a
	// terminal status.
	Changed bool
}

// Manager applies status updates under the transition table.
type Manager struct {
	calls     repository.CallRepository
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

// NewManager builds a manager. publisher may be nil.
func NewManager(calls repository.CallRepository, publisher Publisher, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		calls:     calls,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply validates and persists a status update.
func (m *Manager) Apply(ctx context.Context, u Update) (Result, error) {
	if u.CallID == "" {
		return Result{}, fmt.Errorf("callstatus: call id required: %w", apperrors.ErrValidation)
	}
	if u.Source == "" {
		u.Source = domain.StatusSourceWebhook
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		call, err := m.calls.Get(ctx, u.CallID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Result{}, fmt.Errorf("callstatus: call %s: %w", u.CallID, apperrors.ErrNotFound)
			}
			return Result{}, fmt.Errorf("callstatus: load call: %w", err)
		}

		current := call.Status
		if u.Status == current && current.IsTerminal() {
			return Result{Call: *call, Previous: current, Changed: false}, nil
		}
		if !domain.CanTransition(current, u.Status) {
			m.log.ForCall(call.CallID, call.UserID).Warn("rejected status transition",
				zap.String("from", string(current)),
				zap.String("to", string(u.Status)),
				zap.String("source", string(u.Source)),
			)
			return Result{Call: *call, Previous: current}, fmt.Errorf("callstatus: %s -> %s: %w", current, u.Status, apperrors.ErrInvalidTransition)
		}

		now := m.now()
		change := repository.StatusChange{
			Status:          u.Status,
			Source:          u.Source,
			AMDResult:       u.AMDResult,
			DurationSeconds: u.DurationSeconds,
			ChangedAt:       now,
			MarkAnswered:    u.Status == domain.CallStatusAnswered || u.Status == domain.CallStatusInProgress,
			MarkEnded:       u.Status.IsTerminal(),
		}

		ok, err := m.calls.CompareAndSetStatus(ctx, call.CallID, current, change)
		if err != nil {
			return Result{}, fmt.Errorf("callstatus: write: %w", err)
		}
		if !ok {
			continue
		}

		updated := applyChange(*call, change)
		if current != u.Status {
			m.publish(ctx, updated, current)
		}
		return Result{Call: updated, Previous: current, Changed: true}, nil
	}

	return Result{}, fmt.Errorf("callstatus: call %s changed concurrently: %w", u.CallID, apperrors.ErrConflict)
}

func (m *Manager) publish(ctx context.Context, call domain.ActiveCall, previous domain.CallStatus) {
	if m.publisher == nil {
		return
	}
	event := domain.CallStatusEvent{
		CallID:         call.CallID,
		UserID:         call.UserID,
		LineNumber:     call.LineNumber,
		Status:         call.Status,
		PreviousStatus: previous,
		Source:         call.StatusSource,
		CallStartedAt:  call.StartedAt,
		OccurredAt:     call.StatusChangedAt,
	}
	if err := m.publisher.PublishStatus(ctx, event); err != nil {
		m.log.ForCall(call.CallID, call.UserID).Error("publish status event", zap.Error(err))
	}
}

// applyChange mirrors the repository write on the in-memory copy.
func applyChange(c domain.ActiveCall, ch repository.StatusChange) domain.ActiveCall {
	c.Status = ch.Status
	c.StatusSource = ch.Source
	c.StatusChangedAt = ch.ChangedAt
	if ch.AMDResult != "" {
		c.AMDResult = ch.AMDResult
	}
	if ch.DurationSeconds != nil {
		c.DurationSeconds = *ch.DurationSeconds
	}
	if ch.MarkAnswered && c.AnsweredAt == nil {
		t := ch.ChangedAt
		c.AnsweredAt = &t
	}
	if ch.MarkEnded && c.EndedAt == nil {
		t := ch.ChangedAt
		c.EndedAt = &t
	}
	return c
}
