package outcome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/llm"
	"github.com/acme/triple-line-dialer/internal/repository"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

const maxNotesLength = 4000

// SessionCounter scopes sessions to their owner and counts logged outcomes.
type SessionCounter interface {
	Owned(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error)
	MarkCompleted(ctx context.Context, userID string, sessionID uuid.UUID) error
}

// Service records call dispositions.
type Service struct {
	outcomes   repository.OutcomeRepository
	calls      repository.CallRepository
	sessions   SessionCounter
	leads      repository.LeadRepository
	summarizer llm.Summarizer
	log        *logger.Logger
	now        func() time.Time
}

// NewService constructs an outcome service. summarizer may be nil.
func NewService(
	outcomes repository.OutcomeRepository,
	calls repository.CallRepository,
	sessions SessionCounter,
	leads repository.LeadRepository,
	summarizer llm.Summarizer,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		outcomes:   outcomes,
		calls:      calls,
		sessions:   sessions,
		leads:      leads,
		summarizer: summarizer,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordInput is a rep-entered disposition. When the call is still tracked
// its own session wins over SessionID, and its lead over LeadID.
type RecordInput struct {
	UserID      string
	CallID      string
	LeadID      *uuid.UUID
	SessionID   *uuid.UUID
	Disposition domain.Disposition
	Notes       string
}

// Record appends the disposition of a call. A call takes one outcome only.
func (s *Service) Record(ctx context.Context, in RecordInput) (*domain.CallOutcome, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	call, err := s.calls.Get(ctx, in.CallID)
	switch {
	case err == nil:
		if call.UserID != in.UserID {
			return nil, fmt.Errorf("outcome service: call %s: %w", in.CallID, apperrors.ErrNotFound)
		}
		if call.LeadID != nil {
			in.LeadID = call.LeadID
		}
		in.SessionID = call.SessionID
	case errors.Is(err, repository.ErrNotFound):
		// Swept rows can still be dispositioned from the client's copy.
		if in.SessionID != nil {
			if _, err := s.sessions.Owned(ctx, in.UserID, *in.SessionID); err != nil {
				return nil, fmt.Errorf("outcome service: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("outcome service: load call: %w", err)
	}

	lg := s.log.ForCall(in.CallID, in.UserID)
	out := &domain.CallOutcome{
		ID:          uuid.New(),
		UserID:      in.UserID,
		CallID:      in.CallID,
		LeadID:      in.LeadID,
		SessionID:   in.SessionID,
		Disposition: in.Disposition,
		Notes:       strings.TrimSpace(in.Notes),
		Points:      in.Disposition.Points(),
		CreatedAt:   s.now(),
	}
	out.Summary = s.summarize(ctx, lg, out.Notes)

	if err := s.outcomes.Insert(ctx, out); err != nil {
		return nil, fmt.Errorf("outcome service: insert: %w", err)
	}

	if out.SessionID != nil {
		if err := s.sessions.MarkCompleted(ctx, in.UserID, *out.SessionID); err != nil {
			lg.Warn("session completed counter", zap.Error(err))
		}
	}
	if out.LeadID != nil {
		if err := s.leads.UpdateStatus(ctx, in.UserID, *out.LeadID, in.Disposition.LeadStatus()); err != nil {
			lg.Warn("update lead status", zap.Error(err))
		}
	}
	lg.Info("outcome recorded", zap.String("disposition", string(out.Disposition)), zap.Int("points", out.Points))
	return out, nil
}

// Get returns the outcome of a call.
func (s *Service) Get(ctx context.Context, userID, callID string) (*domain.CallOutcome, error) {
	out, err := s.outcomes.GetByCall(ctx, userID, callID)
	if err != nil {
		return nil, fmt.Errorf("outcome service: get: %w", err)
	}
	return out, nil
}

func (s *Service) summarize(ctx context.Context, lg *logger.Logger, notes string) string {
	if notes == "" || s.summarizer == nil || !s.summarizer.Configured() {
		return ""
	}
	summary, err := s.summarizer.Summarize(ctx, notes)
	if err != nil {
		lg.Warn("summarize notes", zap.Error(err))
		return ""
	}
	return summary
}

func validate(in RecordInput) error {
	if in.UserID == "" || strings.TrimSpace(in.CallID) == "" {
		return fmt.Errorf("%w: user and call id are required", apperrors.ErrValidation)
	}
	if !in.Disposition.Valid() {
		return fmt.Errorf("%w: unknown disposition %q", apperrors.ErrValidation, in.Disposition)
	}
	if len(in.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", apperrors.ErrValidation, maxNotesLength)
	}
	return nil
}
