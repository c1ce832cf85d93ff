package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// maxQueuedLeads caps the snapshot taken when a session starts.
const maxQueuedLeads = 1000

// Service tracks dial sessions and their lead queues.
type Service struct {
	sessions repository.SessionRepository
	leads    repository.LeadRepository
	maxLines int
	log      *logger.Logger
	now      func() time.Time
}

// NewService constructs a session service. maxLines bounds NextLeads.
func NewService(sessions repository.SessionRepository, leads repository.LeadRepository, maxLines int, log *logger.Logger) *Service {
	if maxLines <= 0 {
		maxLines = 3
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		sessions: sessions,
		leads:    leads,
		maxLines: maxLines,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartInput selects the leads queued for a new session.
type StartInput struct {
	UserID         string
	PipelineFilter string
}

// Progress is the progress view of one session.
type Progress struct {
	SessionID uuid.UUID `json:"session_id"`
	Total     int       `json:"total_leads"`
	Attempted int       `json:"attempted"`
	Completed int       `json:"completed"`
	Remaining int       `json:"remaining"`
	Percent   float64   `json:"percent"`
	Active    bool      `json:"active"`
}

// Start snapshots the user's dialable leads into a new session, ending any
// session still active.
func (s *Service) Start(ctx context.Context, in StartInput) (*domain.DialSession, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	leads, err := s.leads.ListDialable(ctx, in.UserID, in.PipelineFilter, maxQueuedLeads)
	if err != nil {
		return nil, fmt.Errorf("session service: list leads: %w", err)
	}
	if len(leads) == 0 {
		return nil, fmt.Errorf("%w: no dialable leads match the filter", apperrors.ErrValidation)
	}

	ids := make([]uuid.UUID, 0, len(leads))
	for _, l := range leads {
		ids = append(ids, l.ID)
	}
	now := s.now()
	session := &domain.DialSession{
		ID:             uuid.New(),
		UserID:         in.UserID,
		PipelineFilter: in.PipelineFilter,
		TotalLeads:     len(ids),
		Active:         true,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Start(ctx, session, ids); err != nil {
		return nil, fmt.Errorf("session service: start: %w", err)
	}
	s.log.Info("dial session started",
		zap.String("user_id", in.UserID),
		zap.String("session_id", session.ID.String()),
		zap.Int("total_leads", session.TotalLeads),
	)
	return session, nil
}

// NextLeads claims up to n pending leads. An active session whose queue is
// empty is closed.
func (s *Service) NextLeads(ctx context.Context, userID string, sessionID uuid.UUID, n int) ([]domain.QueuedLead, error) {
	if n <= 0 || n > s.maxLines {
		n = s.maxLines
	}
	session, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session service: get: %w", err)
	}
	if !session.Active {
		return nil, fmt.Errorf("session service: session %s ended: %w", sessionID, apperrors.ErrConflict)
	}

	claimed, err := s.sessions.ClaimNext(ctx, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("session service: claim: %w", err)
	}
	if len(claimed) == 0 {
		if err := s.sessions.End(ctx, userID, sessionID, s.now()); err != nil {
			return nil, fmt.Errorf("session service: close exhausted: %w", err)
		}
		s.log.Info("dial session exhausted", zap.String("session_id", sessionID.String()))
	}
	return claimed, nil
}

// Owned returns the user's session. Sessions of other users read as not found.
func (s *Service) Owned(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error) {
	session, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session service: session %s: %w", sessionID, err)
	}
	return session, nil
}

// RequireActive is Owned restricted to sessions that have not ended.
func (s *Service) RequireActive(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error) {
	session, err := s.Owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, fmt.Errorf("%w: session %s has ended", apperrors.ErrConflict, sessionID)
	}
	return session, nil
}

// MarkAttempted counts one placed call against the user's active session.
func (s *Service) MarkAttempted(ctx context.Context, userID string, sessionID uuid.UUID) error {
	if _, err := s.RequireActive(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.sessions.IncrementAttempted(ctx, sessionID); err != nil {
		return fmt.Errorf("session service: attempted: %w", err)
	}
	return nil
}

// MarkCompleted counts one logged outcome against the user's session. Ended
// sessions still take outcomes for calls placed while they were active.
func (s *Service) MarkCompleted(ctx context.Context, userID string, sessionID uuid.UUID) error {
	if _, err := s.Owned(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.sessions.IncrementCompleted(ctx, sessionID); err != nil {
		return fmt.Errorf("session service: completed: %w", err)
	}
	return nil
}

// End closes the session. Ending an ended session is a no-op.
func (s *Service) End(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error) {
	if err := s.sessions.End(ctx, userID, sessionID, s.now()); err != nil {
		return nil, fmt.Errorf("session service: end: %w", err)
	}
	return s.sessions.Get(ctx, userID, sessionID)
}

// Active returns the user's active session.
func (s *Service) Active(ctx context.Context, userID string) (*domain.DialSession, error) {
	session, err := s.sessions.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("session service: no active session: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("session service: active: %w", err)
	}
	return session, nil
}

// Progress reports counts and percent for a session.
func (s *Service) Progress(ctx context.Context, userID string, sessionID uuid.UUID) (Progress, error) {
	session, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return Progress{}, fmt.Errorf("session service: get: %w", err)
	}
	return ProgressOf(*session), nil
}

// ProgressOf builds the progress view of a session.
func ProgressOf(session domain.DialSession) Progress {
	return Progress{
		SessionID: session.ID,
		Total:     session.TotalLeads,
		Attempted: session.AttemptedCount,
		Completed: session.CompletedCount,
		Remaining: session.Remaining(),
		Percent:   session.ProgressPercent(),
		Active:    session.Active,
	}
}
