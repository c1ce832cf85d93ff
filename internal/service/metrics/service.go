package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/service/session"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

// MaxSummaryDays bounds the summary window.
const MaxSummaryDays = 90

// Metrics aggregates calls and outcomes over a window.
type Metrics struct {
	Dials         int     `json:"dials"`
	Connects      int     `json:"connects"`
	Voicemails    int     `json:"voicemails"`
	Conversations int     `json:"conversations"`
	Meetings      int     `json:"meetings"`
	TalkSeconds   int     `json:"talk_seconds"`
	ConnectRate   float64 `json:"connect_rate"`
	Points        int     `json:"points"`
}

// Day is one bucket of a summary.
type Day struct {
	Date string `json:"date"`
	Metrics
}

// Summary is a multi-day report.
type Summary struct {
	Days  []Day   `json:"days"`
	Total Metrics `json:"total"`
}

// SessionReport is the metrics of one session with its progress.
type SessionReport struct {
	Progress session.Progress `json:"progress"`
	Metrics  Metrics          `json:"metrics"`
}

// Service answers read-only metric queries.
type Service struct {
	calls    repository.CallRepository
	outcomes repository.OutcomeRepository
	sessions repository.SessionRepository
}

// NewService constructs a metrics service.
func NewService(calls repository.CallRepository, outcomes repository.OutcomeRepository, sessions repository.SessionRepository) *Service {
	return &Service{calls: calls, outcomes: outcomes, sessions: sessions}
}

// Today aggregates everything since midnight in now's location.
func (s *Service) Today(ctx context.Context, userID string, now time.Time) (Metrics, error) {
	since := startOfDay(now)
	calls, outcomes, err := s.window(ctx, userID, since)
	if err != nil {
		return Metrics{}, err
	}
	return Aggregate(calls, outcomes), nil
}

// Summary aggregates the last days days, today included, one bucket per day.
func (s *Service) Summary(ctx context.Context, userID string, days int, now time.Time) (Summary, error) {
	if days < 1 || days > MaxSummaryDays {
		return Summary{}, fmt.Errorf("%w: days must be between 1 and %d", apperrors.ErrValidation, MaxSummaryDays)
	}
	first := startOfDay(now).AddDate(0, 0, -(days - 1))
	calls, outcomes, err := s.window(ctx, userID, first)
	if err != nil {
		return Summary{}, err
	}

	callsByDay := make(map[string][]domain.ActiveCall)
	for _, c := range calls {
		key := dayKey(c.CreatedAt, now.Location())
		callsByDay[key] = append(callsByDay[key], c)
	}
	outcomesByDay := make(map[string][]domain.CallOutcome)
	for _, o := range outcomes {
		key := dayKey(o.CreatedAt, now.Location())
		outcomesByDay[key] = append(outcomesByDay[key], o)
	}

	out := Summary{Days: make([]Day, 0, days), Total: Aggregate(calls, outcomes)}
	for i := 0; i < days; i++ {
		key := first.AddDate(0, 0, i).Format(time.DateOnly)
		out.Days = append(out.Days, Day{Date: key, Metrics: Aggregate(callsByDay[key], outcomesByDay[key])})
	}
	return out, nil
}

// Session reports a session's progress and metrics.
func (s *Service) Session(ctx context.Context, userID string, sessionID uuid.UUID) (SessionReport, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("metrics: session: %w", err)
	}
	calls, err := s.calls.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("metrics: session calls: %w", err)
	}
	outcomes, err := s.outcomes.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("metrics: session outcomes: %w", err)
	}
	return SessionReport{Progress: session.ProgressOf(*sess), Metrics: Aggregate(calls, outcomes)}, nil
}

// Progress reports a session's progress.
func (s *Service) Progress(ctx context.Context, userID string, sessionID uuid.UUID) (session.Progress, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return session.Progress{}, fmt.Errorf("metrics: session: %w", err)
	}
	return session.ProgressOf(*sess), nil
}

func (s *Service) window(ctx context.Context, userID string, since time.Time) ([]domain.ActiveCall, []domain.CallOutcome, error) {
	calls, err := s.calls.ListSince(ctx, userID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: calls: %w", err)
	}
	outcomes, err := s.outcomes.ListSince(ctx, userID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: outcomes: %w", err)
	}
	return calls, outcomes, nil
}

// Aggregate folds calls and outcomes into metrics.
func Aggregate(calls []domain.ActiveCall, outcomes []domain.CallOutcome) Metrics {
	var m Metrics
	for _, c := range calls {
		m.Dials++
		switch {
		case isVoicemail(c):
			m.Voicemails++
		case isConnect(c):
			m.Connects++
			m.TalkSeconds += c.DurationSeconds
		}
	}
	for _, o := range outcomes {
		m.Points += o.Points
		if o.Disposition.IsConversation() {
			m.Conversations++
		}
		if o.Disposition == domain.DispositionMeetingBooked {
			m.Meetings++
		}
	}
	if m.Dials > 0 {
		m.ConnectRate = math.Round(float64(m.Connects)/float64(m.Dials)*1000) / 10
	}
	return m
}

func isVoicemail(c domain.ActiveCall) bool {
	return c.Status == domain.CallStatusVoicemailDetected || c.AMDResult == domain.AMDMachine
}

// isConnect counts calls that reached the rep. Lines dropped for a sibling
// never did, whatever AMD said.
func isConnect(c domain.ActiveCall) bool {
	if c.Status == domain.CallStatusDroppedOtherAnswered {
		return false
	}
	return c.AnsweredAt != nil || (c.AMDResult != "" && c.AMDResult.CountsAsHuman())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}
