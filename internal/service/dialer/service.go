package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/telephony"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// hardMaxLines is the number of lines the schema allows per user.
const hardMaxLines = 3

// Config holds dialer placement defaults.
type Config struct {
	MaxLines      int
	PublicBaseURL string
	RingTimeout   time.Duration
	AMDTimeout    time.Duration
}

// SessionTracker scopes dial sessions to their owner and keeps their
// counters.
type SessionTracker interface {
	Owned(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error)
	RequireActive(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error)
	MarkAttempted(ctx context.Context, userID string, sessionID uuid.UUID) error
	End(ctx context.Context, userID string, sessionID uuid.UUID) (*domain.DialSession, error)
}

// Service places and ends calls for a rep.
type Service struct {
	calls      repository.CallRepository
	settings   repository.SettingsRepository
	sessions   SessionTracker
	leads      repository.LeadRepository
	provider   telephony.Provider
	terminator *callstatus.Terminator
	cfg        Config
	log        *logger.Logger
	now        func() time.Time
}

// NewService wires the dialer.
func NewService(
	calls repository.CallRepository,
	settings repository.SettingsRepository,
	sessions SessionTracker,
	leads repository.LeadRepository,
	provider telephony.Provider,
	terminator *callstatus.Terminator,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.MaxLines <= 0 || cfg.MaxLines > hardMaxLines {
		cfg.MaxLines = hardMaxLines
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		calls:      calls,
		settings:   settings,
		sessions:   sessions,
		leads:      leads,
		provider:   provider,
		terminator: terminator,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LeadTarget is one number to dial.
type LeadTarget struct {
	LeadID *uuid.UUID
	Phone  string
}

// DialInput is a batch of up to MaxLines leads.
type DialInput struct {
	UserID    string
	SessionID *uuid.UUID
	Leads     []LeadTarget
}

// LineResult reports the placement outcome of one line.
type LineResult struct {
	LineNumber int               `json:"line_number"`
	LeadID     *uuid.UUID        `json:"lead_id,omitempty"`
	ToNumber   string            `json:"to_number"`
	CallID     string            `json:"call_sid,omitempty"`
	Status     domain.CallStatus `json:"status,omitempty"`
	Error      string            `json:"error,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
}

// BatchResult collects the lines of one batch.
type BatchResult struct {
	BatchID uuid.UUID    `json:"batch_id"`
	Lines   []LineResult `json:"lines"`
}

// Placed counts lines that reached the vendor.
func (r BatchResult) Placed() int {
	n := 0
	for _, l := range r.Lines {
		if l.CallID != "" && l.Error == "" {
			n++
		}
	}
	return n
}

// DialBatch places one call per lead concurrently, lead i on line i+1.
func (s *Service) DialBatch(ctx context.Context, in DialInput) (BatchResult, error) {
	if err := s.validate(in); err != nil {
		return BatchResult{}, err
	}
	settings, err := s.requireSetup(ctx, in.UserID)
	if err != nil {
		return BatchResult{}, err
	}
	if in.SessionID != nil {
		if _, err := s.sessions.RequireActive(ctx, in.UserID, *in.SessionID); err != nil {
			return BatchResult{}, fmt.Errorf("dialer: %w", err)
		}
	}

	batchID := uuid.New()
	tracer := otel.Tracer("dialer")
	ctx, span := tracer.Start(ctx, "dial.batch", trace.WithAttributes(
		attribute.String("user.id", in.UserID),
		attribute.String("batch.id", batchID.String()),
		attribute.Int("lines", len(in.Leads)),
	))
	defer span.End()

	result := BatchResult{BatchID: batchID, Lines: make([]LineResult, len(in.Leads))}
	var wg sync.WaitGroup
	for i, lead := range in.Leads {
		wg.Add(1)
		go func(i int, lead LeadTarget) {
			defer wg.Done()
			result.Lines[i] = s.placeLine(ctx, in, *settings, batchID, i+1, lead)
		}(i, lead)
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("placed", result.Placed()))
	return result, nil
}

func (s *Service) placeLine(ctx context.Context, in DialInput, settings domain.DialSettings, batchID uuid.UUID, line int, lead LeadTarget) LineResult {
	res := LineResult{LineNumber: line, LeadID: lead.LeadID, ToNumber: lead.Phone}
	lg := s.log.With(zap.String("user_id", in.UserID), zap.Int("line", line))

	if err := s.clearLine(ctx, in.UserID, line); err != nil {
		lg.Error("clear line", zap.Error(err))
		res.Error = "could not clear line"
		res.Retryable = true
		return res
	}

	placed, err := s.provider.PlaceCall(ctx, s.placement(settings, lead.Phone))
	if err != nil {
		lg.Error("place call", zap.Error(err))
		res.Error = placementMessage(err)
		res.Retryable = !errors.Is(err, apperrors.ErrNeedsSetup)
		return res
	}
	res.CallID = placed.CallID

	status := placed.Status
	if !status.Known() || status.IsTerminal() {
		status = domain.CallStatusInitiating
	}
	res.Status = status

	now := s.now()
	call := &domain.ActiveCall{
		CallID:          placed.CallID,
		UserID:          in.UserID,
		LeadID:          lead.LeadID,
		SessionID:       in.SessionID,
		BatchID:         batchID,
		LineNumber:      line,
		ToNumber:        lead.Phone,
		Status:          status,
		StatusSource:    domain.StatusSourceWebhook,
		StartedAt:       now,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if err := s.calls.Insert(ctx, call); err != nil {
		lg.Error("track placed call", zap.String("call_sid", placed.CallID), zap.Error(err))
		if hErr := s.provider.Hangup(ctx, placed.CallID); hErr != nil && !errors.Is(hErr, telephony.ErrCallNotActive) {
			lg.Warn("hangup untracked call", zap.String("call_sid", placed.CallID), zap.Error(hErr))
		}
		res.Error = "line busy, try again"
		res.Retryable = true
		return res
	}

	if in.SessionID != nil {
		if err := s.sessions.MarkAttempted(ctx, in.UserID, *in.SessionID); err != nil {
			lg.Warn("session attempted counter", zap.Error(err))
		}
	}
	if lead.LeadID != nil {
		if err := s.leads.TouchCalled(ctx, in.UserID, *lead.LeadID, now); err != nil {
			lg.Warn("touch lead", zap.Error(err))
		}
	}
	return res
}

// clearLine terminates any open call still occupying the line.
func (s *Service) clearLine(ctx context.Context, userID string, line int) error {
	open, err := s.calls.ListOpenByLine(ctx, userID, line)
	if err != nil {
		return fmt.Errorf("dialer: list line %d: %w", line, err)
	}
	for _, c := range open {
		if _, err := s.terminator.End(ctx, c, domain.CallStatusTerminatedByUser, ""); err != nil {
			return fmt.Errorf("dialer: end stale call %s: %w", c.CallID, err)
		}
	}
	return nil
}

func (s *Service) placement(settings domain.DialSettings, to string) telephony.PlaceCallRequest {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	ring := settings.RingTimeout
	if ring <= 0 {
		ring = s.cfg.RingTimeout
	}
	amd := settings.AMDTimeout
	if amd <= 0 {
		amd = s.cfg.AMDTimeout
	}
	return telephony.PlaceCallRequest{
		To:                to,
		From:              settings.CallerID,
		AnswerURL:         base + "/webhooks/telephony/voice",
		StatusCallbackURL: base + "/webhooks/telephony/status",
		AMDCallbackURL:    base + "/webhooks/telephony/amd",
		MachineDetection:  settings.AMDEnabled,
		RingTimeout:       ring,
		AMDTimeout:        amd,
		Record:            settings.RecordCalls,
	}
}

// HangupCall ends a single line at the rep's request.
func (s *Service) HangupCall(ctx context.Context, userID, callID string) (domain.ActiveCall, error) {
	call, err := s.ownedCall(ctx, userID, callID)
	if err != nil {
		return domain.ActiveCall{}, err
	}
	out, err := s.terminator.End(ctx, *call, domain.CallStatusTerminatedByUser, "")
	if err != nil {
		return domain.ActiveCall{}, fmt.Errorf("dialer: hangup: %w", err)
	}
	return out.Call, nil
}

// EndSession hangs up every open line of the user and closes the session.
func (s *Service) EndSession(ctx context.Context, userID string, sessionID uuid.UUID) ([]domain.ActiveCall, error) {
	if _, err := s.sessions.Owned(ctx, userID, sessionID); err != nil {
		return nil, fmt.Errorf("dialer: %w", err)
	}
	ended, err := s.EndAllLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.End(ctx, userID, sessionID); err != nil {
		return nil, fmt.Errorf("dialer: close session: %w", err)
	}
	return ended, nil
}

// EndAllLines terminates every tracked open call of the user.
func (s *Service) EndAllLines(ctx context.Context, userID string) ([]domain.ActiveCall, error) {
	open, err := s.calls.ListOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dialer: list open calls: %w", err)
	}
	ended := make([]domain.ActiveCall, 0, len(open))
	for _, c := range open {
		out, err := s.terminator.End(ctx, c, domain.CallStatusTerminatedByUser, "")
		if err != nil {
			s.log.ForCall(c.CallID, userID).Error("end line", zap.Error(err))
			continue
		}
		ended = append(ended, out.Call)
	}
	return ended, nil
}

// ActiveCalls returns the latest call per line for the rep's dialer view.
func (s *Service) ActiveCalls(ctx context.Context, userID string) ([]domain.ActiveCall, error) {
	calls, err := s.calls.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dialer: list calls: %w", err)
	}
	return calls, nil
}

// Call returns one of the user's calls.
func (s *Service) Call(ctx context.Context, userID, callID string) (*domain.ActiveCall, error) {
	return s.ownedCall(ctx, userID, callID)
}

// Bridge says how an answered leg is connected to the rep.
type Bridge struct {
	Identity string
	Record   bool
	// Ended is set when the call was already dropped and must not be bridged.
	Ended bool
}

// BridgeFor resolves the bridge target of an answered call.
func (s *Service) BridgeFor(ctx context.Context, callID string) (Bridge, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return Bridge{}, fmt.Errorf("dialer: call %s: %w", callID, err)
	}
	if call.Status.IsTerminal() {
		return Bridge{Ended: true}, nil
	}
	b := Bridge{Identity: call.UserID}
	settings, err := s.settings.Get(ctx, call.UserID)
	switch {
	case err == nil:
		if settings.ClientIdentity != "" {
			b.Identity = settings.ClientIdentity
		}
		b.Record = settings.RecordCalls
	case !errors.Is(err, repository.ErrNotFound):
		return Bridge{}, fmt.Errorf("dialer: load settings: %w", err)
	}
	return b, nil
}

func (s *Service) ownedCall(ctx context.Context, userID, callID string) (*domain.ActiveCall, error) {
	call, err := s.calls.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("dialer: call %s: %w", callID, err)
	}
	if call.UserID != userID {
		return nil, fmt.Errorf("dialer: call %s: %w", callID, apperrors.ErrNotFound)
	}
	return call, nil
}

func (s *Service) validate(in DialInput) error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if len(in.Leads) == 0 || len(in.Leads) > s.cfg.MaxLines {
		return fmt.Errorf("%w: between 1 and %d leads per batch", apperrors.ErrValidation, s.cfg.MaxLines)
	}
	seen := make(map[string]bool, len(in.Leads))
	for _, l := range in.Leads {
		phone := strings.TrimSpace(l.Phone)
		if phone == "" {
			return fmt.Errorf("%w: lead phone is required", apperrors.ErrValidation)
		}
		if seen[phone] {
			return fmt.Errorf("%w: duplicate number %s in batch", apperrors.ErrValidation, phone)
		}
		seen[phone] = true
	}
	return nil
}

func (s *Service) requireSetup(ctx context.Context, userID string) (*domain.DialSettings, error) {
	if !s.provider.Configured() {
		return nil, fmt.Errorf("dialer: telephony credentials missing: %w", apperrors.ErrNeedsSetup)
	}
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("dialer: no dial settings: %w", apperrors.ErrNeedsSetup)
		}
		return nil, fmt.Errorf("dialer: load settings: %w", err)
	}
	if strings.TrimSpace(settings.CallerID) == "" {
		return nil, fmt.Errorf("dialer: caller id missing: %w", apperrors.ErrNeedsSetup)
	}
	return settings, nil
}

func placementMessage(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNeedsSetup):
		return "telephony is not configured"
	case errors.Is(err, apperrors.ErrUnavailable):
		return "telephony provider unavailable, try again"
	default:
		return "call could not be placed"
	}
}
