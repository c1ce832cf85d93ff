package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/session"
	"github.com/acme/triple-line-dialer/internal/telephony"
	"github.com/acme/triple-line-dialer/internal/telephony/mock"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

type fixture struct {
	svc      *Service
	calls    *memory.CallRepository
	sessions *memory.SessionRepository
	leads    *memory.LeadRepository
	settings *memory.SettingsRepository
	provider *mock.Provider
}

func newFixture(t *testing.T, provider telephony.Provider) *fixture {
	t.Helper()
	calls := memory.NewCallRepository()
	leads := memory.NewLeadRepository()
	sessions := memory.NewSessionRepository(leads)
	settings := memory.NewSettingsRepository(domain.DialSettings{
		UserID:            "u1",
		CallerID:          "+15559999",
		ClientIdentity:    "rep-u1",
		AMDEnabled:        true,
		HangupOnVoicemail: true,
	})
	mp, _ := provider.(*mock.Provider)
	if provider == nil {
		mp = mock.NewProvider(config.TelephonyConfig{})
		provider = mp
	}
	manager := callstatus.NewManager(calls, nil, nil)
	term := callstatus.NewTerminator(manager, provider, nil)
	tracker := session.NewService(sessions, leads, 3, nil)
	svc := NewService(calls, settings, tracker, leads, provider, term, Config{
		MaxLines:      3,
		PublicBaseURL: "https://dialer.example.com/",
		RingTimeout:   25 * time.Second,
		AMDTimeout:    30 * time.Second,
	}, nil)
	return &fixture{svc: svc, calls: calls, sessions: sessions, leads: leads, settings: settings, provider: mp}
}

func threeLeads() []LeadTarget {
	return []LeadTarget{{Phone: "+15550001"}, {Phone: "+15550002"}, {Phone: "+15550003"}}
}

func TestDialBatchPlacesOneCallPerLine(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.DialBatch(context.Background(), DialInput{UserID: "u1", Leads: threeLeads()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Placed() != 3 {
		t.Fatalf("expected 3 placed lines, got %+v", res.Lines)
	}
	for i, l := range res.Lines {
		if l.LineNumber != i+1 {
			t.Errorf("lead %d: expected line %d, got %d", i, i+1, l.LineNumber)
		}
		stored, err := f.calls.Get(context.Background(), l.CallID)
		if err != nil {
			t.Fatalf("line %d not tracked: %v", l.LineNumber, err)
		}
		if stored.BatchID != res.BatchID || stored.LineNumber != l.LineNumber {
			t.Errorf("unexpected stored call %+v", stored)
		}
	}

	placed := f.provider.Placed()
	if len(placed) != 3 {
		t.Fatalf("expected 3 vendor placements, got %d", len(placed))
	}
	p := placed[0]
	if p.From != "+15559999" || p.StatusCallbackURL != "https://dialer.example.com/webhooks/telephony/status" ||
		p.AMDCallbackURL != "https://dialer.example.com/webhooks/telephony/amd" || !p.MachineDetection ||
		p.RingTimeout != 25*time.Second || p.AMDTimeout != 30*time.Second {
		t.Fatalf("unexpected placement request %+v", p)
	}
}

func TestDialBatchValidation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []DialInput{
		{UserID: "u1"},
		{UserID: "u1", Leads: append(threeLeads(), LeadTarget{Phone: "+15550004"})},
		{UserID: "u1", Leads: []LeadTarget{{Phone: " "}}},
		{UserID: "u1", Leads: []LeadTarget{{Phone: "+1555"}, {Phone: "+1555"}}},
		{Leads: threeLeads()},
	}
	for _, in := range cases {
		if _, err := f.svc.DialBatch(context.Background(), in); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", in, err)
		}
	}
}

type unconfigured struct{ *mock.Provider }

func (unconfigured) Configured() bool { return false }

func TestDialBatchNeedsSetup(t *testing.T) {
	f := newFixture(t, unconfigured{mock.NewProvider(config.TelephonyConfig{})})
	_, err := f.svc.DialBatch(context.Background(), DialInput{UserID: "u1", Leads: threeLeads()})
	if !errors.Is(err, apperrors.ErrNeedsSetup) {
		t.Fatalf("expected ErrNeedsSetup without credentials, got %v", err)
	}

	f = newFixture(t, nil)
	_, err = f.svc.DialBatch(context.Background(), DialInput{UserID: "nobody", Leads: threeLeads()})
	if !errors.Is(err, apperrors.ErrNeedsSetup) {
		t.Fatalf("expected ErrNeedsSetup without settings, got %v", err)
	}

	_ = f.settings.Upsert(context.Background(), &domain.DialSettings{UserID: "u2"})
	_, err = f.svc.DialBatch(context.Background(), DialInput{UserID: "u2", Leads: threeLeads()})
	if !errors.Is(err, apperrors.ErrNeedsSetup) {
		t.Fatalf("expected ErrNeedsSetup without caller id, got %v", err)
	}
}

func TestDialBatchReportsLineFailureInline(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.FailPlacementTo("+15550002")

	res, err := f.svc.DialBatch(context.Background(), DialInput{UserID: "u1", Leads: threeLeads()})
	if err != nil {
		t.Fatalf("a failing line must not fail the batch: %v", err)
	}
	if res.Placed() != 2 {
		t.Fatalf("expected 2 placed lines, got %d", res.Placed())
	}
	failed := res.Lines[1]
	if failed.Error == "" || !failed.Retryable || failed.CallID != "" {
		t.Fatalf("expected retryable inline error on line 2, got %+v", failed)
	}
}

func TestDialBatchClearsPreviousLineOccupant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first, _ := f.svc.DialBatch(ctx, DialInput{UserID: "u1", Leads: threeLeads()[:1]})
	oldID := first.Lines[0].CallID

	second, err := f.svc.DialBatch(ctx, DialInput{UserID: "u1", Leads: []LeadTarget{{Phone: "+15550009"}}})
	if err != nil || second.Placed() != 1 {
		t.Fatalf("expected second batch to place, got %+v %v", second, err)
	}

	old, _ := f.calls.Get(ctx, oldID)
	if old.Status != domain.CallStatusTerminatedByUser || old.StatusSource != domain.StatusSourceSystem || old.EndedAt == nil {
		t.Fatalf("expected prior call terminated by system, got %+v", old)
	}
	open, _ := f.calls.ListOpenByLine(ctx, "u1", 1)
	if len(open) != 1 || open[0].CallID != second.Lines[0].CallID {
		t.Fatalf("expected exactly one open call on line 1, got %+v", open)
	}
}

func TestDialBatchCountsSessionAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	_ = f.sessions.Start(ctx, &domain.DialSession{ID: sessionID, UserID: "u1", TotalLeads: 10, Active: true}, nil)

	if _, err := f.svc.DialBatch(ctx, DialInput{UserID: "u1", SessionID: &sessionID, Leads: threeLeads()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := f.sessions.Get(ctx, "u1", sessionID)
	if s.AttemptedCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", s.AttemptedCount)
	}
}

func TestEndSessionTerminatesAllLines(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	_ = f.sessions.Start(ctx, &domain.DialSession{ID: sessionID, UserID: "u1", TotalLeads: 3, Active: true}, nil)
	res, _ := f.svc.DialBatch(ctx, DialInput{UserID: "u1", SessionID: &sessionID, Leads: threeLeads()})
	f.provider.FailHangup(res.Lines[0].CallID, errors.New("network down"))

	ended, err := f.svc.EndSession(ctx, "u1", sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ended) != 3 {
		t.Fatalf("expected 3 ended lines, got %d", len(ended))
	}
	for _, l := range res.Lines {
		c, _ := f.calls.Get(ctx, l.CallID)
		if c.Status != domain.CallStatusTerminatedByUser {
			t.Errorf("line %d: expected terminated_by_user, got %s", l.LineNumber, c.Status)
		}
	}
	s, _ := f.sessions.Get(ctx, "u1", sessionID)
	if s.Active || s.EndedAt == nil {
		t.Fatalf("expected session closed, got %+v", s)
	}
}

func TestHangupCallOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.DialBatch(ctx, DialInput{UserID: "u1", Leads: threeLeads()[:1]})
	id := res.Lines[0].CallID

	if _, err := f.svc.HangupCall(ctx, "intruder", id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user's call, got %v", err)
	}
	call, err := f.svc.HangupCall(ctx, "u1", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.Status != domain.CallStatusTerminatedByUser {
		t.Fatalf("expected terminated_by_user, got %s", call.Status)
	}
	if again, err := f.svc.HangupCall(ctx, "u1", id); err != nil || again.Status != domain.CallStatusTerminatedByUser {
		t.Fatalf("repeated hangup should be a no-op, got %+v %v", again, err)
	}
}

func TestBridgeFor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, _ := f.svc.DialBatch(ctx, DialInput{UserID: "u1", Leads: threeLeads()[:1]})
	id := res.Lines[0].CallID

	b, err := f.svc.BridgeFor(ctx, id)
	if err != nil || b.Identity != "rep-u1" || b.Ended {
		t.Fatalf("unexpected bridge %+v %v", b, err)
	}
	_, _ = f.svc.HangupCall(ctx, "u1", id)
	if b, _ := f.svc.BridgeFor(ctx, id); !b.Ended {
		t.Fatalf("ended call must not be bridged")
	}
}

func TestDialBatchRejectsForeignSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	_ = f.sessions.Start(ctx, &domain.DialSession{ID: sessionID, UserID: "u2", TotalLeads: 10, Active: true}, nil)

	_, err := f.svc.DialBatch(ctx, DialInput{UserID: "u1", SessionID: &sessionID, Leads: threeLeads()})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for another user's session, got %v", err)
	}
	if n := len(f.provider.Placed()); n != 0 {
		t.Fatalf("no call may be placed, got %d", n)
	}
	s, _ := f.sessions.Get(ctx, "u2", sessionID)
	if s.AttemptedCount != 0 {
		t.Fatalf("foreign session counter moved to %d", s.AttemptedCount)
	}
}

func TestDialBatchRejectsEndedSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	_ = f.sessions.Start(ctx, &domain.DialSession{ID: sessionID, UserID: "u1", TotalLeads: 10, Active: true}, nil)
	_ = f.sessions.End(ctx, "u1", sessionID, time.Now())

	_, err := f.svc.DialBatch(ctx, DialInput{UserID: "u1", SessionID: &sessionID, Leads: threeLeads()})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for ended session, got %v", err)
	}
	if n := len(f.provider.Placed()); n != 0 {
		t.Fatalf("no call may be placed, got %d", n)
	}
}
