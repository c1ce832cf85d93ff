package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/concurrency"
	"github.com/acme/triple-line-dialer/internal/service/dialer"
	"github.com/acme/triple-line-dialer/internal/service/session"
	"github.com/acme/triple-line-dialer/internal/telephony/mock"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

type fixture struct {
	coord    *Coordinator
	dialer   *dialer.Service
	calls    *memory.CallRepository
	settings *memory.SettingsRepository
	provider *mock.Provider
}

func newFixture(hangupOnVoicemail bool) *fixture {
	calls := memory.NewCallRepository()
	leads := memory.NewLeadRepository()
	sessions := memory.NewSessionRepository(leads)
	settings := memory.NewSettingsRepository(domain.DialSettings{
		UserID:            "U",
		CallerID:          "+15559999",
		AMDEnabled:        true,
		HangupOnVoicemail: hangupOnVoicemail,
	})
	provider := mock.NewProvider(config.TelephonyConfig{})
	manager := callstatus.NewManager(calls, nil, nil)
	term := callstatus.NewTerminator(manager, provider, nil)
	d := dialer.NewService(calls, settings, session.NewService(sessions, leads, 3, nil), leads, provider, term, dialer.Config{MaxLines: 3, RingTimeout: 20 * time.Second}, nil)
	return &fixture{
		coord:    New(calls, settings, manager, term, concurrency.NewLocalClaimer(), nil),
		dialer:   d,
		calls:    calls,
		settings: settings,
		provider: provider,
	}
}

func (f *fixture) dialThree(t *testing.T) []string {
	t.Helper()
	res, err := f.dialer.DialBatch(context.Background(), dialer.DialInput{
		UserID: "U",
		Leads:  []dialer.LeadTarget{{Phone: "+15550001"}, {Phone: "+15550002"}, {Phone: "+15550003"}},
	})
	if err != nil || res.Placed() != 3 {
		t.Fatalf("dial: %+v %v", res, err)
	}
	ids := make([]string, 3)
	for _, l := range res.Lines {
		ids[l.LineNumber-1] = l.CallID
	}
	return ids
}

func (f *fixture) status(t *testing.T, id string) domain.ActiveCall {
	t.Helper()
	c, err := f.calls.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return *c
}

func TestHumanOnLineTwoDropsSiblings(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)
	// Line 1's hangup fails at the vendor; it must still end locally.
	f.provider.FailHangup(ids[0], errors.New("connection reset"))

	res, err := f.coord.HandleAMD(context.Background(), ids[1], domain.AMDHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Connected || len(res.Dropped) != 2 || res.HangupFailures != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	if got := f.status(t, ids[1]); got.Status != domain.CallStatusAnswered || got.AMDResult != domain.AMDHuman || got.AnsweredAt == nil {
		t.Fatalf("line 2: expected answered with human verdict, got %+v", got)
	}
	for _, id := range []string{ids[0], ids[2]} {
		got := f.status(t, id)
		if got.Status != domain.CallStatusDroppedOtherAnswered || got.EndedAt == nil {
			t.Fatalf("sibling %s: expected dropped_other_answered, got %+v", id, got)
		}
	}

	hung := f.provider.HungUp()
	if len(hung) != 1 || hung[0] != ids[2] {
		t.Fatalf("expected a confirmed hangup for line 3 only, got %v", hung)
	}
}

func TestHumanSkipsSiblingAlreadyEnded(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)
	m := callstatus.NewManager(f.calls, nil, nil)
	if _, err := m.Apply(context.Background(), callstatus.Update{CallID: ids[0], Status: domain.CallStatusBusy}); err != nil {
		t.Fatalf("seed busy: %v", err)
	}

	res, err := f.coord.HandleAMD(context.Background(), ids[2], domain.AMDHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != ids[1] {
		t.Fatalf("expected only line 2 dropped, got %+v", res)
	}
	if got := f.status(t, ids[0]); got.Status != domain.CallStatusBusy {
		t.Fatalf("ended sibling must keep its status, got %s", got.Status)
	}
}

func TestHumanKeepsInProgressStage(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)
	m := callstatus.NewManager(f.calls, nil, nil)
	_, _ = m.Apply(context.Background(), callstatus.Update{CallID: ids[0], Status: domain.CallStatusInProgress})

	if _, err := f.coord.HandleAMD(context.Background(), ids[0], domain.AMDUnknown); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.status(t, ids[0])
	if got.Status != domain.CallStatusInProgress || got.AMDResult != domain.AMDUnknown {
		t.Fatalf("expected in-progress with verdict recorded, got %+v", got)
	}
}

func TestConcurrentHumansFirstClaimWins(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)

	var wg sync.WaitGroup
	for _, id := range []string{ids[0], ids[2]} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.coord.HandleAMD(context.Background(), id, domain.AMDHuman)
		}(id)
	}
	wg.Wait()

	answered := 0
	for _, id := range ids {
		got := f.status(t, id)
		switch got.Status {
		case domain.CallStatusAnswered:
			answered++
		case domain.CallStatusDroppedOtherAnswered:
		default:
			t.Errorf("%s: unexpected status %s", id, got.Status)
		}
	}
	if answered != 1 {
		t.Fatalf("expected exactly one answered line, got %d", answered)
	}
}

func TestMachineWithHangupFlag(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)

	if _, err := f.coord.HandleAMD(context.Background(), ids[0], domain.AMDMachine); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.status(t, ids[0])
	if got.Status != domain.CallStatusVoicemailDetected || got.AMDResult != domain.AMDMachine {
		t.Fatalf("expected voicemail_detected, got %+v", got)
	}
	if hung := f.provider.HungUp(); len(hung) != 1 || hung[0] != ids[0] {
		t.Fatalf("expected voicemail line hung up, got %v", hung)
	}
	if other := f.status(t, ids[1]); other.Status.IsTerminal() {
		t.Fatalf("machine verdict must not touch siblings")
	}
}

func TestMachineWithoutHangupFlag(t *testing.T) {
	f := newFixture(false)
	ids := f.dialThree(t)

	if _, err := f.coord.HandleAMD(context.Background(), ids[0], domain.AMDMachine); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.status(t, ids[0]); got.Status != domain.CallStatusVoicemailDetected {
		t.Fatalf("expected voicemail_detected, got %s", got.Status)
	}
	if hung := f.provider.HungUp(); len(hung) != 0 {
		t.Fatalf("expected no hangup, got %v", hung)
	}
}

// endingClaimer finishes the call while the claim is taken, like a completion
// callback landing between the AMD webhook's read and its write.
type endingClaimer struct {
	*concurrency.LocalClaimer
	manager    *callstatus.Manager
	releaseErr error
}

func (c *endingClaimer) Claim(ctx context.Context, userID string, batchID uuid.UUID, callID string) (bool, error) {
	if _, err := c.manager.Apply(ctx, callstatus.Update{CallID: callID, Status: domain.CallStatusCompleted}); err != nil {
		return false, err
	}
	return c.LocalClaimer.Claim(ctx, userID, batchID, callID)
}

func (c *endingClaimer) Release(context.Context, string, uuid.UUID, string) error {
	return c.releaseErr
}

func TestHumanOnEndedCallLogsReleaseFailure(t *testing.T) {
	f := newFixture(true)
	ids := f.dialThree(t)

	core, logs := observer.New(zapcore.WarnLevel)
	manager := callstatus.NewManager(f.calls, nil, nil)
	claimer := &endingClaimer{LocalClaimer: concurrency.NewLocalClaimer(), manager: manager, releaseErr: errors.New("redis down")}
	coord := New(f.calls, f.settings, manager, callstatus.NewTerminator(manager, f.provider, nil), claimer, &logger.Logger{Logger: zap.New(core)})

	res, err := coord.HandleAMD(context.Background(), ids[0], domain.AMDHuman)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Connected {
		t.Fatalf("ended call must not connect")
	}
	if got := f.status(t, ids[0]); got.Status != domain.CallStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	entries := logs.FilterMessage("release connect claim").All()
	if len(entries) != 1 {
		t.Fatalf("expected one release warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["error"]; got != "redis down" {
		t.Fatalf("expected release error logged, got %v", got)
	}
}
