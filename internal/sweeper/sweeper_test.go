package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/telephony/mock"
)

type heldLock struct{ held bool }

func (l *heldLock) TryLock(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error { l.held = false; return nil }, true, nil
}

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newSweeper(calls *memory.CallRepository, provider *mock.Provider, locker Locker) *Sweeper {
	if provider == nil {
		provider = mock.NewProvider(config.TelephonyConfig{})
	}
	manager := callstatus.NewManager(calls, nil, nil)
	term := callstatus.NewTerminator(manager, provider, nil)
	cfg := config.SweeperConfig{StaleAfter: 15 * time.Minute, MaxCallDuration: 4 * time.Hour, Retention: 24 * time.Hour}
	s := New(calls, manager, term, provider, locker, cfg, nil)
	s.now = func() time.Time { return now }
	return s
}

func seedCall(t *testing.T, calls *memory.CallRepository, id string, line int, status domain.CallStatus, changed time.Time, ended *time.Time) {
	t.Helper()
	err := calls.Insert(context.Background(), &domain.ActiveCall{
		CallID:          id,
		UserID:          "u1",
		BatchID:         uuid.New(),
		LineNumber:      line,
		Status:          status,
		StartedAt:       changed,
		StatusChangedAt: changed,
		CreatedAt:       changed,
		EndedAt:         ended,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestTickExpiresStaleAndDeletesOld(t *testing.T) {
	calls := memory.NewCallRepository()
	oldEnd := now.Add(-48 * time.Hour)
	recentEnd := now.Add(-time.Hour)
	seedCall(t, calls, "stale", 1, domain.CallStatusRinging, now.Add(-time.Hour), nil)
	seedCall(t, calls, "fresh", 2, domain.CallStatusRinging, now.Add(-time.Minute), nil)
	seedCall(t, calls, "old", 3, domain.CallStatusCompleted, oldEnd, &oldEnd)
	seedCall(t, calls, "recent", 3, domain.CallStatusCompleted, recentEnd, &recentEnd)

	stats, err := newSweeper(calls, nil, nil).Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Expired != 1 || stats.Deleted != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	ctx := context.Background()
	if c, _ := calls.Get(ctx, "stale"); c.Status != domain.CallStatusFailed || c.StatusSource != domain.StatusSourceSystem {
		t.Fatalf("expected stale call failed by system, got %+v", c)
	}
	if c, _ := calls.Get(ctx, "fresh"); c.Status != domain.CallStatusRinging {
		t.Fatalf("fresh call must be untouched, got %s", c.Status)
	}
	if _, err := calls.Get(ctx, "old"); err == nil {
		t.Fatalf("expected old terminal row deleted")
	}
	if _, err := calls.Get(ctx, "recent"); err != nil {
		t.Fatalf("recent terminal row must be kept for metrics: %v", err)
	}
}

func TestTickSkipsWithoutLease(t *testing.T) {
	calls := memory.NewCallRepository()
	seedCall(t, calls, "stale", 1, domain.CallStatusRinging, now.Add(-time.Hour), nil)

	stats, err := newSweeper(calls, nil, &heldLock{held: true}).Tick(context.Background())
	if err != nil || !stats.Skipped {
		t.Fatalf("expected skipped tick, got %+v %v", stats, err)
	}
	if c, _ := calls.Get(context.Background(), "stale"); c.Status != domain.CallStatusRinging {
		t.Fatalf("skipped tick must not touch calls")
	}
}

func TestTickReleasesLease(t *testing.T) {
	lock := &heldLock{}
	s := newSweeper(memory.NewCallRepository(), nil, lock)
	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock.held {
		t.Fatalf("expected lease released after tick")
	}
}

func TestTickLeavesLongConversationsLive(t *testing.T) {
	calls := memory.NewCallRepository()
	provider := mock.NewProvider(config.TelephonyConfig{})
	seedCall(t, calls, "talking", 1, domain.CallStatusInProgress, now.Add(-20*time.Minute), nil)
	seedCall(t, calls, "answered", 2, domain.CallStatusAnswered, now.Add(-time.Hour), nil)

	stats, err := newSweeper(calls, provider, nil).Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Expired != 0 || stats.Reconciled != 0 {
		t.Fatalf("expected connected calls untouched, got %+v", stats)
	}
	ctx := context.Background()
	if c, _ := calls.Get(ctx, "talking"); c.Status != domain.CallStatusInProgress {
		t.Fatalf("live conversation must stay in-progress, got %s", c.Status)
	}
	if c, _ := calls.Get(ctx, "answered"); c.Status != domain.CallStatusAnswered {
		t.Fatalf("answered call must stay answered, got %s", c.Status)
	}
	if len(provider.HungUp()) != 0 {
		t.Fatalf("no hangup may be sent to connected calls, got %v", provider.HungUp())
	}
}

func TestTickReconcilesConnectedCallWithVendor(t *testing.T) {
	calls := memory.NewCallRepository()
	provider := mock.NewProvider(config.TelephonyConfig{})
	seedCall(t, calls, "done", 1, domain.CallStatusInProgress, now.Add(-5*time.Hour), nil)
	seedCall(t, calls, "marathon", 2, domain.CallStatusInProgress, now.Add(-5*time.Hour), nil)
	provider.SetVendorStatus("done", domain.CallStatusCompleted)

	stats, err := newSweeper(calls, provider, nil).Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Reconciled != 1 || stats.Expired != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	ctx := context.Background()
	if c, _ := calls.Get(ctx, "done"); c.Status != domain.CallStatusCompleted || c.StatusSource != domain.StatusSourceSystem {
		t.Fatalf("expected vendor completion recorded, got %+v", c)
	}
	if c, _ := calls.Get(ctx, "marathon"); c.Status != domain.CallStatusInProgress {
		t.Fatalf("call the vendor reports live must stay in-progress, got %s", c.Status)
	}
	if len(provider.HungUp()) != 0 {
		t.Fatalf("reconciliation must not hang up, got %v", provider.HungUp())
	}
}
