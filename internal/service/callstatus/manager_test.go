package callstatus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.CallStatusEvent
}

func (p *recordingPublisher) PublishStatus(_ context.Context, e domain.CallStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func seedCall(t *testing.T, repo *memory.CallRepository, id string, status domain.CallStatus) {
	t.Helper()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err := repo.Insert(context.Background(), &domain.ActiveCall{
		CallID:          id,
		UserID:          "u1",
		BatchID:         uuid.New(),
		LineNumber:      1,
		ToNumber:        "+15550001",
		Status:          status,
		StatusSource:    domain.StatusSourceWebhook,
		StartedAt:       now,
		StatusChangedAt: now,
		CreatedAt:       now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newManager(repo repository.CallRepository, pub Publisher, at time.Time) *Manager {
	m := NewManager(repo, pub, nil)
	m.now = func() time.Time { return at }
	return m
}

func TestApplyAcceptsForwardTransition(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusRinging)
	pub := &recordingPublisher{}
	at := time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)

	res, err := newManager(repo, pub, at).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusInProgress})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Changed || res.Call.Status != domain.CallStatusInProgress || res.Previous != domain.CallStatusRinging {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Call.AnsweredAt == nil || !res.Call.AnsweredAt.Equal(at) {
		t.Fatalf("expected answered_at set on entry to in-progress")
	}
	if len(pub.events) != 1 || pub.events[0].PreviousStatus != domain.CallStatusRinging {
		t.Fatalf("expected one published event, got %+v", pub.events)
	}
}

func TestApplyRingingToNoAnswerAccepted(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusRinging)

	res, err := NewManager(repo, nil, nil).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusNoAnswer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Call.EndedAt == nil {
		t.Fatalf("expected ended_at to be set")
	}
}

func TestApplyRejectsBackwardsAndLeavesStateUnchanged(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusInProgress)
	pub := &recordingPublisher{}

	_, err := NewManager(repo, pub, nil).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusRinging})
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	stored, _ := repo.Get(context.Background(), "CA1")
	if stored.Status != domain.CallStatusInProgress {
		t.Fatalf("expected stored status unchanged, got %s", stored.Status)
	}
	if len(pub.events) != 0 {
		t.Fatalf("rejected transitions must not publish")
	}
}

func TestApplyRejectsLeavingTerminal(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusCompleted)

	_, err := NewManager(repo, nil, nil).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusFailed})
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApplyTerminalTwiceKeepsEndTime(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusRinging)
	first := time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	if _, err := newManager(repo, nil, first).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusCompleted}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, err := newManager(repo, nil, second).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusCompleted})
	if err != nil {
		t.Fatalf("second apply should be a no-op, got %v", err)
	}
	if res.Changed {
		t.Fatalf("expected no change on repeated terminal status")
	}
	stored, _ := repo.Get(context.Background(), "CA1")
	if stored.EndedAt == nil || !stored.EndedAt.Equal(first) {
		t.Fatalf("expected ended_at to stay at first terminal time, got %v", stored.EndedAt)
	}
}

func TestApplyUnknownCall(t *testing.T) {
	_, err := NewManager(memory.NewCallRepository(), nil, nil).Apply(context.Background(), Update{CallID: "nope", Status: domain.CallStatusRinging})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// racingRepo loses every conditional write.
type racingRepo struct {
	*memory.CallRepository
	writes int
}

func (r *racingRepo) CompareAndSetStatus(context.Context, string, domain.CallStatus, repository.StatusChange) (bool, error) {
	r.writes++
	return false, nil
}

func TestApplyGivesUpAfterRepeatedConflicts(t *testing.T) {
	inner := memory.NewCallRepository()
	seedCall(t, inner, "CA1", domain.CallStatusQueued)
	repo := &racingRepo{CallRepository: inner}

	_, err := NewManager(repo, nil, nil).Apply(context.Background(), Update{CallID: "CA1", Status: domain.CallStatusRinging})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if repo.writes != maxWriteAttempts {
		t.Fatalf("expected %d write attempts, got %d", maxWriteAttempts, repo.writes)
	}
}

func TestApplyConcurrentTerminalUpdatesConverge(t *testing.T) {
	repo := memory.NewCallRepository()
	seedCall(t, repo, "CA1", domain.CallStatusRinging)
	m := NewManager(repo, nil, nil)

	var wg sync.WaitGroup
	for _, s := range []domain.CallStatus{domain.CallStatusCompleted, domain.CallStatusCanceled, domain.CallStatusBusy} {
		wg.Add(1)
		go func(status domain.CallStatus) {
			defer wg.Done()
			_, _ = m.Apply(context.Background(), Update{CallID: "CA1", Status: status})
		}(s)
	}
	wg.Wait()

	stored, _ := repo.Get(context.Background(), "CA1")
	if !stored.Status.IsTerminal() || stored.EndedAt == nil {
		t.Fatalf("expected a single terminal status, got %+v", stored)
	}
}
