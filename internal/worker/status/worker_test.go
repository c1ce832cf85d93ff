package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/queue"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func encode(t *testing.T, e domain.CallStatusEvent) []byte {
	t.Helper()
	b, err := json.Marshal(queue.NewStatusMessage(e))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRunAppendsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 1, Value: encode(t, domain.CallStatusEvent{CallID: "CA1", UserID: "u1", Status: domain.CallStatusRinging, PreviousStatus: domain.CallStatusQueued, CallStartedAt: at, OccurredAt: at})},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: encode(t, domain.CallStatusEvent{CallID: "CA1", UserID: "u1", Status: domain.CallStatusAnswered, PreviousStatus: domain.CallStatusRinging, CallStartedAt: at, OccurredAt: at.Add(time.Second)})},
	}}
	store := memory.NewTimelineStore()

	err := New(reader, store, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}

	events, _, _ := store.ListByCall(context.Background(), "u1", at, "CA1", 10, nil)
	if len(events) != 2 || events[1].Status != domain.CallStatusAnswered {
		t.Fatalf("expected two timeline events, got %+v", events)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("expected every message committed including the poison one, got %v", reader.committed)
	}
}
