package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/triple-line-dialer/internal/domain"
)

// TimelineStore keeps call status events in Scylla, partitioned by user and
// the day the call started.
type TimelineStore struct {
	session *gocql.Session
}

// NewTimelineStore creates a new timeline store.
func NewTimelineStore(session *gocql.Session) *TimelineStore {
	return &TimelineStore{session: session}
}

// Append inserts one status event. Replays of the same event overwrite the row.
func (s *TimelineStore) Append(ctx context.Context, event domain.CallStatusEvent) error {
	day := bucketDate(event.CallStartedAt)
	if event.CallStartedAt.IsZero() {
		day = bucketDate(event.OccurredAt)
	}
	if err := s.session.Query(`INSERT INTO call_events_by_user (user_id, day, call_sid, occurred_at, status, previous_status, source, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UserID, day, event.CallID, event.OccurredAt, string(event.Status), string(event.PreviousStatus),
		string(event.Source), event.LineNumber,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("timeline store: insert: %w", err)
	}
	return nil
}

// ListByCall returns one page of a call's events in occurrence order.
func (s *TimelineStore) ListByCall(ctx context.Context, userID string, callDay time.Time, callID string, limit int, pageState []byte) ([]domain.CallStatusEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT occurred_at, status, previous_status, source, line_number
		FROM call_events_by_user
		WHERE user_id = ? AND day = ? AND call_sid = ?`,
		userID, bucketDate(callDay), callID,
	).WithContext(ctx).PageSize(limit)
	if len(pageState) > 0 {
		query = query.PageState(pageState)
	}
	iter := query.Iter()

	var (
		events     = make([]domain.CallStatusEvent, 0, limit)
		occurredAt time.Time
		status     string
		previous   string
		source     string
		line       int
	)
	for len(events) < limit && iter.Scan(&occurredAt, &status, &previous, &source, &line) {
		events = append(events, domain.CallStatusEvent{
			CallID:         callID,
			UserID:         userID,
			LineNumber:     line,
			Status:         domain.CallStatus(status),
			PreviousStatus: domain.CallStatus(previous),
			Source:         domain.StatusSource(source),
			CallStartedAt:  callDay,
			OccurredAt:     occurredAt,
		})
	}
	next := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("timeline store: iter close: %w", err)
	}
	return events, next, nil
}

func bucketDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
