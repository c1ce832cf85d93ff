package queue

import (
	"time"

	"github.com/acme/triple-line-dialer/internal/domain"
)

// StatusMessage is the wire form of an accepted call status transition.
type StatusMessage struct {
	CallID         string    `json:"call_sid"`
	UserID         string    `json:"user_id"`
	LineNumber     int       `json:"line_number"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status"`
	Source         string    `json:"source"`
	CallStartedAt  time.Time `json:"call_started_at"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewStatusMessage converts a domain event to its wire form.
func NewStatusMessage(e domain.CallStatusEvent) StatusMessage {
	return StatusMessage{
		CallID:         e.CallID,
		UserID:         e.UserID,
		LineNumber:     e.LineNumber,
		Status:         string(e.Status),
		PreviousStatus: string(e.PreviousStatus),
		Source:         string(e.Source),
		CallStartedAt:  e.CallStartedAt,
		OccurredAt:     e.OccurredAt,
	}
}

// Event converts the message back to a domain event.
func (m StatusMessage) Event() domain.CallStatusEvent {
	return domain.CallStatusEvent{
		CallID:         m.CallID,
		UserID:         m.UserID,
		LineNumber:     m.LineNumber,
		Status:         domain.CallStatus(m.Status),
		PreviousStatus: domain.CallStatus(m.PreviousStatus),
		Source:         domain.StatusSource(m.Source),
		CallStartedAt:  m.CallStartedAt,
		OccurredAt:     m.OccurredAt,
	}
}
