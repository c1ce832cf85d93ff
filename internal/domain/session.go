package domain

import (
	"time"

	"github.com/google/uuid"
)

// DialSession tracks progress through a queue of leads.
type DialSession struct {
	ID             uuid.UUID
	UserID         string
	PipelineFilter string
	TotalLeads     int
	AttemptedCount int
	CompletedCount int
	Active         bool
	StartedAt      time.Time
	EndedAt        *time.Time
	UpdatedAt      time.Time
}

// ProgressPercent is the share of queued leads already attempted.
func (s DialSession) ProgressPercent() float64 {
	if s.TotalLeads <= 0 {
		return 0
	}
	return float64(s.AttemptedCount) / float64(s.TotalLeads) * 100
}

// Remaining is the number of leads not yet attempted.
func (s DialSession) Remaining() int {
	if r := s.TotalLeads - s.AttemptedCount; r > 0 {
		return r
	}
	return 0
}

// QueueState is the state of one entry of a session's dial queue.
type QueueState string

const (
	QueueStatePending QueueState = "pending"
	QueueStateDialing QueueState = "dialing"
	QueueStateDone    QueueState = "done"
)

// QueuedLead is a lead claimed from the session queue.
type QueuedLead struct {
	SessionID uuid.UUID
	Position  int
	Lead      Lead
}
