package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActiveCall mirrors one in-flight or recently terminated call attempt.
type ActiveCall struct {
	CallID          string
	UserID          string
	LeadID          *uuid.UUID
	SessionID       *uuid.UUID
	BatchID         uuid.UUID
	LineNumber      int
	ToNumber        string
	Status          CallStatus
	StatusSource    StatusSource
	AMDResult       AMDResult
	DurationSeconds int
	StartedAt       time.Time
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	StatusChangedAt time.Time
	CreatedAt       time.Time
}

// Stage returns the lifecycle classification of the current status.
func (c ActiveCall) Stage() StageInfo {
	return Classify(c.Status)
}

// DialSettings are the per-user knobs applied on call placement.
type DialSettings struct {
	UserID            string
	CallerID          string
	ClientIdentity    string
	HangupOnVoicemail bool
	AMDEnabled        bool
	RecordCalls       bool
	RingTimeout       time.Duration
	AMDTimeout        time.Duration
	UpdatedAt         time.Time
}

// Lead is a prospect in the user's pipeline.
type Lead struct {
	ID            uuid.UUID
	UserID        string
	Name          string
	Phone         string
	Company       string
	PipelineStage string
	Status        LeadStatus
	LastCalledAt  *time.Time
	CreatedAt     time.Time
}

// LeadStatus tracks where a lead is in the calling workflow.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusCallback  LeadStatus = "callback"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusMeeting   LeadStatus = "meeting"
	LeadStatusClosed    LeadStatus = "closed"
	LeadStatusDNC       LeadStatus = "do_not_call"
)

// CallStatusEvent is one accepted transition, kept for the call timeline.
type CallStatusEvent struct {
	CallID         string
	UserID         string
	LineNumber     int
	Status         CallStatus
	PreviousStatus CallStatus
	Source         StatusSource
	CallStartedAt  time.Time
	OccurredAt     time.Time
}
