package domain

import (
	"time"

	"github.com/google/uuid"
)

// Disposition is the rep-entered classification of a finished call.
type Disposition string

const (
	DispositionConnected     Disposition = "connected"
	DispositionVoicemail     Disposition = "voicemail"
	DispositionNoAnswer      Disposition = "no_answer"
	DispositionNotInterested Disposition = "not_interested"
	DispositionCallback      Disposition = "callback"
	DispositionMeetingBooked Disposition = "meeting_booked"
	DispositionWrongNumber   Disposition = "wrong_number"
	DispositionDoNotCall     Disposition = "do_not_call"
)

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	_, ok := dispositionPoints[d]
	return ok
}

// Points is the scoreboard value of a disposition.
func (d Disposition) Points() int {
	return dispositionPoints[d]
}

// IsConversation reports whether the rep spoke to the prospect.
func (d Disposition) IsConversation() bool {
	switch d {
	case DispositionConnected, DispositionMeetingBooked, DispositionCallback, DispositionNotInterested:
		return true
	}
	return false
}

// LeadStatus returns the lead status implied by the disposition.
func (d Disposition) LeadStatus() LeadStatus {
	switch d {
	case DispositionMeetingBooked:
		return LeadStatusMeeting
	case DispositionCallback, DispositionVoicemail, DispositionNoAnswer:
		return LeadStatusCallback
	case DispositionDoNotCall, DispositionWrongNumber:
		return LeadStatusDNC
	case DispositionNotInterested:
		return LeadStatusClosed
	default:
		return LeadStatusContacted
	}
}

var dispositionPoints = map[Disposition]int{
	DispositionConnected:     5,
	DispositionVoicemail:     1,
	DispositionNoAnswer:      1,
	DispositionNotInterested: 3,
	DispositionCallback:      4,
	DispositionMeetingBooked: 25,
	DispositionWrongNumber:   1,
	DispositionDoNotCall:     1,
}

// CallOutcome is an append-only disposition entry for one call.
type CallOutcome struct {
	ID          uuid.UUID
	UserID      string
	CallID      string
	LeadID      *uuid.UUID
	SessionID   *uuid.UUID
	Disposition Disposition
	Notes       string
	Summary     string
	Points      int
	CreatedAt   time.Time
}
