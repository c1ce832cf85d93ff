package domain

import "strings"

// CallStatus is the lifecycle stage of a single call attempt.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusInProgress CallStatus = "in-progress"

	CallStatusCompleted            CallStatus = "completed"
	CallStatusFailed               CallStatus = "failed"
	CallStatusBusy                 CallStatus = "busy"
	CallStatusNoAnswer             CallStatus = "no-answer"
	CallStatusCanceled             CallStatus = "canceled"
	CallStatusVoicemailDetected    CallStatus = "voicemail_detected"
	CallStatusDroppedOtherAnswered CallStatus = "dropped_other_answered"
	CallStatusTerminatedByUser     CallStatus = "terminated_by_user"
)

// terminalOrder is shared by every absorbing status.
const terminalOrder = 6

// progressStages is the number of pre-terminal stages mapped onto 0-100%.
const progressStages = 5

// StageInfo describes where a status sits in the call lifecycle.
type StageInfo struct {
	Order    int
	Label    string
	Terminal bool
}

// Classify looks up a status. Unknown statuses are not an error: they get
// order 0, are non-terminal and keep their raw value as label.
func Classify(status CallStatus) StageInfo {
	switch status {
	case CallStatusInitiating:
		return StageInfo{Order: 1, Label: "Initiating"}
	case CallStatusQueued:
		return StageInfo{Order: 2, Label: "Queued"}
	case CallStatusRinging:
		return StageInfo{Order: 3, Label: "Ringing"}
	case CallStatusAnswered:
		return StageInfo{Order: 4, Label: "Answered"}
	case CallStatusInProgress:
		return StageInfo{Order: 5, Label: "In progress"}
	case CallStatusCompleted:
		return StageInfo{Order: terminalOrder, Label: "Completed", Terminal: true}
	case CallStatusFailed:
		return StageInfo{Order: terminalOrder, Label: "Failed", Terminal: true}
	case CallStatusBusy:
		return StageInfo{Order: terminalOrder, Label: "Busy", Terminal: true}
	case CallStatusNoAnswer:
		return StageInfo{Order: terminalOrder, Label: "No answer", Terminal: true}
	case CallStatusCanceled:
		return StageInfo{Order: terminalOrder, Label: "Canceled", Terminal: true}
	case CallStatusVoicemailDetected:
		return StageInfo{Order: terminalOrder, Label: "Voicemail detected", Terminal: true}
	case CallStatusDroppedOtherAnswered:
		return StageInfo{Order: terminalOrder, Label: "Dropped (other line answered)", Terminal: true}
	case CallStatusTerminatedByUser:
		return StageInfo{Order: terminalOrder, Label: "Ended by you", Terminal: true}
	default:
		return StageInfo{Order: 0, Label: string(status)}
	}
}

// IsTerminal reports whether no further transition is allowed out of status.
func (s CallStatus) IsTerminal() bool {
	return Classify(s).Terminal
}

// Known reports whether the status is part of the lifecycle table.
func (s CallStatus) Known() bool {
	return Classify(s).Order > 0
}

// CanTransition applies the ordering rule: terminal statuses are absorbing,
// any status may jump straight to a terminal one, and otherwise the stage
// order must not go backwards.
func CanTransition(current, next CallStatus) bool {
	cur := Classify(current)
	if cur.Terminal {
		return false
	}
	nxt := Classify(next)
	if nxt.Terminal {
		return true
	}
	return nxt.Order >= cur.Order
}

// ProgressPercent maps a status onto the UI progress bar.
func ProgressPercent(status CallStatus) float64 {
	ratio := float64(Classify(status).Order) / progressStages
	if ratio > 1 {
		ratio = 1
	}
	return ratio * 100
}

// AllStatuses lists every status in the lifecycle table in stage order.
func AllStatuses() []CallStatus {
	return []CallStatus{
		CallStatusInitiating,
		CallStatusQueued,
		CallStatusRinging,
		CallStatusAnswered,
		CallStatusInProgress,
		CallStatusCompleted,
		CallStatusFailed,
		CallStatusBusy,
		CallStatusNoAnswer,
		CallStatusCanceled,
		CallStatusVoicemailDetected,
		CallStatusDroppedOtherAnswered,
		CallStatusTerminatedByUser,
	}
}

// ParseVendorStatus maps a telephony provider status string onto the table.
// Unrecognised values pass through unchanged and classify as unknown.
func ParseVendorStatus(raw string) CallStatus {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "initiated", "initiating":
		return CallStatusInitiating
	case "in_progress", "inprogress":
		return CallStatusInProgress
	case "no_answer", "noanswer":
		return CallStatusNoAnswer
	case "cancelled":
		return CallStatusCanceled
	}
	return CallStatus(v)
}

// StatusSource records who reported a status change.
type StatusSource string

const (
	StatusSourceWebhook   StatusSource = "webhook"
	StatusSourceSimulated StatusSource = "simulated"
	StatusSourceSystem    StatusSource = "system"
)

// AMDResult is the normalised answering-machine-detection verdict.
type AMDResult string

const (
	AMDHuman   AMDResult = "human"
	AMDMachine AMDResult = "machine"
	AMDUnknown AMDResult = "unknown"
)

// ParseAnsweredBy normalises the vendor's AnsweredBy field.
func ParseAnsweredBy(raw string) AMDResult {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case v == "human":
		return AMDHuman
	case strings.HasPrefix(v, "machine"), v == "fax":
		return AMDMachine
	default:
		return AMDUnknown
	}
}

// CountsAsHuman reports whether the verdict should connect the rep.
// Unknown verdicts are treated as a live person so a prospect is never dropped
// on an inconclusive detection.
func (r AMDResult) CountsAsHuman() bool {
	return r == AMDHuman || r == AMDUnknown
}
