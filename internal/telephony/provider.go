package telephony

import (
	"context"
	"errors"
	"time"

	"github.com/acme/triple-line-dialer/internal/domain"
)

// ErrCallNotActive is returned by Hangup when the vendor no longer considers
// the call live. Callers treat it as success.
var ErrCallNotActive = errors.New("telephony: call not active")

// PlaceCallRequest carries everything the vendor needs to dial one line.
type PlaceCallRequest struct {
	To                string
	From              string
	AnswerURL         string
	StatusCallbackURL string
	AMDCallbackURL    string
	MachineDetection  bool
	RingTimeout       time.Duration
	AMDTimeout        time.Duration
	Record            bool
}

// PlaceCallResult is the vendor acknowledgement of a placed call.
type PlaceCallResult struct {
	CallID string
	Status domain.CallStatus
}

// Provider abstracts the telephony vendor.
type Provider interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	Hangup(ctx context.Context, callID string) error
	// FetchStatus asks the vendor for the call's current status.
	FetchStatus(ctx context.Context, callID string) (domain.CallStatus, error)
	Configured() bool
}
