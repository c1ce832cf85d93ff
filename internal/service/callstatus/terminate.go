package callstatus

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/telephony"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// Hanger sends hangup requests to the telephony vendor.
type Hanger interface {
	Hangup(ctx context.Context, callID string) error
}

// Terminator ends calls locally and at the vendor. A failed vendor hangup is
// logged and never stops the local record from becoming terminal.
type Terminator struct {
	manager *Manager
	hanger  Hanger
	log     *logger.Logger
}

// NewTerminator builds a terminator.
func NewTerminator(manager *Manager, hanger Hanger, log *logger.Logger) *Terminator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Terminator{manager: manager, hanger: hanger, log: log}
}

// Outcome reports what End did for one call.
type Outcome struct {
	Call         domain.ActiveCall
	HangupSent   bool
	HangupFailed bool
	AlreadyEnded bool
}

// End hangs up call and marks it with the terminal status, recording amd when
// set. Calls that are already terminal are left untouched.
func (t *Terminator) End(ctx context.Context, call domain.ActiveCall, status domain.CallStatus, amd domain.AMDResult) (Outcome, error) {
	out := Outcome{Call: call}
	if call.Status.IsTerminal() {
		out.AlreadyEnded = true
		return out, nil
	}

	lg := t.log.ForCall(call.CallID, call.UserID)
	out.HangupSent = true
	if err := t.hanger.Hangup(ctx, call.CallID); err != nil && !errors.Is(err, telephony.ErrCallNotActive) {
		out.HangupFailed = true
		lg.Warn("hangup failed, marking terminal anyway", zap.Int("line", call.LineNumber), zap.Error(err))
	}

	res, err := t.manager.Apply(ctx, Update{
		CallID:    call.CallID,
		Status:    status,
		Source:    domain.StatusSourceSystem,
		AMDResult: amd,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			// Reached a terminal status on its own in the meantime.
			out.Call = res.Call
			out.AlreadyEnded = true
			return out, nil
		}
		return out, err
	}
	out.Call = res.Call
	return out, nil
}
