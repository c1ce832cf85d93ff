package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/concurrency"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// Coordinator reacts to answering-machine detection results.
type Coordinator struct {
	calls      repository.CallRepository
	settings   repository.SettingsRepository
	manager    *callstatus.Manager
	terminator *callstatus.Terminator
	claimer    concurrency.ConnectClaimer
	log        *logger.Logger
}

// New wires a coordinator.
func New(
	calls repository.CallRepository,
	settings repository.SettingsRepository,
	manager *callstatus.Manager,
	terminator *callstatus.Terminator,
	claimer concurrency.ConnectClaimer,
	log *logger.Logger,
) *Coordinator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Coordinator{
		calls:      calls,
		settings:   settings,
		manager:    manager,
		terminator: terminator,
		claimer:    claimer,
		log:        log,
	}
}

// Result summarises one AMD decision.
type Result struct {
	CallID         string           `json:"call_sid"`
	AMD            domain.AMDResult `json:"amd_result"`
	Connected      bool             `json:"connected"`
	Dropped        []string         `json:"dropped,omitempty"`
	HangupFailures int              `json:"hangup_failures,omitempty"`
}

// HandleAMD applies an AMD verdict for callID.
func (c *Coordinator) HandleAMD(ctx context.Context, callID string, amd domain.AMDResult) (Result, error) {
	tracer := otel.Tracer("dialer")
	ctx, span := tracer.Start(ctx, "amd.coordinate", trace.WithAttributes(
		attribute.String("call.sid", callID),
		attribute.String("amd.result", string(amd)),
	))
	defer span.End()

	call, err := c.calls.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, fmt.Errorf("coordinator: call %s: %w", callID, apperrors.ErrNotFound)
		}
		return Result{}, fmt.Errorf("coordinator: load call: %w", err)
	}

	res := Result{CallID: callID, AMD: amd}
	if amd.CountsAsHuman() {
		err = c.handleHuman(ctx, *call, amd, &res)
	} else {
		err = c.handleMachine(ctx, *call, &res)
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("connected", res.Connected), attribute.Int("dropped", len(res.Dropped)))
	return res, err
}

func (c *Coordinator) handleHuman(ctx context.Context, call domain.ActiveCall, amd domain.AMDResult, res *Result) error {
	lg := c.log.ForCall(call.CallID, call.UserID)
	if call.Status.IsTerminal() {
		lg.Info("amd result for ended call ignored", zap.String("status", string(call.Status)))
		return nil
	}

	won, err := c.claimer.Claim(ctx, call.UserID, call.BatchID, call.CallID)
	if err != nil {
		// Without the slot store, every human call connects.
		lg.Error("connect claim unavailable", zap.Error(err))
		won = true
	}

	if !won {
		out, err := c.terminator.End(ctx, call, domain.CallStatusDroppedOtherAnswered, amd)
		if err != nil {
			return fmt.Errorf("coordinator: drop late human: %w", err)
		}
		if out.HangupFailed {
			res.HangupFailures++
		}
		res.Dropped = append(res.Dropped, call.CallID)
		lg.Info("sibling already connected, dropped", zap.Int("line", call.LineNumber))
		return nil
	}

	// The status callback for the answer often lands first; keep the later
	// stage and only record the verdict.
	next := domain.CallStatusAnswered
	if domain.Classify(call.Status).Order > domain.Classify(next).Order {
		next = call.Status
	}
	updated, err := c.manager.Apply(ctx, callstatus.Update{
		CallID:    call.CallID,
		Status:    next,
		Source:    domain.StatusSourceWebhook,
		AMDResult: amd,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) && updated.Call.Status.IsTerminal() {
			// Ended while claiming; free the slot for a sibling.
			if err := c.claimer.Release(ctx, call.UserID, call.BatchID, call.CallID); err != nil {
				lg.Warn("release connect claim", zap.Error(err))
			}
			return nil
		}
		return fmt.Errorf("coordinator: mark answered: %w", err)
	}
	res.Connected = true

	siblings, err := c.calls.ListOpenByUser(ctx, call.UserID)
	if err != nil {
		return fmt.Errorf("coordinator: list siblings: %w", err)
	}
	for _, s := range siblings {
		if s.CallID == call.CallID {
			continue
		}
		out, err := c.terminator.End(ctx, s, domain.CallStatusDroppedOtherAnswered, "")
		if err != nil {
			lg.Error("drop sibling", zap.String("sibling", s.CallID), zap.Error(err))
			continue
		}
		if out.HangupFailed {
			res.HangupFailures++
		}
		if !out.AlreadyEnded {
			res.Dropped = append(res.Dropped, s.CallID)
		}
	}
	lg.Info("human answered, siblings dropped", zap.Int("line", call.LineNumber), zap.Int("dropped", len(res.Dropped)))
	return nil
}

func (c *Coordinator) handleMachine(ctx context.Context, call domain.ActiveCall, res *Result) error {
	lg := c.log.ForCall(call.CallID, call.UserID)

	hangup := true
	settings, err := c.settings.Get(ctx, call.UserID)
	switch {
	case err == nil:
		hangup = settings.HangupOnVoicemail
	case !errors.Is(err, repository.ErrNotFound):
		lg.Warn("load settings for voicemail handling", zap.Error(err))
	}

	if !hangup {
		if _, err := c.manager.Apply(ctx, callstatus.Update{
			CallID:    call.CallID,
			Status:    domain.CallStatusVoicemailDetected,
			Source:    domain.StatusSourceWebhook,
			AMDResult: domain.AMDMachine,
		}); err != nil && !errors.Is(err, apperrors.ErrInvalidTransition) {
			return fmt.Errorf("coordinator: mark voicemail: %w", err)
		}
		return nil
	}

	out, err := c.terminator.End(ctx, call, domain.CallStatusVoicemailDetected, domain.AMDMachine)
	if err != nil {
		return fmt.Errorf("coordinator: end voicemail: %w", err)
	}
	if out.HangupFailed {
		res.HangupFailures++
	}
	return nil
}
