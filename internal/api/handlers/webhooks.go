package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/telephony"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

// Vendor webhooks always get a 200 TwiML reply; failures are only logged so
// the vendor does not retry into the same rejection.

func (h *HandlerSet) verifySignature(ctx *fiber.Ctx) error {
	if !h.Webhooks.ValidateSignatures {
		return ctx.Next()
	}
	fullURL := strings.TrimRight(h.Webhooks.PublicBaseURL, "/") + ctx.OriginalURL()
	signature := ctx.Get("X-Twilio-Signature")
	if !telephony.ValidSignature(h.Webhooks.AuthToken, fullURL, formValues(ctx), signature) {
		h.Logger.Warn("rejected webhook signature", zap.String("path", ctx.Path()))
		return fiber.NewError(http.StatusForbidden, "invalid signature")
	}
	return ctx.Next()
}

func (h *HandlerSet) statusWebhook(ctx *fiber.Ctx) error {
	cb := telephony.ParseStatusCallback(formValues(ctx))
	lg := h.Logger.With(zap.String("call_sid", cb.CallID), zap.String("vendor_status", cb.RawStatus))

	if cb.CallID == "" {
		lg.Warn("status webhook without call sid")
		return twiml(ctx, telephony.AckTwiML())
	}
	if !cb.Status.Known() {
		lg.Warn("unknown vendor status ignored")
		return twiml(ctx, telephony.AckTwiML())
	}

	_, err := h.Status.Apply(ctx.UserContext(), callstatus.Update{
		CallID:          cb.CallID,
		Status:          cb.Status,
		Source:          domain.StatusSourceWebhook,
		DurationSeconds: cb.DurationSeconds,
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrNotFound):
		lg.Info("status for untracked call")
	case errors.Is(err, apperrors.ErrInvalidTransition):
		// Logged by the manager.
	default:
		lg.Error("apply status webhook", zap.Error(err))
	}

	if cb.AnsweredBy != "" && (cb.Status == domain.CallStatusAnswered || cb.Status == domain.CallStatusInProgress) {
		if _, err := h.Coordinator.HandleAMD(ctx.UserContext(), cb.CallID, domain.ParseAnsweredBy(cb.AnsweredBy)); err != nil {
			lg.Error("coordinate inline amd", zap.Error(err))
		}
	}
	return twiml(ctx, telephony.AckTwiML())
}

func (h *HandlerSet) amdWebhook(ctx *fiber.Ctx) error {
	cb := telephony.ParseAMDCallback(formValues(ctx))
	lg := h.Logger.With(zap.String("call_sid", cb.CallID), zap.String("answered_by", cb.AnsweredBy))

	if cb.CallID == "" || cb.Result == "" {
		lg.Warn("amd webhook without call sid or verdict")
		return twiml(ctx, telephony.AckTwiML())
	}

	res, err := h.Coordinator.HandleAMD(ctx.UserContext(), cb.CallID, cb.Result)
	switch {
	case err == nil:
		lg.Info("amd handled",
			zap.Bool("connected", res.Connected),
			zap.Int("dropped", len(res.Dropped)),
			zap.Int("hangup_failures", res.HangupFailures),
		)
	case errors.Is(err, apperrors.ErrNotFound):
		lg.Info("amd for untracked call")
	default:
		lg.Error("handle amd webhook", zap.Error(err))
	}
	return twiml(ctx, telephony.AckTwiML())
}

// voiceWebhook answers the vendor's request for call instructions once the
// lead picks up.
func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	callID := strings.TrimSpace(formValues(ctx).Get("CallSid"))
	lg := h.Logger.With(zap.String("call_sid", callID))

	bridge, err := h.Dialer.BridgeFor(ctx.UserContext(), callID)
	if err != nil {
		lg.Warn("no bridge target, hanging up", zap.Error(err))
		return twiml(ctx, telephony.HangupTwiML())
	}
	if bridge.Ended {
		return twiml(ctx, telephony.HangupTwiML())
	}
	doc, err := telephony.BridgeTwiML(bridge.Identity, bridge.Record)
	if err != nil {
		lg.Error("render bridge", zap.Error(err))
		return twiml(ctx, telephony.HangupTwiML())
	}
	return twiml(ctx, doc)
}

func formValues(ctx *fiber.Ctx) url.Values {
	values := url.Values{}
	ctx.Request().PostArgs().VisitAll(func(k, v []byte) {
		values.Add(string(k), string(v))
	})
	return values
}

func twiml(ctx *fiber.Ctx, doc string) error {
	ctx.Set(fiber.HeaderContentType, "text/xml; charset=utf-8")
	return ctx.Status(http.StatusOK).SendString(doc)
}
