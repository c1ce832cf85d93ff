package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/triple-line-dialer/internal/auth"
	settingssvc "github.com/acme/triple-line-dialer/internal/service/settings"
)

type settingsPayload struct {
	CallerID           string `json:"caller_id"`
	ClientIdentity     string `json:"client_identity"`
	HangupOnVoicemail  *bool  `json:"hangup_on_voicemail"`
	AMDEnabled         *bool  `json:"amd_enabled"`
	RecordCalls        bool   `json:"record_calls"`
	RingTimeoutSeconds int    `json:"ring_timeout_seconds"`
	AMDTimeoutSeconds  int    `json:"amd_timeout_seconds"`
	NeedsSetup         bool   `json:"needs_setup"`
}

func (h *HandlerSet) getSettings(ctx *fiber.Ctx) error {
	v, err := h.Settings.Get(ctx.UserContext(), auth.UserID(ctx))
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toSettingsPayload(v))
}

func (h *HandlerSet) putSettings(ctx *fiber.Ctx) error {
	var req settingsPayload
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	in := settingssvc.Defaults(auth.UserID(ctx))
	in.CallerID = req.CallerID
	in.ClientIdentity = req.ClientIdentity
	in.RecordCalls = req.RecordCalls
	in.RingTimeout = time.Duration(req.RingTimeoutSeconds) * time.Second
	in.AMDTimeout = time.Duration(req.AMDTimeoutSeconds) * time.Second
	if req.HangupOnVoicemail != nil {
		in.HangupOnVoicemail = *req.HangupOnVoicemail
	}
	if req.AMDEnabled != nil {
		in.AMDEnabled = *req.AMDEnabled
	}

	v, err := h.Settings.Update(ctx.UserContext(), in)
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toSettingsPayload(v))
}

func toSettingsPayload(v settingssvc.View) settingsPayload {
	return settingsPayload{
		CallerID:           v.CallerID,
		ClientIdentity:     v.ClientIdentity,
		HangupOnVoicemail:  boolPtr(v.HangupOnVoicemail),
		AMDEnabled:         boolPtr(v.AMDEnabled),
		RecordCalls:        v.RecordCalls,
		RingTimeoutSeconds: int(v.RingTimeout / time.Second),
		AMDTimeoutSeconds:  int(v.AMDTimeout / time.Second),
		NeedsSetup:         v.NeedsSetup,
	}
}

func boolPtr(b bool) *bool { return &b }
