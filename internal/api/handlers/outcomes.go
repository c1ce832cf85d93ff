package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/auth"
	"github.com/acme/triple-line-dialer/internal/domain"
	outcomesvc "github.com/acme/triple-line-dialer/internal/service/outcome"
)

type outcomeRequest struct {
	Disposition string `json:"disposition"`
	Notes       string `json:"notes"`
	LeadID      string `json:"lead_id"`
	SessionID   string `json:"session_id"`
}

type outcomeResponse struct {
	ID          uuid.UUID          `json:"id"`
	CallID      string             `json:"call_sid"`
	LeadID      *uuid.UUID         `json:"lead_id,omitempty"`
	SessionID   *uuid.UUID         `json:"session_id,omitempty"`
	Disposition domain.Disposition `json:"disposition"`
	Notes       string             `json:"notes,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Points      int                `json:"points"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (h *HandlerSet) recordOutcome(ctx *fiber.Ctx) error {
	var req outcomeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	in := outcomesvc.RecordInput{
		UserID:      auth.UserID(ctx),
		CallID:      ctx.Params("id"),
		Disposition: domain.Disposition(req.Disposition),
		Notes:       req.Notes,
	}
	var err error
	if in.LeadID, err = optionalUUID(req.LeadID, "lead id"); err != nil {
		return err
	}
	if in.SessionID, err = optionalUUID(req.SessionID, "session id"); err != nil {
		return err
	}

	out, err := h.Outcomes.Record(ctx.UserContext(), in)
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusCreated, toOutcomeResponse(out))
}

func (h *HandlerSet) getOutcome(ctx *fiber.Ctx) error {
	out, err := h.Outcomes.Get(ctx.UserContext(), auth.UserID(ctx), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toOutcomeResponse(out))
}

func optionalUUID(raw, name string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func toOutcomeResponse(o *domain.CallOutcome) outcomeResponse {
	return outcomeResponse{
		ID:          o.ID,
		CallID:      o.CallID,
		LeadID:      o.LeadID,
		SessionID:   o.SessionID,
		Disposition: o.Disposition,
		Notes:       o.Notes,
		Summary:     o.Summary,
		Points:      o.Points,
		CreatedAt:   o.CreatedAt,
	}
}
