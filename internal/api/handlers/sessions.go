package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/auth"
	"github.com/acme/triple-line-dialer/internal/domain"
	sessionsvc "github.com/acme/triple-line-dialer/internal/service/session"
)

type startSessionRequest struct {
	PipelineFilter string `json:"pipeline_filter"`
}

type nextLeadsRequest struct {
	Count int `json:"count"`
}

type sessionResponse struct {
	ID             uuid.UUID  `json:"id"`
	PipelineFilter string     `json:"pipeline_filter,omitempty"`
	TotalLeads     int        `json:"total_leads"`
	AttemptedCount int        `json:"attempted_count"`
	CompletedCount int        `json:"completed_count"`
	Percent        float64    `json:"percent"`
	Active         bool       `json:"active"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

type queuedLeadResponse struct {
	Position int       `json:"position"`
	LeadID   uuid.UUID `json:"lead_id"`
	Name     string    `json:"name,omitempty"`
	Phone    string    `json:"phone"`
	Company  string    `json:"company,omitempty"`
}

func (h *HandlerSet) startSession(ctx *fiber.Ctx) error {
	var req startSessionRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	s, err := h.Sessions.Start(ctx.UserContext(), sessionsvc.StartInput{
		UserID:         auth.UserID(ctx),
		PipelineFilter: req.PipelineFilter,
	})
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusCreated, toSessionResponse(s))
}

func (h *HandlerSet) activeSession(ctx *fiber.Ctx) error {
	s, err := h.Sessions.Active(ctx.UserContext(), auth.UserID(ctx))
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toSessionResponse(s))
}

func (h *HandlerSet) nextLeads(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}
	var req nextLeadsRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	leads, err := h.Sessions.NextLeads(ctx.UserContext(), auth.UserID(ctx), id, req.Count)
	if err != nil {
		return translateError(err)
	}
	out := make([]queuedLeadResponse, 0, len(leads))
	for _, q := range leads {
		out = append(out, queuedLeadResponse{
			Position: q.Position,
			LeadID:   q.Lead.ID,
			Name:     q.Lead.Name,
			Phone:    q.Lead.Phone,
			Company:  q.Lead.Company,
		})
	}
	return respond(ctx, http.StatusOK, fiber.Map{"leads": out, "exhausted": len(out) == 0})
}

// endSession hangs up every open line before closing the session.
func (h *HandlerSet) endSession(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}
	userID := auth.UserID(ctx)
	ended, err := h.Dialer.EndSession(ctx.UserContext(), userID, id)
	if err != nil {
		return translateError(err)
	}
	progress, err := h.Sessions.Progress(ctx.UserContext(), userID, id)
	if err != nil {
		return translateError(err)
	}
	calls := make([]callResponse, 0, len(ended))
	for _, c := range ended {
		calls = append(calls, toCallResponse(c))
	}
	return respond(ctx, http.StatusOK, fiber.Map{"progress": progress, "ended_calls": calls})
}

func (h *HandlerSet) sessionProgress(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}
	progress, err := h.Sessions.Progress(ctx.UserContext(), auth.UserID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, progress)
}

func sessionID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

func toSessionResponse(s *domain.DialSession) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		PipelineFilter: s.PipelineFilter,
		TotalLeads:     s.TotalLeads,
		AttemptedCount: s.AttemptedCount,
		CompletedCount: s.CompletedCount,
		Percent:        s.ProgressPercent(),
		Active:         s.Active,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
	}
}
