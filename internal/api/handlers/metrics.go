package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/triple-line-dialer/internal/auth"
)

func (h *HandlerSet) metricsToday(ctx *fiber.Ctx) error {
	m, err := h.Metrics.Today(ctx.UserContext(), auth.UserID(ctx), h.now().UTC())
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, m)
}

func (h *HandlerSet) metricsSummary(ctx *fiber.Ctx) error {
	days := ctx.QueryInt("days", 7)
	s, err := h.Metrics.Summary(ctx.UserContext(), auth.UserID(ctx), days, h.now().UTC())
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, s)
}

func (h *HandlerSet) sessionMetrics(ctx *fiber.Ctx) error {
	id, err := sessionID(ctx)
	if err != nil {
		return err
	}
	r, err := h.Metrics.Session(ctx.UserContext(), auth.UserID(ctx), id)
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, r)
}
