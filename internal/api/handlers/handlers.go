package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/auth"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/coordinator"
	"github.com/acme/triple-line-dialer/internal/service/dialer"
	metricssvc "github.com/acme/triple-line-dialer/internal/service/metrics"
	outcomesvc "github.com/acme/triple-line-dialer/internal/service/outcome"
	sessionsvc "github.com/acme/triple-line-dialer/internal/service/session"
	settingssvc "github.com/acme/triple-line-dialer/internal/service/settings"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

// WebhookConfig controls vendor webhook verification.
type WebhookConfig struct {
	AuthToken          string
	PublicBaseURL      string
	ValidateSignatures bool
}

// HealthCheck pings one backing store.
type HealthCheck func(ctx context.Context) error

// Deps are the services the handlers call into.
type Deps struct {
	Dialer      *dialer.Service
	Coordinator *coordinator.Coordinator
	Status      *callstatus.Manager
	Sessions    *sessionsvc.Service
	Outcomes    *outcomesvc.Service
	Metrics     *metricssvc.Service
	Settings    *settingssvc.Service
	Timeline    repository.TimelineStore
	Verifier    *auth.Verifier
	Logger      *logger.Logger
	Webhooks    WebhookConfig
	// Simulation enables the local status simulation endpoint.
	Simulation bool
	Health     map[string]HealthCheck
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	Deps
	now func() time.Time
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Deps) *HandlerSet {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &HandlerSet{Deps: deps, now: time.Now}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	hooks := app.Group("/webhooks/telephony", h.verifySignature)
	hooks.Post("/status", h.statusWebhook)
	hooks.Post("/amd", h.amdWebhook)
	hooks.Post("/voice", h.voiceWebhook)

	v1 := app.Group("/api/v1", auth.Middleware(h.Verifier))
	v1.Post("/dial", h.dial)

	calls := v1.Group("/calls")
	calls.Get("/active", h.activeCalls)
	calls.Post("/:id/hangup", h.hangupCall)
	calls.Post("/:id/simulate", h.simulateStatus)
	calls.Get("/:id/timeline", h.callTimeline)
	calls.Post("/:id/outcome", h.recordOutcome)
	calls.Get("/:id/outcome", h.getOutcome)

	sessions := v1.Group("/sessions")
	sessions.Post("/", h.startSession)
	sessions.Get("/active", h.activeSession)
	sessions.Post("/:id/next", h.nextLeads)
	sessions.Post("/:id/end", h.endSession)
	sessions.Get("/:id/progress", h.sessionProgress)
	sessions.Get("/:id/metrics", h.sessionMetrics)

	metrics := v1.Group("/metrics")
	metrics.Get("/today", h.metricsToday)
	metrics.Get("/summary", h.metricsSummary)

	v1.Get("/settings", h.getSettings)
	v1.Put("/settings", h.putSettings)
}

// ErrorHandler renders every failure in the common envelope.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal error"

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	body := fiber.Map{
		"success":  false,
		"error":    message,
		"trace_id": traceID(ctx),
	}
	if code == fiber.StatusPreconditionFailed {
		body["needs_setup"] = true
	}
	return ctx.Status(code).JSON(body)
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.Health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	if len(errs) > 0 {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "errors": errs})
	}
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "errors": errs})
}

func respond(ctx *fiber.Ctx, status int, data any) error {
	return ctx.Status(status).JSON(fiber.Map{"success": true, "data": data})
}

func traceID(ctx *fiber.Ctx) string {
	sc := trace.SpanContextFromContext(ctx.UserContext())
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ctx.GetRespHeader("Trace-Id")
}
