package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/auth"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/internal/service/common"
	"github.com/acme/triple-line-dialer/internal/service/dialer"
)

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 200
)

type dialLead struct {
	LeadID string `json:"lead_id"`
	Phone  string `json:"phone"`
}

type dialRequest struct {
	SessionID string     `json:"session_id"`
	Leads     []dialLead `json:"leads"`
}

type callResponse struct {
	CallID          string            `json:"call_sid"`
	LeadID          *uuid.UUID        `json:"lead_id,omitempty"`
	SessionID       *uuid.UUID        `json:"session_id,omitempty"`
	BatchID         uuid.UUID         `json:"batch_id"`
	LineNumber      int               `json:"line_number"`
	ToNumber        string            `json:"to_number"`
	Status          domain.CallStatus `json:"status"`
	Stage           string            `json:"stage"`
	Progress        float64           `json:"progress"`
	Terminal        bool              `json:"terminal"`
	StatusSource    string            `json:"status_source"`
	AMDResult       string            `json:"amd_result,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
	StartedAt       time.Time         `json:"started_at"`
	AnsweredAt      *time.Time        `json:"answered_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
}

type simulateRequest struct {
	Status          string `json:"status"`
	AnsweredBy      string `json:"answered_by"`
	DurationSeconds *int   `json:"duration_seconds"`
}

type timelineEvent struct {
	Status         domain.CallStatus `json:"status"`
	PreviousStatus domain.CallStatus `json:"previous_status,omitempty"`
	Source         string            `json:"source"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func (h *HandlerSet) dial(ctx *fiber.Ctx) error {
	var req dialRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := dialer.DialInput{UserID: auth.UserID(ctx)}
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid session id")
		}
		input.SessionID = &id
	}
	for _, l := range req.Leads {
		target := dialer.LeadTarget{Phone: strings.TrimSpace(l.Phone)}
		if l.LeadID != "" {
			id, err := uuid.Parse(l.LeadID)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid lead id")
			}
			target.LeadID = &id
		}
		input.Leads = append(input.Leads, target)
	}

	result, err := h.Dialer.DialBatch(ctx.UserContext(), input)
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusAccepted, result)
}

func (h *HandlerSet) hangupCall(ctx *fiber.Ctx) error {
	call, err := h.Dialer.HangupCall(ctx.UserContext(), auth.UserID(ctx), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toCallResponse(call))
}

func (h *HandlerSet) activeCalls(ctx *fiber.Ctx) error {
	calls, err := h.Dialer.ActiveCalls(ctx.UserContext(), auth.UserID(ctx))
	if err != nil {
		return translateError(err)
	}
	out := make([]callResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, toCallResponse(c))
	}
	return respond(ctx, http.StatusOK, out)
}

// simulateStatus drives a call through the lifecycle without a vendor.
func (h *HandlerSet) simulateStatus(ctx *fiber.Ctx) error {
	if !h.Simulation {
		return fiber.NewError(http.StatusNotFound, "simulation disabled")
	}
	var req simulateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	call, err := h.Dialer.Call(ctx.UserContext(), auth.UserID(ctx), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}

	if req.AnsweredBy != "" {
		res, err := h.Coordinator.HandleAMD(ctx.UserContext(), call.CallID, domain.ParseAnsweredBy(req.AnsweredBy))
		if err != nil {
			return translateError(err)
		}
		return respond(ctx, http.StatusOK, res)
	}

	status := domain.CallStatus(strings.TrimSpace(req.Status))
	if !status.Known() {
		return fiber.NewError(http.StatusBadRequest, "unknown status")
	}
	res, err := h.Status.Apply(ctx.UserContext(), callstatus.Update{
		CallID:          call.CallID,
		Status:          status,
		Source:          domain.StatusSourceSimulated,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return translateError(err)
	}
	return respond(ctx, http.StatusOK, toCallResponse(res.Call))
}

func (h *HandlerSet) callTimeline(ctx *fiber.Ctx) error {
	call, err := h.Dialer.Call(ctx.UserContext(), auth.UserID(ctx), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}

	limit := ctx.QueryInt("limit", defaultTimelineLimit)
	if limit <= 0 || limit > maxTimelineLimit {
		limit = defaultTimelineLimit
	}
	var pageState []byte
	if cursor := ctx.Query("cursor"); cursor != "" {
		pageState, err = common.DecodeBase64(cursor)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid cursor")
		}
	}

	events, next, err := h.Timeline.ListByCall(ctx.UserContext(), call.UserID, call.StartedAt, call.CallID, limit, pageState)
	if err != nil {
		return translateError(err)
	}
	out := make([]timelineEvent, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEvent{
			Status:         e.Status,
			PreviousStatus: e.PreviousStatus,
			Source:         string(e.Source),
			OccurredAt:     e.OccurredAt,
		})
	}
	data := fiber.Map{"events": out}
	if len(next) > 0 {
		data["next_cursor"] = common.EncodeBase64(next)
	}
	return respond(ctx, http.StatusOK, data)
}

func toCallResponse(call domain.ActiveCall) callResponse {
	stage := call.Stage()
	return callResponse{
		CallID:          call.CallID,
		LeadID:          call.LeadID,
		SessionID:       call.SessionID,
		BatchID:         call.BatchID,
		LineNumber:      call.LineNumber,
		ToNumber:        call.ToNumber,
		Status:          call.Status,
		Stage:           stage.Label,
		Progress:        domain.ProgressPercent(call.Status),
		Terminal:        stage.Terminal,
		StatusSource:    string(call.StatusSource),
		AMDResult:       string(call.AMDResult),
		DurationSeconds: call.DurationSeconds,
		StartedAt:       call.StartedAt,
		AnsweredAt:      call.AnsweredAt,
		EndedAt:         call.EndedAt,
		StatusChangedAt: call.StatusChangedAt,
	}
}
