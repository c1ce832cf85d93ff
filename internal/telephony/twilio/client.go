package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/telephony"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

// errCodeNotInProgress is the vendor error raised when modifying a call that
// has already ended.
const errCodeNotInProgress = 21220

var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// callAPI is the part of the vendor SDK the client drives.
type callAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
}

// Client talks to the vendor REST API.
type Client struct {
	api        callAPI
	configured bool
	limiter    *rate.Limiter
}

// NewClient builds a client from telephony config.
func NewClient(cfg config.TelephonyConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rest := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	rest.SetTimeout(timeout)
	return newClient(rest.Api, cfg)
}

func newClient(api callAPI, cfg config.TelephonyConfig) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		api:        api,
		configured: cfg.AccountSID != "" && cfg.AuthToken != "",
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.configured
}

// PlaceCall creates an outbound call.
func (c *Client) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	if err := c.ready(ctx); err != nil {
		return telephony.PlaceCallResult{}, fmt.Errorf("twilio: place call: %w", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.AnswerURL)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent(statusEvents)
	}
	if req.MachineDetection {
		params.SetMachineDetection("Enable")
		params.SetAsyncAmd("true")
		if req.AMDCallbackURL != "" {
			params.SetAsyncAmdStatusCallback(req.AMDCallbackURL)
			params.SetAsyncAmdStatusCallbackMethod(http.MethodPost)
		}
		if req.AMDTimeout > 0 {
			params.SetMachineDetectionTimeout(int(req.AMDTimeout / time.Second))
		}
	}
	if req.RingTimeout > 0 {
		params.SetTimeout(int(req.RingTimeout / time.Second))
	}
	if req.Record {
		params.SetRecord(true)
	}

	call, err := c.api.CreateCall(params)
	if err != nil {
		return telephony.PlaceCallResult{}, fmt.Errorf("twilio: place call: %w", classify(err))
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return telephony.PlaceCallResult{}, fmt.Errorf("twilio: place call: missing call sid: %w", apperrors.ErrUnavailable)
	}

	status := vendorStatus(call)
	if !status.Known() {
		status = domain.CallStatusInitiating
	}
	return telephony.PlaceCallResult{CallID: *call.Sid, Status: status}, nil
}

// Hangup completes a live call. Calls that already ended yield
// telephony.ErrCallNotActive.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	if err := c.ready(ctx); err != nil {
		return fmt.Errorf("twilio: hangup %s: %w", callID, err)
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.api.UpdateCall(callID, params); err != nil {
		return fmt.Errorf("twilio: hangup %s: %w", callID, classify(err))
	}
	return nil
}

// FetchStatus reads the vendor's current status for a call.
func (c *Client) FetchStatus(ctx context.Context, callID string) (domain.CallStatus, error) {
	if err := c.ready(ctx); err != nil {
		return "", fmt.Errorf("twilio: fetch %s: %w", callID, err)
	}
	call, err := c.api.FetchCall(callID, &openapi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("twilio: fetch %s: %w", callID, classify(err))
	}
	status := vendorStatus(call)
	if !status.Known() {
		return "", fmt.Errorf("twilio: fetch %s: unrecognised status: %w", callID, apperrors.ErrUnavailable)
	}
	return status, nil
}

func (c *Client) ready(ctx context.Context) error {
	if !c.configured {
		return fmt.Errorf("credentials missing: %w", apperrors.ErrNeedsSetup)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func vendorStatus(call *openapi.ApiV2010Call) domain.CallStatus {
	if call == nil || call.Status == nil {
		return ""
	}
	return domain.ParseVendorStatus(string(*call.Status))
}

func classify(err error) error {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return fmt.Errorf("%v: %w", err, apperrors.ErrUnavailable)
	}
	if restErr.Status == http.StatusNotFound || restErr.Code == errCodeNotInProgress {
		return telephony.ErrCallNotActive
	}
	return fmt.Errorf("vendor status %d (code %d): %s: %w", restErr.Status, restErr.Code, restErr.Message, apperrors.ErrUnavailable)
}

var _ telephony.Provider = (*Client)(nil)
