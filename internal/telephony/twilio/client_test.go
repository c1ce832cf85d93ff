package twilio

import (
	"context"
	"errors"
	"testing"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/telephony"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

type fakeAPI struct {
	created  *openapi.CreateCallParams
	updated  map[string]*openapi.UpdateCallParams
	call     *openapi.ApiV2010Call
	err      error
	fetchErr error
}

func (f *fakeAPI) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.created = params
	return f.call, f.err
}

func (f *fakeAPI) UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error) {
	if f.updated == nil {
		f.updated = map[string]*openapi.UpdateCallParams{}
	}
	f.updated[sid] = params
	return f.call, f.err
}

func (f *fakeAPI) FetchCall(sid string, _ *openapi.FetchCallParams) (*openapi.ApiV2010Call, error) {
	return f.call, f.fetchErr
}

func newTestClient(api *fakeAPI) *Client {
	return newClient(api, config.TelephonyConfig{AccountSID: "AC123", AuthToken: "token"})
}

func vendorCall(sid, status string) *openapi.ApiV2010Call {
	return &openapi.ApiV2010Call{Sid: &sid, Status: &status}
}

func TestPlaceCallSendsPlacementParams(t *testing.T) {
	api := &fakeAPI{call: vendorCall("CA777", "queued")}

	res, err := newTestClient(api).PlaceCall(context.Background(), telephony.PlaceCallRequest{
		To:                "+15550001",
		From:              "+15559999",
		AnswerURL:         "https://x/voice",
		StatusCallbackURL: "https://x/status",
		AMDCallbackURL:    "https://x/amd",
		MachineDetection:  true,
		RingTimeout:       25 * time.Second,
		AMDTimeout:        30 * time.Second,
		Record:            true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CallID != "CA777" || res.Status != domain.CallStatusQueued {
		t.Fatalf("unexpected result %+v", res)
	}

	p := api.created
	checks := map[string]*string{
		"+15550001":        p.To,
		"+15559999":        p.From,
		"https://x/voice":  p.Url,
		"https://x/status": p.StatusCallback,
		"Enable":           p.MachineDetection,
		"true":             p.AsyncAmd,
		"https://x/amd":    p.AsyncAmdStatusCallback,
	}
	for want, got := range checks {
		if got == nil || *got != want {
			t.Errorf("expected %q, got %v", want, got)
		}
	}
	if p.Timeout == nil || *p.Timeout != 25 {
		t.Errorf("expected ring timeout 25, got %v", p.Timeout)
	}
	if p.MachineDetectionTimeout == nil || *p.MachineDetectionTimeout != 30 {
		t.Errorf("expected amd timeout 30, got %v", p.MachineDetectionTimeout)
	}
	if p.Record == nil || !*p.Record {
		t.Errorf("expected recording on")
	}
	if p.StatusCallbackEvent == nil || len(*p.StatusCallbackEvent) != 4 {
		t.Errorf("expected 4 status callback events, got %v", p.StatusCallbackEvent)
	}
}

func TestPlaceCallWithoutAMDLeavesDetectionOff(t *testing.T) {
	api := &fakeAPI{call: vendorCall("CA1", "")}

	res, err := newTestClient(api).PlaceCall(context.Background(), telephony.PlaceCallRequest{To: "+1", From: "+2", AnswerURL: "https://x/voice"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Status != domain.CallStatusInitiating {
		t.Fatalf("expected unknown vendor status to default to initiating, got %s", res.Status)
	}
	if api.created.MachineDetection != nil || api.created.StatusCallback != nil {
		t.Fatalf("expected no detection or callback params")
	}
}

func TestHangupCompletesCall(t *testing.T) {
	api := &fakeAPI{call: vendorCall("CA1", "completed")}
	if err := newTestClient(api).Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := api.updated["CA1"]
	if p == nil || p.Status == nil || *p.Status != "completed" {
		t.Fatalf("expected Status=completed update, got %+v", p)
	}
}

func TestHangupNotActive(t *testing.T) {
	api := &fakeAPI{err: &twilioclient.TwilioRestError{Code: 21220, Status: 400, Message: "Call is not in-progress. Cannot redirect."}}

	err := newTestClient(api).Hangup(context.Background(), "CA1")
	if !errors.Is(err, telephony.ErrCallNotActive) {
		t.Fatalf("expected ErrCallNotActive, got %v", err)
	}
}

func TestHangupServerErrorIsUnavailable(t *testing.T) {
	api := &fakeAPI{err: &twilioclient.TwilioRestError{Code: 20500, Status: 503, Message: "unavailable"}}

	err := newTestClient(api).Hangup(context.Background(), "CA1")
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFetchStatus(t *testing.T) {
	api := &fakeAPI{call: vendorCall("CA1", "in-progress")}
	got, err := newTestClient(api).FetchStatus(context.Background(), "CA1")
	if err != nil || got != domain.CallStatusInProgress {
		t.Fatalf("expected in-progress, got %s %v", got, err)
	}

	api = &fakeAPI{fetchErr: &twilioclient.TwilioRestError{Code: 20404, Status: 404}}
	if _, err := newTestClient(api).FetchStatus(context.Background(), "CA404"); !errors.Is(err, telephony.ErrCallNotActive) {
		t.Fatalf("expected ErrCallNotActive for unknown call, got %v", err)
	}

	api = &fakeAPI{fetchErr: errors.New("connection reset")}
	if _, err := newTestClient(api).FetchStatus(context.Background(), "CA1"); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected transport failure to be unavailable, got %v", err)
	}
}

func TestPlaceCallWithoutCredentials(t *testing.T) {
	c := NewClient(config.TelephonyConfig{})
	if c.Configured() {
		t.Fatalf("expected unconfigured client")
	}
	_, err := c.PlaceCall(context.Background(), telephony.PlaceCallRequest{})
	if !errors.Is(err, apperrors.ErrNeedsSetup) {
		t.Fatalf("expected ErrNeedsSetup, got %v", err)
	}
}
