package telephony

import (
	"net/url"
	"strconv"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/acme/triple-line-dialer/internal/domain"
)

// StatusCallback is the subset of vendor status webhook fields we act on.
type StatusCallback struct {
	CallID          string
	Status          domain.CallStatus
	RawStatus       string
	DurationSeconds *int
	AnsweredBy      string
}

// AMDCallback is the asynchronous answering-machine-detection result.
type AMDCallback struct {
	CallID     string
	AnsweredBy string
	Result     domain.AMDResult
}

// ParseStatusCallback reads a form-encoded status webhook.
func ParseStatusCallback(form url.Values) StatusCallback {
	raw := strings.TrimSpace(form.Get("CallStatus"))
	cb := StatusCallback{
		CallID:     strings.TrimSpace(form.Get("CallSid")),
		RawStatus:  raw,
		Status:     domain.ParseVendorStatus(raw),
		AnsweredBy: strings.TrimSpace(form.Get("AnsweredBy")),
	}
	if d := strings.TrimSpace(form.Get("CallDuration")); d != "" {
		if secs, err := strconv.Atoi(d); err == nil && secs >= 0 {
			cb.DurationSeconds = &secs
		}
	}
	return cb
}

// ParseAMDCallback reads a form-encoded AMD webhook.
func ParseAMDCallback(form url.Values) AMDCallback {
	answeredBy := strings.TrimSpace(form.Get("AnsweredBy"))
	return AMDCallback{
		CallID:     strings.TrimSpace(form.Get("CallSid")),
		AnsweredBy: answeredBy,
		Result:     domain.ParseAnsweredBy(answeredBy),
	}
}

// ValidSignature reports whether signature matches the request. Repeated
// form keys keep their first value, matching how the vendor signs.
func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	flat := make(map[string]string, len(params))
	for k := range params {
		flat[k] = params.Get(k)
	}
	validator := twilioclient.NewRequestValidator(authToken)
	return validator.Validate(fullURL, flat, signature)
}
