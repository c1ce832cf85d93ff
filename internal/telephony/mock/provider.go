package mock

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/telephony"
)

// ErrSimulatedFailure is returned for placements the provider decides to fail.
var ErrSimulatedFailure = errors.New("mock telephony: simulated failure")

// Provider fabricates call ids without contacting a vendor. Status changes
// are driven through the simulate endpoint.
type Provider struct {
	mu           sync.Mutex
	failureRatio float64
	rng          *rand.Rand
	placed       []telephony.PlaceCallRequest
	hungUp       []string
	hangupErrs   map[string]error
	failTo       map[string]bool
	vendor       map[string]domain.CallStatus
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.TelephonyConfig) *Provider {
	return &Provider{
		failureRatio: cfg.MockFailureRatio,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		hangupErrs:   map[string]error{},
		failTo:       map[string]bool{},
		vendor:       map[string]domain.CallStatus{},
	}
}

// Configured is always true.
func (p *Provider) Configured() bool { return true }

// PlaceCall records the request and returns a fabricated call sid.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	if err := ctx.Err(); err != nil {
		return telephony.PlaceCallResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failTo[req.To] || (p.failureRatio > 0 && p.rng.Float64() < p.failureRatio) {
		return telephony.PlaceCallResult{}, ErrSimulatedFailure
	}
	p.placed = append(p.placed, req)
	return telephony.PlaceCallResult{
		CallID: "CA" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status: domain.CallStatusQueued,
	}, nil
}

// Hangup records the hangup, failing for call ids registered with FailHangup.
func (p *Provider) Hangup(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.hangupErrs[callID]; ok {
		return err
	}
	p.hungUp = append(p.hungUp, callID)
	return nil
}

// FetchStatus reports the status set with SetVendorStatus. Hung up calls
// read as completed and anything else as still in progress.
func (p *Provider) FetchStatus(ctx context.Context, callID string) (domain.CallStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.vendor[callID]; ok {
		return st, nil
	}
	for _, id := range p.hungUp {
		if id == callID {
			return domain.CallStatusCompleted, nil
		}
	}
	return domain.CallStatusInProgress, nil
}

// SetVendorStatus fixes what FetchStatus returns for callID.
func (p *Provider) SetVendorStatus(callID string, status domain.CallStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vendor[callID] = status
}

// FailHangup makes the next hangups of callID return err.
func (p *Provider) FailHangup(callID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangupErrs[callID] = err
}

// FailPlacementTo makes placements to the number fail.
func (p *Provider) FailPlacementTo(number string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTo[number] = true
}

// Placed returns the placement requests seen so far.
func (p *Provider) Placed() []telephony.PlaceCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]telephony.PlaceCallRequest(nil), p.placed...)
}

// HungUp returns the call ids successfully hung up.
func (p *Provider) HungUp() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hungUp...)
}
