package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Bounds accepted for the per-user vendor timeouts.
const (
	minRingTimeout = 5 * time.Second
	maxRingTimeout = 60 * time.Second
	minAMDTimeout  = 3 * time.Second
	maxAMDTimeout  = 59 * time.Second
)

// Service reads and writes per-user dial settings.
type Service struct {
	repo repository.SettingsRepository
	now  func() time.Time
}

// NewService constructs a settings service.
func NewService(repo repository.SettingsRepository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// View is the settings plus whether dialing is possible yet.
type View struct {
	domain.DialSettings
	NeedsSetup bool
}

// Defaults are applied to users without stored settings.
func Defaults(userID string) domain.DialSettings {
	return domain.DialSettings{
		UserID:            userID,
		HangupOnVoicemail: true,
		AMDEnabled:        true,
	}
}

// Get returns the user's settings, or defaults flagged as needing setup.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return View{DialSettings: Defaults(userID), NeedsSetup: true}, nil
		}
		return View{}, fmt.Errorf("settings service: get: %w", err)
	}
	return View{DialSettings: *stored, NeedsSetup: stored.CallerID == ""}, nil
}

// Update validates and stores the settings.
func (s *Service) Update(ctx context.Context, in domain.DialSettings) (View, error) {
	in.CallerID = strings.TrimSpace(in.CallerID)
	in.ClientIdentity = strings.TrimSpace(in.ClientIdentity)
	if err := validate(in); err != nil {
		return View{}, err
	}
	in.UpdatedAt = s.now()
	if err := s.repo.Upsert(ctx, &in); err != nil {
		return View{}, fmt.Errorf("settings service: upsert: %w", err)
	}
	return View{DialSettings: in, NeedsSetup: in.CallerID == ""}, nil
}

func validate(in domain.DialSettings) error {
	if in.UserID == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if in.CallerID != "" && !e164.MatchString(in.CallerID) {
		return fmt.Errorf("%w: caller id must be an E.164 number", apperrors.ErrValidation)
	}
	if in.RingTimeout != 0 && (in.RingTimeout < minRingTimeout || in.RingTimeout > maxRingTimeout) {
		return fmt.Errorf("%w: ring timeout must be between %s and %s", apperrors.ErrValidation, minRingTimeout, maxRingTimeout)
	}
	if in.AMDTimeout != 0 && (in.AMDTimeout < minAMDTimeout || in.AMDTimeout > maxAMDTimeout) {
		return fmt.Errorf("%w: amd timeout must be between %s and %s", apperrors.ErrValidation, minAMDTimeout, maxAMDTimeout)
	}
	return nil
}
