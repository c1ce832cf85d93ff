package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository/memory"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

func TestGetDefaultsNeedSetup(t *testing.T) {
	svc := NewService(memory.NewSettingsRepository())
	v, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.NeedsSetup || !v.HangupOnVoicemail || !v.AMDEnabled {
		t.Fatalf("unexpected defaults %+v", v)
	}
}

func TestUpdateStoresValidSettings(t *testing.T) {
	svc := NewService(memory.NewSettingsRepository())
	ctx := context.Background()
	v, err := svc.Update(ctx, domain.DialSettings{UserID: "u1", CallerID: " +14155550100 ", RingTimeout: 25 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.NeedsSetup || v.CallerID != "+14155550100" {
		t.Fatalf("unexpected view %+v", v)
	}
	got, _ := svc.Get(ctx, "u1")
	if got.RingTimeout != 25*time.Second || got.UpdatedAt.IsZero() {
		t.Fatalf("settings not stored: %+v", got)
	}
}

func TestUpdateValidation(t *testing.T) {
	svc := NewService(memory.NewSettingsRepository())
	cases := []domain.DialSettings{
		{UserID: "u1", CallerID: "4155550100"},
		{UserID: "u1", CallerID: "+1415abc"},
		{UserID: "u1", RingTimeout: time.Second},
		{UserID: "u1", AMDTimeout: 2 * time.Minute},
		{CallerID: "+14155550100"},
	}
	for _, in := range cases {
		if _, err := svc.Update(context.Background(), in); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", in, err)
		}
	}
}
