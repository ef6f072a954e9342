package twitchapi

import (
	"context"
	"testing"
	"time"
)

func TestComputeExpiry(t *testing.T) {
	now := time.Now()

	exp := ComputeExpiry(3600)
	if d := exp.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("expiry delta = %v, want ~1h", d)
	}

	// Unknown expiry defaults to one hour out.
	exp = ComputeExpiry(0)
	if d := exp.Sub(now); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("default expiry delta = %v, want ~1h", d)
	}
}

func TestRefreshToken_MissingInputs(t *testing.T) {
	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		refreshToken string
	}{
		{name: "no client id", clientSecret: "s", refreshToken: "r"},
		{name: "no client secret", clientID: "c", refreshToken: "r"},
		{name: "no refresh token", clientID: "c", clientSecret: "s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RefreshToken(context.Background(), tt.clientID, tt.clientSecret, tt.refreshToken); err == nil {
				t.Error("expected error for missing inputs")
			}
		})
	}
}
