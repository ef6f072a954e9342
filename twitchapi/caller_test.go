package twitchapi

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeStore struct {
	creds       Credentials
	refreshed   Credentials
	refreshErr  error
	refreshes   int
	credentials int
}

func (s *fakeStore) Credentials(ctx context.Context) (Credentials, error) {
	s.credentials++
	return s.creds, nil
}

func (s *fakeStore) Refresh(ctx context.Context) (Credentials, error) {
	s.refreshes++
	if s.refreshErr != nil {
		return Credentials{}, s.refreshErr
	}
	return s.refreshed, nil
}

func TestCall_SuccessFirstAttempt(t *testing.T) {
	store := &fakeStore{creds: Credentials{ClientID: "cid", AccessToken: "tok"}}
	c := &Caller{Store: store}
	calls := 0
	got, err := Call(context.Background(), c, func(creds Credentials) (string, error) {
		calls++
		if creds.AccessToken != "tok" {
			t.Errorf("unexpected token %q", creds.AccessToken)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls, want ok after 1", got, calls)
	}
	if store.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", store.refreshes)
	}
}

func TestCall_RefreshOnAuthError(t *testing.T) {
	store := &fakeStore{
		creds:     Credentials{AccessToken: "stale"},
		refreshed: Credentials{AccessToken: "fresh"},
	}
	c := &Caller{Store: store}
	calls := 0
	got, err := Call(context.Background(), c, func(creds Credentials) (string, error) {
		calls++
		if creds.AccessToken == "stale" {
			return "", &AuthError{Status: 401, Msg: "invalid token"}
		}
		return creds.AccessToken, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "fresh" {
		t.Errorf("got %q, want fresh", got)
	}
	if calls != 2 || store.refreshes != 1 {
		t.Errorf("calls=%d refreshes=%d, want 2 and 1", calls, store.refreshes)
	}
}

func TestCall_NonAuthErrorPropagates(t *testing.T) {
	store := &fakeStore{}
	c := &Caller{Store: store}
	boom := errors.New("network down")
	_, err := Call(context.Background(), c, func(Credentials) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if store.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", store.refreshes)
	}
}

func TestCall_ExhaustsAttempts(t *testing.T) {
	store := &fakeStore{refreshed: Credentials{AccessToken: "still-bad"}}
	c := &Caller{Store: store}
	calls := 0
	_, err := Call(context.Background(), c, func(Credentials) (int, error) {
		calls++
		return 0, &AuthError{Status: 403, Msg: "missing scope"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("err = %v, want exhaustion message", err)
	}
	if calls != 3 || store.refreshes != 2 {
		t.Errorf("calls=%d refreshes=%d, want 3 and 2", calls, store.refreshes)
	}
	if !IsAuthError(err) {
		t.Error("exhaustion error should wrap the auth error")
	}
}

func TestCall_RefreshFailureStops(t *testing.T) {
	store := &fakeStore{refreshErr: errors.New("store offline")}
	c := &Caller{Store: store}
	calls := 0
	_, err := Call(context.Background(), c, func(Credentials) (int, error) {
		calls++
		return 0, &AuthError{Status: 401, Msg: "expired"}
	})
	if err == nil || !strings.Contains(err.Error(), "refresh credentials") {
		t.Fatalf("err = %v, want refresh failure", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
