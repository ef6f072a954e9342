package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chat-copilot/backend/twitchapi"
)

// TwitchProvider is the oauth_tokens row holding the bot's user token.
const TwitchProvider = "twitch"

// BotCredentialStore implements twitchapi.CredentialStore on top of the
// oauth_tokens table. Refresh runs the refresh_token grant and persists the
// rotated pair before handing out the new access token.
type BotCredentialStore struct {
	DB           *sql.DB
	ClientID     string
	ClientSecret string
}

// Credentials returns the stored user access token.
func (s *BotCredentialStore) Credentials(ctx context.Context) (twitchapi.Credentials, error) {
	access, _, _, _, err := GetOAuthToken(ctx, s.DB, TwitchProvider)
	if err != nil {
		return twitchapi.Credentials{}, fmt.Errorf("load twitch token: %w", err)
	}
	if access == "" {
		return twitchapi.Credentials{}, fmt.Errorf("no twitch token stored")
	}
	return twitchapi.Credentials{ClientID: s.ClientID, AccessToken: access}, nil
}

// Refresh rotates the stored token via the refresh_token grant.
func (s *BotCredentialStore) Refresh(ctx context.Context) (twitchapi.Credentials, error) {
	_, refresh, _, scope, err := GetOAuthToken(ctx, s.DB, TwitchProvider)
	if err != nil {
		return twitchapi.Credentials{}, fmt.Errorf("load twitch refresh token: %w", err)
	}
	if refresh == "" {
		return twitchapi.Credentials{}, fmt.Errorf("no twitch refresh token stored")
	}
	res, err := twitchapi.RefreshToken(ctx, s.ClientID, s.ClientSecret, refresh)
	if err != nil {
		return twitchapi.Credentials{}, err
	}
	newRefresh := res.RefreshToken
	if newRefresh == "" {
		newRefresh = refresh
	}
	newScope := strings.Join(res.Scope, " ")
	if newScope == "" {
		newScope = scope
	}
	if err := UpsertOAuthToken(ctx, s.DB, TwitchProvider, res.AccessToken, newRefresh, twitchapi.ComputeExpiry(res.ExpiresIn), newScope); err != nil {
		return twitchapi.Credentials{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	return twitchapi.Credentials{ClientID: s.ClientID, AccessToken: res.AccessToken}, nil
}

// ChatToken returns the stored user token formatted for the IRC connection.
func (s *BotCredentialStore) ChatToken(ctx context.Context) (string, error) {
	creds, err := s.Credentials(ctx)
	if err != nil {
		return "", err
	}
	tok := creds.AccessToken
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return tok, nil
}

// TokenExpiry reports when the stored token expires; zero when no row exists.
func (s *BotCredentialStore) TokenExpiry(ctx context.Context) (time.Time, error) {
	_, _, expiry, _, err := GetOAuthToken(ctx, s.DB, TwitchProvider)
	return expiry, err
}
