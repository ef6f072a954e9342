// Package twitchapi contains minimal helpers to interact with Twitch Helix
// and OAuth APIs for user id resolution, live stream status, and token
// management.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/onnwee/chat-copilot/backend/gpt"
)

// HelixClient provides the few Helix methods the bot needs.
type HelixClient struct {
	Auth       *Caller
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) getJSON(ctx context.Context, rawURL string, q url.Values, out any) error {
	_, err := Call(ctx, hc.Auth, func(creds Credentials) (struct{}, error) {
		var zero struct{}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return zero, err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", creds.ClientID)
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		resp, err := hc.http().Do(req)
		if err != nil {
			return zero, err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Warn("failed to close response body", slog.Any("err", err))
			}
		}()
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			b, _ := io.ReadAll(resp.Body)
			return zero, &AuthError{Status: resp.StatusCode, Msg: string(b)}
		default:
			b, _ := io.ReadAll(resp.Body)
			return zero, fmt.Errorf("helix request failed: %s: %s", resp.Status, string(b))
		}
		return zero, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("login", login)
	if err := hc.getJSON(ctx, "https://api.twitch.tv/helix/users", q, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// LiveStream returns the channel's current live stream, or nil when offline.
func (hc *HelixClient) LiveStream(ctx context.Context, channel string) (*gpt.LiveStream, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel empty")
	}
	var body struct {
		Data []struct {
			Title       string   `json:"title"`
			GameName    string   `json:"game_name"`
			ViewerCount int      `json:"viewer_count"`
			StartedAt   string   `json:"started_at"`
			Tags        []string `json:"tags"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("user_login", channel)
	q.Set("first", "1")
	if err := hc.getJSON(ctx, "https://api.twitch.tv/helix/streams", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	d := body.Data[0]
	startedAt, _ := time.Parse(time.RFC3339, d.StartedAt)
	return &gpt.LiveStream{
		Title:     d.Title,
		Game:      d.GameName,
		Tags:      d.Tags,
		Viewers:   d.ViewerCount,
		StartedAt: startedAt,
	}, nil
}
