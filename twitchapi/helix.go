// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and listing current chatters, plus the OAuth token
// plumbing for app and user tokens.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

const defaultHelixBaseURL = "https://api.twitch.tv/helix"

// chattersPageSize is the Helix maximum for one page of /chat/chatters.
const chattersPageSize = 100

// TokenProvider supplies a bearer token for Helix calls. The app-token
// TokenSource satisfies it; so does TokenFunc for user tokens loaded from
// storage.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to the TokenProvider interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Get(ctx context.Context) (string, error) { return f(ctx) }

// Chatter is one participant currently present in a channel's chat.
type Chatter struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// HelixClient provides the methods needed for roster reconciliation.
// The chatters endpoint requires a user token carrying moderator:read:chatters;
// user id resolution works with either token kind.
type HelixClient struct {
	TokenSource TokenProvider
	ClientID    string
	HTTPClient  *http.Client
	BaseURL     string // defaults to the public Helix endpoint
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultHelixBaseURL
}

func (hc *HelixClient) do(ctx context.Context, path string, query map[string]string, out any) error {
	tok, err := hc.TokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		if v != "" {
			q.Set(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix %s failed: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
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
	if err := hc.do(ctx, "/users", map[string]string{"login": login}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetChatters lists everyone currently in the broadcaster's chat. Pages are
// fetched and concatenated internally so callers always see the full roster.
// Returns the chatters and the total reported by Helix.
func (hc *HelixClient) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]Chatter, int, error) {
	if broadcasterID == "" || moderatorID == "" {
		return nil, 0, fmt.Errorf("broadcasterID/moderatorID empty")
	}
	var (
		out    []Chatter
		total  int
		cursor string
	)
	for {
		var body struct {
			Data       []Chatter `json:"data"`
			Total      int       `json:"total"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		query := map[string]string{
			"broadcaster_id": broadcasterID,
			"moderator_id":   moderatorID,
			"first":          strconv.Itoa(chattersPageSize),
			"after":          cursor,
		}
		if err := hc.do(ctx, "/chat/chatters", query, &body); err != nil {
			return nil, 0, err
		}
		out = append(out, body.Data...)
		total = body.Total
		cursor = body.Pagination.Cursor
		if cursor == "" || len(body.Data) == 0 {
			break
		}
	}
	return out, total, nil
}
