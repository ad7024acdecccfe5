package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/roster"
	"github.com/onnwee/lurkbot/telemetry"
	"github.com/onnwee/lurkbot/testutil"
)

type staticRoster struct {
	view roster.View
}

func (s *staticRoster) Reconcile(ctx context.Context) roster.View { return s.view }

func newTestServer(t *testing.T) (*httptest.Server, *economy.Store) {
	t.Helper()
	telemetry.Init()
	db := testutil.SetupTestDB(t)
	store := economy.NewStore(db, clockwork.NewRealClock())
	cfg := &config.Config{LeaderboardSize: 10, TwitchOAuthToken: "env-token"}
	rosterSrc := &staticRoster{view: roster.View{
		Count:    2,
		Chatters: []roster.ChatterView{{UserID: "1", UserName: "a"}, {UserID: "2", UserName: "b"}},
	}}
	h := NewHandlers(cfg, store, rosterSrc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewMux(ctx, h))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestReadyzWithEnvToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (env token satisfies credentials check)", resp.StatusCode)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, "lb-1", "Rich"); err != nil {
		t.Fatal(err)
	}
	anchor := time.Now().UTC().Add(-2 * time.Minute)
	if _, err := store.DB().ExecContext(ctx,
		`UPDATE users SET points = 500, xp = 100, level = 2, last_presence_at = $1 WHERE twitch_id = 'lb-1'`, anchor); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/stats/leaderboard?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Leaderboard []leaderboardEntry `json:"leaderboard"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Leaderboard) == 0 {
		t.Fatal("empty leaderboard")
	}
	if body.Leaderboard[0].Rank != 1 {
		t.Errorf("first entry rank = %d, want 1", body.Leaderboard[0].Rank)
	}
}

func TestDashboardIncludesLiveChatters(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/stats/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Users        int                `json:"users"`
		Channels     int                `json:"channels"`
		TopByPoints  []leaderboardEntry `json:"top_by_points"`
		LiveChatters roster.View        `json:"live_chatters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.LiveChatters.Count != 2 || len(body.LiveChatters.Chatters) != 2 {
		t.Errorf("live_chatters = %+v, want the reconciler's view embedded", body.LiveChatters)
	}
	if body.LiveChatters.Chatters[0].UserID != "1" {
		t.Errorf("first chatter = %+v, want user 1", body.LiveChatters.Chatters[0])
	}
}

func TestDashboardWithoutRoster(t *testing.T) {
	telemetry.Init()
	db := testutil.SetupTestDB(t)
	store := economy.NewStore(db, clockwork.NewRealClock())
	cfg := &config.Config{LeaderboardSize: 10}
	h := NewHandlers(cfg, store, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewMux(ctx, h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stats/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (counts render without a roster)", resp.StatusCode)
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["live_chatters"]; ok {
		t.Error("live_chatters should be omitted when no roster is wired")
	}
	if _, ok := body["users"]; !ok {
		t.Error("users count missing")
	}
}

func TestChattersEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/chatters")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view roster.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Count != 2 || len(view.Chatters) != 2 {
		t.Errorf("view = %+v, want the reconciler's output passed through", view)
	}
}

func TestAdminShopLifecycle(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "test-admin-token")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	srv, _ := newTestServer(t)

	// Unauthenticated request is rejected.
	resp, err := http.Get(srv.URL + "/admin/shop")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", resp.StatusCode)
	}

	// Create an item.
	payload := []byte(`{"name": "Test Confetti", "cost": 250, "description": "party"}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/shop", bytes.NewReader(payload))
	req.Header.Set("X-Admin-Token", "test-admin-token")
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var created shopItemJSON
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d, want 201", resp.StatusCode)
	}
	if created.ID == 0 || !created.Enabled {
		t.Errorf("created = %+v", created)
	}

	// Disable it.
	payload = []byte(`{"id": ` + jsonInt(created.ID) + `, "enabled": false}`)
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/admin/shop/enable", bytes.NewReader(payload))
	req.Header.Set("X-Admin-Token", "test-admin-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable toggle: status = %d, want 200", resp.StatusCode)
	}

	// Listing still shows it, now disabled.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/shop", nil)
	req.Header.Set("X-Admin-Token", "test-admin-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Items []shopItemJSON `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	found := false
	for _, it := range list.Items {
		if it.ID == created.ID {
			found = true
			if it.Enabled {
				t.Error("item should be disabled after toggle")
			}
		}
	}
	if !found {
		t.Error("created item missing from admin listing")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
