package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/lurkbot/economy"
)

// leaderboardEntry is the wire shape for ranked users.
type leaderboardEntry struct {
	Rank        int    `json:"rank"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
	Level       int    `json:"level"`
	XP          int    `json:"xp"`
}

func toEntries(users []economy.User) []leaderboardEntry {
	out := make([]leaderboardEntry, 0, len(users))
	for i, u := range users {
		out = append(out, leaderboardEntry{
			Rank:        i + 1,
			DisplayName: u.DisplayName,
			Points:      u.Points,
			Level:       u.Level,
			XP:          u.XP,
		})
	}
	return out
}

// HandleDashboard returns aggregate counts, the top users by points and XP,
// and the enriched live roster. The roster portion runs a reconciliation pass
// just like /chatters, so dashboard polling also drives accrual.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.store.CountUsers(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	channels, err := h.store.CountChannels(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	limit := parseIntQuery(r, "limit", h.cfg.LeaderboardSize)
	byPoints, err := h.store.TopUsersByPoints(ctx, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	byXP, err := h.store.TopUsersByXP(ctx, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload := map[string]any{
		"users":         users,
		"channels":      channels,
		"top_by_points": toEntries(byPoints),
		"top_by_xp":     toEntries(byXP),
	}
	// Counts and leaderboards still render when no roster is wired.
	if h.rosterSrc != nil {
		payload["live_chatters"] = h.rosterSrc.Reconcile(ctx)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleLeaderboard returns the top users by points.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", h.cfg.LeaderboardSize)
	users, err := h.store.TopUsersByPoints(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"leaderboard": toEntries(users)}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleChatters runs a reconciliation pass and returns the enriched roster.
// Accrual is request-driven: overlays polling this endpoint are what make
// lurk time pay out.
func (h *Handlers) HandleChatters(w http.ResponseWriter, r *http.Request) {
	if h.rosterSrc == nil {
		http.Error(w, "roster not configured", http.StatusServiceUnavailable)
		return
	}
	view := h.rosterSrc.Reconcile(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
