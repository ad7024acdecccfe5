package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// shopItemJSON is the wire shape for admin shop management.
type shopItemJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Cost        int    `json:"cost"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// HandleAdminShop lists all shop items (GET, including disabled ones) or
// creates a new item (POST).
func (h *Handlers) HandleAdminShop(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := h.store.ListAllItems(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]shopItemJSON, 0, len(items))
		for _, it := range items {
			out = append(out, shopItemJSON{ID: it.ID, Name: it.Name, Cost: it.Cost, Description: it.Description, Enabled: it.Enabled})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"items": out}); err != nil {
			slog.Warn("failed to encode JSON response", slog.Any("err", err))
		}
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Cost        int    `json:"cost"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || req.Cost <= 0 {
			http.Error(w, "name and positive cost required", http.StatusBadRequest)
			return
		}
		item, err := h.store.CreateShopItem(r.Context(), req.Name, req.Cost, req.Description)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(shopItemJSON{ID: item.ID, Name: item.Name, Cost: item.Cost, Description: item.Description, Enabled: item.Enabled}); err != nil {
			slog.Warn("failed to encode JSON response", slog.Any("err", err))
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminShopEnable toggles an item's availability.
func (h *Handlers) HandleAdminShopEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID      int64 `json:"id"`
		Enabled bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.ID <= 0 {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	if err := h.store.SetShopItemEnabled(r.Context(), req.ID, req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok"}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
