// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/lurkbot/commands"
	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/roster"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// RosterSource runs a reconciliation pass on demand.
type RosterSource interface {
	Reconcile(ctx context.Context) roster.View
}

// CommandSink consumes command deliveries, e.g. from the EventSub webhook.
type CommandSink interface {
	Process(ctx context.Context, d commands.Delivery)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	store      *economy.Store
	rosterSrc  RosterSource
	sink       CommandSink
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// rosterSrc and sink may be nil; the corresponding endpoints then report
// service unavailable.
func NewHandlers(cfg *config.Config, store *economy.Store, rosterSrc RosterSource, sink CommandSink) *Handlers {
	return &Handlers{
		db:         store.DB(),
		cfg:        cfg,
		store:      store,
		rosterSrc:  rosterSrc,
		sink:       sink,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Don't add the state - this will cause the OAuth flow to fail
		// which is better than a memory exhaustion attack
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state, returning whether it was
// valid and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}
