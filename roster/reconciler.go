// Package roster converts "who is in chat right now" into point and XP
// accrual. A reconciliation pass fetches the channel's chatter list from
// Helix, upserts the channel record, evaluates each participant's presence
// gap against the stored anchor, and returns an enriched view for the
// dashboard and leaderboard overlays. Passes are request-driven; several may
// run concurrently and the store's optimistic presence guard keeps them from
// paying the same gap twice.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/lurkbot/config"
	dbpkg "github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/leveling"
	"github.com/onnwee/lurkbot/telemetry"
	"github.com/onnwee/lurkbot/twitchapi"
)

const (
	// minGap is the smallest presence gap that earns anything; shorter gaps
	// leave the anchor alone so time keeps accumulating toward the next pass.
	minGap = 60 * time.Second
	// maxGap caps the payable window; a longer gap means the bot was down and
	// the session restarts without a retroactive payout.
	maxGap = 600 * time.Second

	pointsPerMinute = 1
	xpPerMinute     = 3
)

// Ledger is the slice of the economy store the reconciler needs.
type Ledger interface {
	UpsertChannel(ctx context.Context, twitchID, name string) error
	GetUser(ctx context.Context, twitchID string) (economy.User, error)
	CreateUser(ctx context.Context, twitchID, displayName string) (economy.User, error)
	UpdateDisplayName(ctx context.Context, twitchID, displayName string) error
	AwardPresence(ctx context.Context, twitchID, displayName string, points, xp, level int, observedPresenceAt time.Time) (economy.User, bool, error)
	ResetPresence(ctx context.Context, twitchID, displayName string, observedPresenceAt time.Time) (economy.User, bool, error)
}

// ChatterSource lists current chat participants (paginated internally).
type ChatterSource interface {
	GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]twitchapi.Chatter, int, error)
}

// UserResolver maps a login name to a Twitch user id.
type UserResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// ChatterView is one enriched roster entry, reflecting state after the pass.
type ChatterView struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Points   int    `json:"points"`
	Level    int    `json:"level"`
	XP       int    `json:"xp"`
}

// View is the reconciliation output consumed by dashboard/leaderboard code.
// Err carries configuration or roster-fetch failures as data instead of
// aborting the caller's rendering.
type View struct {
	Count    int           `json:"count"`
	Chatters []ChatterView `json:"chatters"`
	Err      string        `json:"error,omitempty"`
}

// Reconciler runs lurk accrual passes for the configured channel.
type Reconciler struct {
	store    Ledger
	source   ChatterSource
	resolver UserResolver
	cfg      *config.Config
	clock    clockwork.Clock
	kv       *sql.DB // broadcaster id cache; nil disables persistence

	mu            sync.Mutex
	broadcasterID string
}

// New creates a Reconciler. kv may be nil; it is only used to cache the
// resolved broadcaster id across restarts. A nil clock defaults to real time.
func New(store Ledger, source ChatterSource, resolver UserResolver, cfg *config.Config, kv *sql.DB, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{store: store, source: source, resolver: resolver, cfg: cfg, kv: kv, clock: clock}
}

// Reconcile runs one pass and returns the enriched roster view. Missing
// credentials or a roster-fetch failure produce a zero-participant view with
// Err set; per-user storage failures degrade to "accrual skipped" for that
// user only.
func (r *Reconciler) Reconcile(ctx context.Context) View {
	start := r.clock.Now()
	telemetry.ReconcileRuns.Inc()
	defer func() {
		telemetry.ReconcileDuration.Observe(r.clock.Since(start).Seconds())
	}()

	if r.cfg.TwitchChannel == "" || r.cfg.BotUserID == "" {
		return View{Err: "missing channel or bot configuration"}
	}

	broadcasterID, err := r.resolveBroadcasterID(ctx)
	if err != nil {
		slog.Warn("broadcaster id resolution failed", slog.Any("err", err), slog.String("component", "roster"))
		return View{Err: "cannot resolve broadcaster: " + err.Error()}
	}

	chatters, total, err := r.source.GetChatters(ctx, broadcasterID, r.cfg.BotUserID)
	if err != nil {
		slog.Warn("chatters fetch failed", slog.Any("err", err), slog.String("component", "roster"))
		return View{Err: "roster fetch failed: " + err.Error()}
	}
	telemetry.RosterSize.Set(float64(len(chatters)))

	// Channel record first, once per pass.
	if err := r.store.UpsertChannel(ctx, broadcasterID, r.cfg.TwitchChannel); err != nil {
		slog.Error("channel upsert failed", slog.Any("err", err), slog.String("component", "roster"))
	}

	view := View{Count: total, Chatters: make([]ChatterView, 0, len(chatters))}
	for _, c := range chatters {
		entry, ok := r.reconcileOne(ctx, c)
		if !ok {
			continue
		}
		view.Chatters = append(view.Chatters, entry)
	}
	return view
}

// reconcileOne evaluates one participant against the stored presence anchor.
// Storage failures log and fall back to the last known state so a single bad
// row never fails the whole pass.
func (r *Reconciler) reconcileOne(ctx context.Context, c twitchapi.Chatter) (ChatterView, bool) {
	now := r.clock.Now().UTC()

	u, err := r.store.GetUser(ctx, c.UserID)
	if errors.Is(err, economy.ErrUserNotFound) {
		// First sighting: track, never pay.
		created, err := r.store.CreateUser(ctx, c.UserID, c.UserName)
		if err != nil {
			slog.Error("user create failed", slog.Any("err", err), slog.String("user_id", c.UserID), slog.String("component", "roster"))
			return ChatterView{}, false
		}
		return toView(c, created), true
	}
	if err != nil {
		slog.Error("user lookup failed", slog.Any("err", err), slog.String("user_id", c.UserID), slog.String("component", "roster"))
		return ChatterView{}, false
	}

	anchor := u.LastPresenceAt
	if anchor.IsZero() {
		// Legacy row without an anchor: start a fresh session.
		if updated, won, err := r.store.ResetPresence(ctx, c.UserID, c.UserName, anchor); err == nil && won {
			u = updated
		}
		return toView(c, u), true
	}

	gap := now.Sub(anchor)
	switch {
	case gap < minGap:
		// Too soon to pay; leave the anchor so time keeps accumulating.
		if c.UserName != u.DisplayName {
			if err := r.store.UpdateDisplayName(ctx, c.UserID, c.UserName); err != nil {
				slog.Warn("display name update failed", slog.Any("err", err), slog.String("user_id", c.UserID), slog.String("component", "roster"))
			} else {
				u.DisplayName = c.UserName
			}
		}
	case gap <= maxGap:
		minutes := int(gap / time.Minute)
		points := minutes * pointsPerMinute
		xp := minutes * xpPerMinute
		level := leveling.Level(u.XP + xp).Level
		updated, won, err := r.store.AwardPresence(ctx, c.UserID, c.UserName, points, xp, level, anchor)
		if err != nil {
			slog.Error("presence award failed", slog.Any("err", err), slog.String("user_id", c.UserID), slog.String("component", "roster"))
		} else if won {
			u = updated
			telemetry.PointsAwarded.Add(float64(points))
		} else if fresh, err := r.store.GetUser(ctx, c.UserID); err == nil {
			// A concurrent pass paid first; show its result.
			u = fresh
		}
	default:
		// Session went stale (bot downtime); restart it without a payout.
		updated, won, err := r.store.ResetPresence(ctx, c.UserID, c.UserName, anchor)
		if err != nil {
			slog.Error("presence reset failed", slog.Any("err", err), slog.String("user_id", c.UserID), slog.String("component", "roster"))
		} else if won {
			u = updated
		} else if fresh, err := r.store.GetUser(ctx, c.UserID); err == nil {
			u = fresh
		}
	}
	return toView(c, u), true
}

func toView(c twitchapi.Chatter, u economy.User) ChatterView {
	name := u.DisplayName
	if name == "" {
		name = c.UserName
	}
	return ChatterView{UserID: u.TwitchID, UserName: name, Points: u.Points, Level: u.Level, XP: u.XP}
}

// resolveBroadcasterID resolves the configured channel login to its user id,
// preferring (in order) the in-memory cache, the bot's own id when the bot is
// the broadcaster, the kv cache, then a Helix lookup.
func (r *Reconciler) resolveBroadcasterID(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.broadcasterID
	r.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	channel := strings.ToLower(r.cfg.TwitchChannel)
	if r.cfg.BotUsername != "" && channel == strings.ToLower(r.cfg.BotUsername) {
		r.setBroadcasterID(r.cfg.BotUserID)
		return r.cfg.BotUserID, nil
	}

	kvKey := "broadcaster_id:" + channel
	if r.kv != nil {
		if v, err := dbpkg.GetKV(ctx, r.kv, kvKey); err == nil && v != "" {
			r.setBroadcasterID(v)
			return v, nil
		}
	}

	id, err := r.resolver.GetUserID(ctx, channel)
	if err != nil {
		return "", err
	}
	r.setBroadcasterID(id)
	if r.kv != nil {
		if err := dbpkg.SetKV(ctx, r.kv, kvKey, id); err != nil {
			slog.Warn("broadcaster id cache write failed", slog.Any("err", err), slog.String("component", "roster"))
		}
	}
	return id, nil
}

func (r *Reconciler) setBroadcasterID(id string) {
	r.mu.Lock()
	r.broadcasterID = id
	r.mu.Unlock()
}
