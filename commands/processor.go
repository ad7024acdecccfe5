// Package commands turns chat deliveries into economy transactions and
// overlay signals. Every delivery passes through the processed-command
// journal before any side effect, so Twitch's at-least-once delivery can
// never charge a viewer twice for the same message.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/lurkbot/config"
	"github.com/onnwee/lurkbot/economy"
	"github.com/onnwee/lurkbot/telemetry"
)

const (
	// journalRetention bounds the dedup window. Twitch redeliveries arrive
	// within seconds, so a minute of history is plenty.
	journalRetention = 60 * time.Second
	// pruneChance makes journal cleanup opportunistic instead of scheduled.
	pruneChance = 0.01
)

// Delivery is one candidate command extracted from a chat message.
type Delivery struct {
	// DeliveryID is the transport's message id. Empty disables dedup, which
	// only happens for transports without stable ids.
	DeliveryID string
	Command    string // keyword without the leading "!"
	Args       string // raw remainder of the message
	Sender     Sender
}

// Sender identifies who issued the command and their channel roles.
type Sender struct {
	ID            string
	Name          string
	IsModerator   bool
	IsBroadcaster bool
}

// Publisher sends one line to the channel's chat.
type Publisher interface {
	Publish(ctx context.Context, line string) error
}

// Ledger is the slice of the economy store the command handlers need.
type Ledger interface {
	GetUser(ctx context.Context, twitchID string) (economy.User, error)
	SpendPoints(ctx context.Context, twitchID string, cost int, reason string) (int, error)
	PurchaseItem(ctx context.Context, twitchID, itemName string) (economy.ShopItem, int, error)
	ListEnabledItems(ctx context.Context) ([]economy.ShopItem, error)
	SeedDefaultShopItems(ctx context.Context) error
	RecordProcessedCommand(ctx context.Context, deliveryID, command, userID string) error
	PruneProcessedCommands(ctx context.Context, olderThan time.Duration) (int64, error)
}

// VideoResolver turns a chat argument into a YouTube video id.
type VideoResolver interface {
	ResolveVideoID(ctx context.Context, input string) (string, error)
}

// Policy holds the per-command costs. Moderators and the broadcaster are
// exempt from the queue costs, never from MsgCost.
type Policy struct {
	MsgCost        int
	QueueAddCost   int
	QueueCheckCost int
}

// PolicyFromConfig extracts the cost policy from the loaded configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{MsgCost: cfg.MsgCost, QueueAddCost: cfg.QueueAddCost, QueueCheckCost: cfg.QueueCheckCost}
}

type handlerFunc func(ctx context.Context, d Delivery) error

// Processor dispatches deliveries to command handlers.
type Processor struct {
	store  Ledger
	pub    Publisher
	videos VideoResolver
	policy Policy

	// randFloat drives the opportunistic journal prune; injected in tests.
	randFloat func() float64

	routes map[string]handlerFunc
}

// New creates a Processor. videos may be nil; the music commands then reject
// every request with an "unavailable" reply.
func New(store Ledger, pub Publisher, videos VideoResolver, policy Policy) *Processor {
	p := &Processor{
		store:     store,
		pub:       pub,
		videos:    videos,
		policy:    policy,
		randFloat: rand.Float64, //nolint:gosec // prune scheduling, not security
	}
	p.routes = map[string]handlerFunc{
		"points":     p.handlePoints,
		"pontos":     p.handlePoints,
		"shop":       p.handleShop,
		"buy":        p.handleBuy,
		"msg":        p.handleMsg,
		"commands":   p.handleCommandList,
		"comandos":   p.handleCommandList,
		"music":      p.handleQueueAdd,
		"queue":      p.handleQueueAdd,
		"play":       p.handleInstantPlay,
		"skip":       p.control(SignalSkip),
		"stop":       p.control(SignalStop),
		"pause":      p.control(SignalPause),
		"resume":     p.control(SignalResume),
		"queuecheck": p.handleQueueCheck,
	}
	return p
}

// Process runs one delivery end to end: journal first, then dispatch. Lines
// that match no command are ignored silently so ordinary chat (and other
// bots' commands) produce no replies. Handler errors are logged and swallowed;
// a broken handler must not take down the listener.
func (p *Processor) Process(ctx context.Context, d Delivery) {
	keyword := strings.ToLower(strings.TrimSpace(d.Command))
	handler, ok := p.routes[keyword]
	if !ok {
		telemetry.CommandsIgnored.Inc()
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "lurkbot/commands", "command.process",
		attribute.String("command", keyword),
		attribute.String("delivery_id", d.DeliveryID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.CommandDuration.Observe(time.Since(start).Seconds())
	}()

	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("command", keyword),
		slog.String("user_id", d.Sender.ID),
		slog.String("component", "commands"),
	)

	if d.DeliveryID != "" {
		if err := p.store.RecordProcessedCommand(ctx, d.DeliveryID, keyword, d.Sender.ID); err != nil {
			if errors.Is(err, economy.ErrDuplicateCommand) {
				telemetry.CommandsDuplicate.Inc()
				log.Debug("duplicate delivery dropped", slog.String("delivery_id", d.DeliveryID))
				return
			}
			// Journal unavailable. Skipping the command beats risking a
			// double charge on redelivery.
			telemetry.CommandsErrored.Inc()
			telemetry.RecordError(span, err)
			log.Error("command journal write failed, delivery skipped", slog.Any("err", err))
			return
		}
		if p.randFloat() < pruneChance {
			if n, err := p.store.PruneProcessedCommands(ctx, journalRetention); err != nil {
				log.Warn("journal prune failed", slog.Any("err", err))
			} else if n > 0 {
				log.Debug("journal pruned", slog.Int64("rows", n))
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.CommandsErrored.Inc()
			log.Error("command handler panicked", slog.Any("panic", r))
		}
	}()

	if err := handler(ctx, d); err != nil {
		telemetry.CommandsErrored.Inc()
		telemetry.RecordError(span, err)
		log.Error("command handler failed", slog.Any("err", err))
		return
	}
	telemetry.CommandsProcessed.Inc()
	telemetry.SetSpanSuccess(span)
}

// say formats and publishes a chat reply. Publish failures are logged and
// counted but never propagate; the economy side effect already happened.
func (p *Processor) say(ctx context.Context, line string) {
	if err := p.pub.Publish(ctx, line); err != nil {
		telemetry.PublishFailures.Inc()
		telemetry.LoggerWithCorr(ctx).Warn("chat publish failed", slog.Any("err", err), slog.String("component", "commands"))
	}
}

// emit publishes an overlay signal line.
func (p *Processor) emit(ctx context.Context, s Signal) {
	if err := p.pub.Publish(ctx, s.Render()); err != nil {
		telemetry.PublishFailures.Inc()
		telemetry.LoggerWithCorr(ctx).Warn("signal publish failed", slog.Any("err", err), slog.String("kind", s.Kind), slog.String("component", "commands"))
		return
	}
	telemetry.SignalsEmitted.Inc()
}

// exemptFromQueueCosts reports whether the sender skips queue-related costs.
func exemptFromQueueCosts(s Sender) bool {
	return s.IsModerator || s.IsBroadcaster
}

// chargeQueue debits a queue-related cost unless the sender is exempt.
// Returns proceed=false when the command must stop; an insufficient balance
// already got its reply, a storage failure is returned as err.
func (p *Processor) chargeQueue(ctx context.Context, d Delivery, cost int, reason string) (bool, error) {
	if cost <= 0 || exemptFromQueueCosts(d.Sender) {
		return true, nil
	}
	_, err := p.store.SpendPoints(ctx, d.Sender.ID, cost, reason)
	if errors.Is(err, economy.ErrInsufficientPoints) {
		have := 0
		if u, uerr := p.store.GetUser(ctx, d.Sender.ID); uerr == nil {
			have = u.Points
		}
		p.say(ctx, fmt.Sprintf("@%s, that costs %d points and you have %d.", d.Sender.Name, cost, have))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	telemetry.PointsSpent.Add(float64(cost))
	return true, nil
}
