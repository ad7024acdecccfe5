package chat

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/lurkbot/commands"
	"github.com/onnwee/lurkbot/config"
	dbpkg "github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/telemetry"
)

// Handler consumes parsed command deliveries.
type Handler interface {
	Process(ctx context.Context, d commands.Delivery)
}

// Listener owns the IRC connection for the configured channel. It doubles as
// the command processor's Publisher so replies go out over the same client.
type Listener struct {
	cfg *config.Config
	db  *sql.DB

	mu      sync.RWMutex
	client  *twitch.Client
	handler Handler
}

// NewListener prepares an IRC listener. The handler is attached separately
// because the processor needs the listener as its publisher first.
func NewListener(cfg *config.Config, db *sql.DB) *Listener {
	return &Listener{cfg: cfg, db: db}
}

// SetHandler attaches the delivery consumer. Call before Run.
func (l *Listener) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Publish sends one line to the channel's chat.
func (l *Listener) Publish(ctx context.Context, line string) error {
	l.mu.RLock()
	client := l.client
	l.mu.RUnlock()
	if client == nil {
		return errors.New("chat client not connected")
	}
	client.Say(l.cfg.TwitchChannel, line)
	return nil
}

// Run connects and blocks until the context is cancelled or the connection
// fails. Cancellation is a normal shutdown and returns nil.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.cfg.ValidateChatReady(); err != nil {
		return err
	}
	token, err := l.resolveToken(ctx)
	if err != nil {
		return err
	}

	client := twitch.NewClient(l.cfg.BotUsername, token)
	l.mu.Lock()
	l.client = client
	l.mu.Unlock()

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		l.mu.RLock()
		handler := l.handler
		l.mu.RUnlock()
		if handler == nil {
			return
		}
		d, ok := ParseLine(msg.ID, msg.Message, senderFromMessage(msg))
		if !ok {
			return
		}
		corr := msg.ID
		if corr == "" {
			corr = uuid.NewString()
		}
		handler.Process(telemetry.WithCorrelation(ctx, corr), d)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			slog.Debug("chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	client.Join(l.cfg.TwitchChannel)
	slog.Info("chat listener connecting",
		slog.String("channel", l.cfg.TwitchChannel),
		slog.String("bot", l.cfg.BotUsername))
	err = client.Connect()
	if ctx.Err() != nil {
		<-done
		return nil
	}
	return err
}

// resolveToken prefers the env token and falls back to the stored "twitch"
// token row, normalizing the "oauth:" prefix the IRC server expects.
func (l *Listener) resolveToken(ctx context.Context) (string, error) {
	token := l.cfg.TwitchOAuthToken
	if token == "" && l.db != nil {
		access, _, _, _, err := dbpkg.GetOAuthToken(ctx, l.db, "twitch")
		if err != nil {
			return "", errors.New("no TWITCH_OAUTH_TOKEN and no stored twitch token")
		}
		token = access
	}
	if token == "" {
		return "", errors.New("no chat token available")
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return token, nil
}

// ParseLine splits a chat line into a command delivery. Only lines starting
// with "!" are commands; everything else is ordinary chat.
func ParseLine(deliveryID, text string, sender commands.Sender) (commands.Delivery, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return commands.Delivery{}, false
	}
	keyword, args, _ := strings.Cut(text[1:], " ")
	if keyword == "" {
		return commands.Delivery{}, false
	}
	return commands.Delivery{
		DeliveryID: deliveryID,
		Command:    keyword,
		Args:       strings.TrimSpace(args),
		Sender:     sender,
	}, true
}

func senderFromMessage(msg twitch.PrivateMessage) commands.Sender {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	return commands.Sender{
		ID:            msg.User.ID,
		Name:          name,
		IsModerator:   msg.User.Badges["moderator"] > 0,
		IsBroadcaster: msg.User.Badges["broadcaster"] > 0,
	}
}
