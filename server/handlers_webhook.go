package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/lurkbot/chat"
	"github.com/onnwee/lurkbot/commands"
	"github.com/onnwee/lurkbot/telemetry"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"

	// EventSub caps payloads well below this; a bound protects the HMAC read.
	maxWebhookBody = 1 << 20
)

// eventSubEnvelope is the outer shape shared by all EventSub deliveries.
type eventSubEnvelope struct {
	Challenge    string `json:"challenge"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event struct {
		ChatterUserID   string `json:"chatter_user_id"`
		ChatterUserName string `json:"chatter_user_name"`
		Message         struct {
			Text string `json:"text"`
		} `json:"message"`
		Badges []struct {
			SetID string `json:"set_id"`
		} `json:"badges"`
	} `json:"event"`
}

// HandleTwitchWebhook ingests EventSub deliveries. The signature is verified
// before anything else; the EventSub message id becomes the command delivery
// id so webhook retries land in the same dedup journal as IRC messages.
func (h *Handlers) HandleTwitchWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.WebhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !verifyEventSubSignature(h.cfg.WebhookSecret,
		r.Header.Get(headerMessageID),
		r.Header.Get(headerMessageTimestamp),
		body,
		r.Header.Get(headerMessageSignature)) {
		slog.Warn("eventsub signature mismatch", slog.String("component", "webhook"))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env eventSubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		// Echo the challenge back as plain text to confirm the subscription.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(env.Challenge))
	case messageTypeRevocation:
		slog.Warn("eventsub subscription revoked", slog.String("type", env.Subscription.Type), slog.String("component", "webhook"))
		w.WriteHeader(http.StatusNoContent)
	case messageTypeNotification:
		h.handleEventSubNotification(w, r, env)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) handleEventSubNotification(w http.ResponseWriter, r *http.Request, env eventSubEnvelope) {
	// Twitch wants a fast 2xx; the command pipeline is quick enough to run
	// inline and keeps the dedup journal write inside the request.
	defer w.WriteHeader(http.StatusNoContent)

	if env.Subscription.Type != "channel.chat.message" || h.sink == nil {
		return
	}

	sender := commands.Sender{
		ID:   env.Event.ChatterUserID,
		Name: env.Event.ChatterUserName,
	}
	for _, b := range env.Event.Badges {
		switch b.SetID {
		case "moderator":
			sender.IsModerator = true
		case "broadcaster":
			sender.IsBroadcaster = true
		}
	}

	d, ok := chat.ParseLine(r.Header.Get(headerMessageID), env.Event.Message.Text, sender)
	if !ok {
		return
	}
	ctx := telemetry.WithCorrelation(r.Context(), r.Header.Get(headerMessageID))
	h.sink.Process(ctx, d)
}

// verifyEventSubSignature checks the HMAC-SHA256 over id + timestamp + body
// against the sha256= signature header.
func verifyEventSubSignature(secret, messageID, timestamp string, body []byte, signature string) bool {
	if messageID == "" || timestamp == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
