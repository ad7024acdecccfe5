package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/lurkbot/commands"
	"github.com/onnwee/lurkbot/config"
)

type recordingSink struct {
	deliveries []commands.Delivery
}

func (s *recordingSink) Process(ctx context.Context, d commands.Delivery) {
	s.deliveries = append(s.deliveries, d)
}

func signEventSub(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, secret, msgType, msgID string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twitch", bytes.NewReader(body))
	ts := "2025-06-01T12:00:00Z"
	req.Header.Set(headerMessageID, msgID)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set(headerMessageType, msgType)
	req.Header.Set(headerMessageSignature, signEventSub(secret, msgID, ts, body))
	return req
}

func newWebhookHandlers(sink CommandSink) *Handlers {
	return &Handlers{
		cfg:  &config.Config{WebhookSecret: "s3cret"},
		sink: sink,
	}
}

func TestWebhookChallengeEcho(t *testing.T) {
	h := newWebhookHandlers(nil)
	body := []byte(`{"challenge":"pong-123","subscription":{"type":"channel.chat.message"}}`)
	req := webhookRequest(t, "s3cret", messageTypeVerification, "msg-1", body)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "pong-123" {
		t.Errorf("body = %q, want challenge echoed", got)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	h := newWebhookHandlers(nil)
	body := []byte(`{"challenge":"x"}`)
	req := webhookRequest(t, "wrong-secret", messageTypeVerification, "msg-1", body)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookMissingSignatureHeaders(t *testing.T) {
	h := newWebhookHandlers(nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twitch", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookNotificationFeedsSink(t *testing.T) {
	sink := &recordingSink{}
	h := newWebhookHandlers(sink)
	body := []byte(`{
		"subscription": {"type": "channel.chat.message"},
		"event": {
			"chatter_user_id": "42",
			"chatter_user_name": "alice",
			"message": {"text": "!points"},
			"badges": [{"set_id": "moderator"}]
		}
	}`)
	req := webhookRequest(t, "s3cret", messageTypeNotification, "msg-42", body)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(sink.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sink.deliveries))
	}
	d := sink.deliveries[0]
	if d.DeliveryID != "msg-42" {
		t.Errorf("DeliveryID = %q, want the EventSub message id", d.DeliveryID)
	}
	if d.Command != "points" || d.Sender.ID != "42" || d.Sender.Name != "alice" {
		t.Errorf("delivery = %+v", d)
	}
	if !d.Sender.IsModerator {
		t.Error("moderator badge not mapped")
	}
}

func TestWebhookNotificationIgnoresPlainChat(t *testing.T) {
	sink := &recordingSink{}
	h := newWebhookHandlers(sink)
	body := []byte(`{
		"subscription": {"type": "channel.chat.message"},
		"event": {"chatter_user_id": "42", "chatter_user_name": "alice", "message": {"text": "just chatting"}}
	}`)
	req := webhookRequest(t, "s3cret", messageTypeNotification, "msg-43", body)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(sink.deliveries) != 0 {
		t.Errorf("plain chat must not reach the sink, got %d", len(sink.deliveries))
	}
}

func TestWebhookRevocation(t *testing.T) {
	h := newWebhookHandlers(nil)
	body := []byte(`{"subscription":{"type":"channel.chat.message"}}`)
	req := webhookRequest(t, "s3cret", messageTypeRevocation, "msg-9", body)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestWebhookUnconfigured(t *testing.T) {
	h := &Handlers{cfg: &config.Config{}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twitch", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	h := newWebhookHandlers(nil)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/twitch", nil)
	rec := httptest.NewRecorder()

	h.HandleTwitchWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
