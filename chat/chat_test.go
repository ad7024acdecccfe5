package chat

import (
	"testing"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/lurkbot/commands"
)

func TestParseLine(t *testing.T) {
	sender := commands.Sender{ID: "42", Name: "alice"}
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantCmd  string
		wantArgs string
	}{
		{"plain chat", "hello there", false, "", ""},
		{"bare command", "!points", true, "points", ""},
		{"command with args", "!buy Posture Check", true, "buy", "Posture Check"},
		{"leading whitespace", "  !points  ", true, "points", ""},
		{"args trimmed", "!msg   hi all  ", true, "msg", "hi all"},
		{"lone bang", "!", false, "", ""},
		{"bang with space", "! points", false, "", ""},
		{"empty", "", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ParseLine("m1", tt.text, sender)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if d.Command != tt.wantCmd {
				t.Errorf("Command = %q, want %q", d.Command, tt.wantCmd)
			}
			if d.Args != tt.wantArgs {
				t.Errorf("Args = %q, want %q", d.Args, tt.wantArgs)
			}
			if d.DeliveryID != "m1" {
				t.Errorf("DeliveryID = %q, want m1", d.DeliveryID)
			}
			if d.Sender != sender {
				t.Errorf("Sender = %+v, want %+v", d.Sender, sender)
			}
		})
	}
}

func TestSenderFromMessage(t *testing.T) {
	msg := twitch.PrivateMessage{
		User: twitch.User{
			ID:          "42",
			Name:        "alice",
			DisplayName: "Alice",
			Badges:      map[string]int{"moderator": 1},
		},
	}
	s := senderFromMessage(msg)
	if s.ID != "42" || s.Name != "Alice" {
		t.Errorf("sender = %+v", s)
	}
	if !s.IsModerator || s.IsBroadcaster {
		t.Errorf("roles = mod:%v broadcaster:%v, want mod only", s.IsModerator, s.IsBroadcaster)
	}
}

func TestSenderFromMessageBroadcaster(t *testing.T) {
	msg := twitch.PrivateMessage{
		User: twitch.User{
			ID:     "1",
			Name:   "streamer",
			Badges: map[string]int{"broadcaster": 1},
		},
	}
	s := senderFromMessage(msg)
	if s.Name != "streamer" {
		t.Errorf("Name = %q, want fallback to login", s.Name)
	}
	if !s.IsBroadcaster {
		t.Error("broadcaster badge not detected")
	}
}
