package commands

import "testing"

func TestSignalRender(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
		want string
	}{
		{"no fields", Signal{Kind: SignalStop}, "[Stop]"},
		{"one field", Signal{Kind: SignalSkip, Fields: []string{"alice"}}, "[Skip] alice"},
		{"two fields", Signal{Kind: SignalQueueAdd, Fields: []string{"dQw4w9WgXcQ", "alice"}}, "[QueueAdd] dQw4w9WgXcQ alice"},
		{"empty field placeholder", Signal{Kind: SignalQueueAdd, Fields: []string{"", "alice"}}, "[QueueAdd] - alice"},
		{"spaces collapsed", Signal{Kind: SignalInstantPlay, Fields: []string{"some id", "bob"}}, "[InstantPlay] some_id bob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.Render(); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}
