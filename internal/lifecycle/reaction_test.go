package lifecycle

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want Action
	}{
		{"thumbs up", "\U0001f44d", ActionAcknowledge},
		{"thumbs up emoji presentation", "\U0001f44d\ufe0f", ActionAcknowledge},
		{"thumbs up light skin", "\U0001f44d\U0001f3fb", ActionAcknowledge},
		{"thumbs up dark skin", "\U0001f44d\U0001f3ff", ActionAcknowledge},
		{"white heavy check", "\u2705", ActionResolve},
		{"heavy check", "\u2714", ActionResolve},
		{"heavy check emoji presentation", "\u2714\ufe0f", ActionResolve},
		{"ballot box", "\u2611\ufe0f", ActionResolve},
		{"thumbs down", "\U0001f44e", ActionNone},
		{"party", "\U0001f389", ActionNone},
		{"text", "ack", ActionNone},
		{"empty", "", ActionNone},
		{"bare variation selector", "\ufe0f", ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(tt.key); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"\u2714\ufe0f", "\u2714"},
		{"\u2714\ufe0e", "\u2714"},
		{"\u2714", "\u2714"},
		{"\U0001f44d\U0001f3fd", "\U0001f44d\U0001f3fd"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolvedMarkerResolves(t *testing.T) {
	t.Parallel()

	if Classify(ResolvedMarker) != ActionResolve {
		t.Errorf("ResolvedMarker %q does not classify as resolve", ResolvedMarker)
	}
}
