package replayguard

import "testing"

func TestValid(t *testing.T) {
	tests := []struct {
		name          string
		newCounter    uint32
		storedCounter uint32
		want          bool
	}{
		{"strictly increasing", 2, 1, true},
		{"large jump", 1000, 1, true},
		{"first use after registration at zero", 1, 0, true},
		{"both zero (counter-less authenticator)", 0, 0, true},
		{"equal nonzero is a replay", 5, 5, false},
		{"regression is a replay", 4, 5, false},
		{"zero against advanced counter is a replay", 0, 7, false},
		{"max value accepted", 1<<32 - 1, 1<<32 - 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.newCounter, tt.storedCounter); got != tt.want {
				t.Errorf("Valid(%d, %d) = %v, want %v", tt.newCounter, tt.storedCounter, got, tt.want)
			}
		})
	}
}
