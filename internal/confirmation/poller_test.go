package confirmation

import "testing"

func TestPollerCountersStartAtZero(t *testing.T) {
	p := New(nil, nil, nil, "BTC")
	if p.Polls() != 0 || p.Updated() != 0 {
		t.Errorf("fresh poller should have zero counters")
	}
}

// TestNeedsRecheck_TracksPastBroadcasted covers spec.md's requirement that
// confirmation tracking not stop just because a network transaction has
// reached 'broadcasted' - only crossing the confirmation threshold itself
// should stop it.
func TestNeedsRecheck_TracksPastBroadcasted(t *testing.T) {
	tests := []struct {
		name          string
		confirmations int
		threshold     int
		want          bool
	}{
		{"below threshold still needs tracking", 1, 6, true},
		{"just under threshold still needs tracking", 5, 6, true},
		{"at threshold is done", 6, 6, false},
		{"past threshold is done", 50, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsRecheck(tt.confirmations, tt.threshold); got != tt.want {
				t.Errorf("needsRecheck(%d, %d) = %v, want %v", tt.confirmations, tt.threshold, got, tt.want)
			}
		})
	}
}
