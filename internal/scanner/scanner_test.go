package scanner

import (
	"testing"

	"github.com/klingon-exchange/ledgerd/internal/backend"
)

func TestTouchesAny(t *testing.T) {
	known := map[string]bool{"addr-a": true}

	details := []backend.TxDetail{{Address: "addr-z"}, {Address: "addr-a"}}
	if !touchesAny(details, known) {
		t.Errorf("expected touchesAny to find addr-a")
	}

	details = []backend.TxDetail{{Address: "addr-z"}, {Address: "addr-y"}}
	if touchesAny(details, known) {
		t.Errorf("expected touchesAny to find nothing")
	}
}

func TestTouchesAnyEmpty(t *testing.T) {
	if touchesAny(nil, map[string]bool{"addr-a": true}) {
		t.Errorf("expected touchesAny(nil, ...) to be false")
	}
}

func TestScannerCountersStartAtZero(t *testing.T) {
	s := New(nil, nil, nil, "BTC")
	if s.Seen() != 0 || s.Handled() != 0 {
		t.Errorf("fresh scanner should have zero counters")
	}
}
