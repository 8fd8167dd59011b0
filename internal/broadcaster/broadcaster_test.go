package broadcaster

import (
	"testing"

	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

func TestSumOutputsCombinesSameAddress(t *testing.T) {
	pairs := []output{
		{address: "addr1", amount: ledger.NewAmount(1000)},
		{address: "addr2", amount: ledger.NewAmount(500)},
		{address: "addr1", amount: ledger.NewAmount(250)},
	}

	sums := sumOutputs(pairs)

	if len(sums) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(sums))
	}
	if got := sums["addr1"]; got.Minor() != 1250 {
		t.Errorf("addr1 = %d, want 1250", got.Minor())
	}
	if got := sums["addr2"]; got.Minor() != 500 {
		t.Errorf("addr2 = %d, want 500", got.Minor())
	}
}

func TestSumOutputsEmpty(t *testing.T) {
	sums := sumOutputs(nil)
	if len(sums) != 0 {
		t.Errorf("expected empty map, got %v", sums)
	}
}

func TestBroadcasterCountersStartAtZero(t *testing.T) {
	b := New(nil, nil, nil, "BTC")
	if b.Cycles() != 0 || b.Sent() != 0 {
		t.Errorf("fresh broadcaster should have zero counters")
	}
}
