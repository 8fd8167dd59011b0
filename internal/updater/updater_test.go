package updater

import (
	"testing"

	"github.com/klingon-exchange/ledgerd/internal/backend"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
)

func TestSumReceivedByAddressFiltersSends(t *testing.T) {
	details := []backend.TxDetail{
		{Address: "addr1", Amount: ledger.NewAmount(1000), IsSend: false},
		{Address: "addr1", Amount: ledger.NewAmount(500), IsSend: false},
		{Address: "addr2", Amount: ledger.NewAmount(250), IsSend: false},
		{Address: "addr3", Amount: ledger.NewAmount(9999), IsSend: true},
	}

	sums := sumReceivedByAddress(details)

	if len(sums) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(sums))
	}
	if got := sums["addr1"]; got.Minor() != 1500 {
		t.Errorf("addr1 sum = %d, want 1500", got.Minor())
	}
	if got := sums["addr2"]; got.Minor() != 250 {
		t.Errorf("addr2 sum = %d, want 250", got.Minor())
	}
	if _, ok := sums["addr3"]; ok {
		t.Errorf("addr3 (a send) should have been filtered out")
	}
}

func TestSumReceivedByAddressEmpty(t *testing.T) {
	sums := sumReceivedByAddress(nil)
	if len(sums) != 0 {
		t.Errorf("expected empty map, got %v", sums)
	}
}

func TestValueOrEmpty(t *testing.T) {
	if got := valueOrEmpty(nil); got != "" {
		t.Errorf("valueOrEmpty(nil) = %q, want empty", got)
	}
	s := "abc"
	if got := valueOrEmpty(&s); got != "abc" {
		t.Errorf("valueOrEmpty(&s) = %q, want abc", got)
	}
}

// TestConfirmationsChanged_Idempotence covers spec's idempotent-notify law:
// re-delivering a wallet-notify event at the same confirmation count a
// second time must not be treated as a change, so the updater never
// reprocesses a txid it has already fully handled.
func TestConfirmationsChanged_Idempotence(t *testing.T) {
	tests := []struct {
		name     string
		created  bool
		stored   int
		observed int
		want     bool
	}{
		{"brand new row always changed, even at zero confirmations", true, 0, 0, true},
		{"existing row, same confirmations is a no-op", false, 3, 3, false},
		{"existing row, more confirmations is a change", false, 3, 4, true},
		{"existing row, fewer confirmations (reorg) keeps stored value", false, 4, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := confirmationsChanged(tt.created, tt.stored, tt.observed); got != tt.want {
				t.Errorf("confirmationsChanged(%v, %d, %d) = %v, want %v", tt.created, tt.stored, tt.observed, got, tt.want)
			}
		})
	}
}

// TestDepositShouldCredit_ExactlyOnce covers the "credit a deposit exactly
// once" invariant: once a deposit has reached 'processed', no further
// confirmation re-observation should credit it again, no matter how many
// confirmations are reported.
func TestDepositShouldCredit_ExactlyOnce(t *testing.T) {
	tests := []struct {
		name          string
		current       ledger.TransactionState
		confirmations int
		threshold     int
		want          bool
	}{
		{"incoming below threshold", ledger.TxStateIncoming, 1, 3, false},
		{"incoming at threshold credits", ledger.TxStateIncoming, 3, 3, true},
		{"incoming above threshold credits", ledger.TxStateIncoming, 10, 3, true},
		{"already processed never credits again", ledger.TxStateProcessed, 100, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := depositShouldCredit(tt.current, tt.confirmations, tt.threshold); got != tt.want {
				t.Errorf("depositShouldCredit(%v, %d, %d) = %v, want %v", tt.current, tt.confirmations, tt.threshold, got, tt.want)
			}
		})
	}
}
