package status

import (
	"encoding/json"
	"testing"
)

func TestWalletViewMarshalsBalanceAsString(t *testing.T) {
	v := walletView{ID: "w1", Coin: "BTC", Name: "main", Balance: "1.5"}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["balance"] != "1.5" {
		t.Errorf("balance = %v, want \"1.5\"", decoded["balance"])
	}
}
