package notify

import (
	"encoding/json"
	"testing"
)

func TestAddressMessageUnmarshal(t *testing.T) {
	raw := []byte(`{"type":"address","data":{"txid":"abc123"}}`)

	var msg addressMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "address" {
		t.Errorf("type = %q, want \"address\"", msg.Type)
	}
	if msg.Data.Txid != "abc123" {
		t.Errorf("txid = %q, want \"abc123\"", msg.Data.Txid)
	}
}

func TestAddressMessageIgnoresOtherTypes(t *testing.T) {
	raw := []byte(`{"type":"block","data":{"hash":"deadbeef"}}`)

	var msg addressMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type == "address" {
		t.Errorf("unexpected address type for block message")
	}
}
