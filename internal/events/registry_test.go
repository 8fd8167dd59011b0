package events

import (
	"errors"
	"testing"
)

type recordingHandler struct {
	calls []Name
	err   error
}

func (r *recordingHandler) Trigger(name Name, data interface{}) error {
	r.calls = append(r.calls, name)
	return r.err
}

func TestRegistryDispatchFansOutToAllHandlers(t *testing.T) {
	reg := NewRegistry()
	a := &recordingHandler{}
	b := &recordingHandler{}
	reg.Register("a", a)
	reg.Register("b", b)

	reg.Dispatch(Event{Name: TxUpdate, Data: TxUpdateData{Txid: "aa"}})

	if len(a.calls) != 1 || a.calls[0] != TxUpdate {
		t.Errorf("handler a calls = %v", a.calls)
	}
	if len(b.calls) != 1 || b.calls[0] != TxUpdate {
		t.Errorf("handler b calls = %v", b.calls)
	}
}

func TestRegistryDispatchContinuesOnHandlerFailure(t *testing.T) {
	reg := NewRegistry()
	failing := &recordingHandler{err: errors.New("boom")}
	ok := &recordingHandler{}
	reg.Register("failing", failing)
	reg.Register("ok", ok)

	reg.Dispatch(Event{Name: TxUpdate, Data: TxUpdateData{Txid: "bb"}})

	if len(ok.calls) != 1 {
		t.Errorf("ok handler should still be called, got %v", ok.calls)
	}
}

func TestRegistryClearRemovesHandlers(t *testing.T) {
	reg := NewRegistry()
	h := &recordingHandler{}
	reg.Register("h", h)
	reg.Clear()

	reg.Dispatch(Event{Name: TxUpdate, Data: TxUpdateData{Txid: "cc"}})

	if len(h.calls) != 0 {
		t.Errorf("cleared handler should not be called, got %v", h.calls)
	}
}

func TestCallbackHandlerInvokesFunc(t *testing.T) {
	var gotName Name
	var gotData interface{}
	h := NewCallbackHandler(func(name Name, data interface{}) error {
		gotName = name
		gotData = data
		return nil
	})

	if err := h.Trigger(TxUpdate, "payload"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if gotName != TxUpdate || gotData != "payload" {
		t.Errorf("callback got (%v, %v)", gotName, gotData)
	}
}
