package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/ledgerd/internal/config"
)

func TestPerCoinSubstitutesPlaceholder(t *testing.T) {
	assert.Equal(t, "/tmp/notify.BTC", perCoin("/tmp/notify.%s", "BTC"))
	assert.Equal(t, "/tmp/notify", perCoin("/tmp/notify", "BTC"))
}

func TestBuildEventRegistryRegistersKnownSinks(t *testing.T) {
	reg, err := buildEventRegistry([]config.EventSinkConfig{
		{Kind: "http", URL: "http://example.test/hook"},
		{Kind: "script", Script: "/bin/true"},
		{Kind: "callback"},
	})
	require.NoError(t, err)
	require.NotNil(t, reg)
}

func TestBuildEventRegistryRejectsUnknownKind(t *testing.T) {
	_, err := buildEventRegistry([]config.EventSinkConfig{{Kind: "carrier-pigeon"}})
	assert.Error(t, err)
}

func TestBuildNotifierDispatchesByKind(t *testing.T) {
	handler := func(ctx context.Context, txid string) error { return nil }

	pipe, err := buildNotifier("BTC", config.NotifierConfig{Kind: "pipe", PipePath: "/tmp/x"}, handler)
	require.NoError(t, err)
	assert.NotNil(t, pipe)

	http, err := buildNotifier("BTC", config.NotifierConfig{Kind: "http", HTTPAddr: "127.0.0.1:0"}, handler)
	require.NoError(t, err)
	assert.NotNil(t, http)

	_, err = buildNotifier("BTC", config.NotifierConfig{Kind: "unknown"}, handler)
	assert.Error(t, err)
}
