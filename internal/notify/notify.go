// Package notify implements the inbound wallet-notify transports: the
// listeners a backend's node (or a hosted provider pushing webhooks) uses
// to tell the service "txid changed, go look". Every transport funnels into
// the same Handler callback, normally updater.Updater.HandleWalletNotify.
package notify

import "context"

// Handler is called once per observed txid. Implementations must be safe to
// call concurrently: a transport may deliver several notifications at once.
type Handler func(ctx context.Context, txid string) error

// Notifier is a background listener that calls Handler for every txid it
// observes. Start must return once listening has begun (or failed); Stop
// must be safe to call even if Start failed or was never called.
type Notifier interface {
	Start(ctx context.Context) error
	Stop() error

	// Err returns a channel that receives exactly one value as the
	// notifier's background listener exits: nil if Stop caused the exit,
	// a non-nil error if the transport died on its own. The service loop
	// treats the latter as a critical-thread failure and shuts down non-zero,
	// per the supervision policy in the service package.
	Err() <-chan error
}
