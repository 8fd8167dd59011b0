package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// WebsocketNotifier subscribes to a hosted wallet provider's push feed over
// a long-lived websocket connection - the transport for backends whose
// walletnotify equivalent is a server-initiated push rather than a
// configured webhook (the Blockbook-style hosted API backend).
type WebsocketNotifier struct {
	URL string

	handler Handler
	log     *logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// NewWebsocketNotifier builds a WebsocketNotifier that dials url on Start.
func NewWebsocketNotifier(url string, handler Handler) *WebsocketNotifier {
	return &WebsocketNotifier{
		URL:     url,
		handler: handler,
		log:     logging.GetDefault().Component("notify-websocket"),
	}
}

// addressMessage is the subset of the provider's push message this notifier
// understands: {"type": "address", "data": {"txid": "..."}}. Messages of
// any other type are ignored.
type addressMessage struct {
	Type string `json:"type"`
	Data struct {
		Txid string `json:"txid"`
	} `json:"data"`
}

// Start dials the feed and begins reading messages in a background goroutine.
func (w *WebsocketNotifier) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", w.URL, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.errCh = make(chan error, 1)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(runCtx)

	w.log.Info("connected to websocket notify feed", "url", w.URL)
	return nil
}

func (w *WebsocketNotifier) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				w.errCh <- nil
			} else {
				w.log.Error("websocket read failed", "err", err)
				w.errCh <- err
			}
			close(w.errCh)
			return
		}

		var msg addressMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.log.Warn("discarding unparseable websocket message", "err", err)
			continue
		}
		if msg.Type != "address" || msg.Data.Txid == "" {
			continue
		}
		if err := w.handler(ctx, msg.Data.Txid); err != nil {
			w.log.Error("websocket notify handler failed", "txid", msg.Data.Txid, "err", err)
		}
	}
}

// Stop closes the connection and waits for the read loop to exit.
func (w *WebsocketNotifier) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	conn := w.conn
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	w.wg.Wait()
	w.log.Info("stopped websocket notifier")
	return nil
}

// Err implements Notifier.
func (w *WebsocketNotifier) Err() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errCh
}

var _ Notifier = (*WebsocketNotifier)(nil)
