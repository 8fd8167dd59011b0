package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// HTTPNotifier runs a small HTTP server that accepts `POST /` with a form
// field `txid` - the transport for a remote node whose walletnotify hook
// does `curl --data "txid=%s" http://host:port/`.
type HTTPNotifier struct {
	Addr string

	handler Handler
	log     *logging.Logger
	server  *http.Server
	errCh   chan error
}

// NewHTTPNotifier builds an HTTPNotifier bound to addr (e.g. "127.0.0.1:28882").
func NewHTTPNotifier(addr string, handler Handler) *HTTPNotifier {
	return &HTTPNotifier{
		Addr:    addr,
		handler: handler,
		log:     logging.GetDefault().Component("notify-http"),
	}
}

// Start begins serving in a background goroutine.
func (h *HTTPNotifier) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handlePost)

	h.server = &http.Server{Addr: h.Addr, Handler: mux}
	h.errCh = make(chan error, 1)

	ln, err := newListener(h.Addr)
	if err != nil {
		return fmt.Errorf("notify: listen %s: %w", h.Addr, err)
	}

	go func() {
		err := h.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			h.log.Error("http notify server failed", "err", err)
			h.errCh <- err
		} else {
			h.errCh <- nil
		}
		close(h.errCh)
	}()

	h.log.Info("listening for walletnotify posts", "addr", h.Addr)
	return nil
}

// Err implements Notifier.
func (h *HTTPNotifier) Err() <-chan error { return h.errCh }

func (h *HTTPNotifier) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	txid := r.FormValue("txid")
	if txid == "" {
		http.Error(w, "missing txid", http.StatusBadRequest)
		return
	}

	if err := h.handler(r.Context(), txid); err != nil {
		h.log.Error("http notify handler failed", "txid", txid, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop shuts the HTTP server down.
func (h *HTTPNotifier) Stop() error {
	if h.server == nil {
		return nil
	}
	h.log.Info("stopping http notifier")
	return h.server.Close()
}

var _ Notifier = (*HTTPNotifier)(nil)
