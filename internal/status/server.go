// Package status exposes a minimal read-only HTTP inspection surface: wallet
// balances, open broadcasts awaiting reconciliation, and the conflict
// resolver's retry counters. It has no ledger-mutation authority - every
// handler only reads.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/klingon-exchange/ledgerd/internal/broadcaster"
	"github.com/klingon-exchange/ledgerd/internal/conflict"
	"github.com/klingon-exchange/ledgerd/internal/ledger"
	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Server serves the status endpoints.
type Server struct {
	addr         string
	store        *ledger.Store
	resolver     *conflict.Resolver
	broadcasters map[string]*broadcaster.Broadcaster
	log          *logging.Logger

	server   *http.Server
	listener net.Listener
}

// New builds a Server bound to addr. broadcasters is keyed by coin symbol.
func New(addr string, store *ledger.Store, resolver *conflict.Resolver, broadcasters map[string]*broadcaster.Broadcaster) *Server {
	return &Server{
		addr:         addr,
		store:        store,
		resolver:     resolver,
		broadcasters: broadcasters,
		log:          logging.GetDefault().Component("status"),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /wallets", s.handleWallets)
	mux.HandleFunc("GET /broadcasts/interrupted", s.handleInterrupted)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server error", "error", err)
		}
	}()

	s.log.Info("status server listening", "addr", s.addr)
	return nil
}

// Stop shuts the server down, waiting up to 5 seconds for in-flight requests.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type resolverStatus struct {
	Attempts  int64 `json:"attempts"`
	Conflicts int64 `json:"conflicts"`
	Failures  int64 `json:"failures"`
}

type broadcasterStatus struct {
	Cycles int64 `json:"cycles"`
	Sent   int64 `json:"sent"`
}

type statusResponse struct {
	Resolver     resolverStatus               `json:"resolver"`
	Broadcasters map[string]broadcasterStatus `json:"broadcasters"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Resolver: resolverStatus{
			Attempts:  s.resolver.Attempts(),
			Conflicts: s.resolver.Conflicts(),
			Failures:  s.resolver.Failures(),
		},
		Broadcasters: make(map[string]broadcasterStatus, len(s.broadcasters)),
	}
	for coin, b := range s.broadcasters {
		resp.Broadcasters[coin] = broadcasterStatus{Cycles: b.Cycles(), Sent: b.Sent()}
	}
	writeJSON(w, resp)
}

type walletView struct {
	ID      string `json:"id"`
	Coin    string `json:"coin"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.ListWallets(r.Context(), s.store.DB())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]walletView, 0, len(wallets))
	for _, wlt := range wallets {
		out = append(out, walletView{
			ID:      wlt.ID,
			Coin:    wlt.Coin,
			Name:    wlt.Name,
			Balance: wlt.Balance.String(),
		})
	}
	writeJSON(w, out)
}

type interruptedView struct {
	ID       string     `json:"id"`
	OpenedAt *time.Time `json:"opened_at"`
}

type coinBroadcastStatus struct {
	Interrupted []interruptedView `json:"interrupted"`
	Unopened    []string          `json:"unopened"`
}

// handleInterrupted reports every broadcast the exactly-once send state
// machine can get stuck on: "interrupted" rows were opened but never
// closed (the send may or may not have reached the network), "unopened"
// rows had their children collected but never reached OpenBroadcast at all
// (the scheduler retries these automatically; they are listed here for
// visibility, not because they need manual reconciliation).
func (s *Server) handleInterrupted(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]coinBroadcastStatus, len(s.broadcasters))
	for coin, b := range s.broadcasters {
		interrupted, err := b.ListInterrupted(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]interruptedView, 0, len(interrupted))
		for _, n := range interrupted {
			views = append(views, interruptedView{ID: n.ID, OpenedAt: n.OpenedAt})
		}

		unopened, err := b.ListUnopened(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ids := make([]string, 0, len(unopened))
		for _, n := range unopened {
			ids = append(ids, n.ID)
		}

		out[coin] = coinBroadcastStatus{Interrupted: views, Unopened: ids}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
