package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// PipeNotifier reads txids, one per line, from a named UNIX pipe created at
// Path - the transport a locally running bitcoind-style daemon's
// walletnotify hook writes to (`echo $1 >> path`).
type PipeNotifier struct {
	Path string
	Mode os.FileMode

	handler Handler
	log     *logging.Logger

	mu     sync.Mutex
	file   *os.File
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// NewPipeNotifier builds a PipeNotifier. mode defaults to 0600 if zero.
func NewPipeNotifier(path string, mode os.FileMode, handler Handler) *PipeNotifier {
	if mode == 0 {
		mode = 0600
	}
	return &PipeNotifier{
		Path:    path,
		Mode:    mode,
		handler: handler,
		log:     logging.GetDefault().Component("notify-pipe"),
	}
}

// Start removes any stale pipe at Path, creates a fresh one, and begins
// reading lines from it in a background goroutine.
func (p *PipeNotifier) Start(ctx context.Context) error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("notify: remove stale pipe %s: %w", p.Path, err)
	}
	if err := syscall.Mkfifo(p.Path, uint32(p.Mode)); err != nil {
		return fmt.Errorf("notify: create pipe %s: %w", p.Path, err)
	}

	// O_RDWR (not O_RDONLY) so the reader never sees EOF between writers.
	f, err := os.OpenFile(p.Path, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		return fmt.Errorf("notify: open pipe %s: %w", p.Path, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.file = f
	p.cancel = cancel
	p.errCh = make(chan error, 1)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx)

	p.log.Info("listening on pipe", "path", p.Path)
	return nil
}

func (p *PipeNotifier) run(ctx context.Context) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			p.errCh <- nil
			close(p.errCh)
			return
		}
		txid := strings.TrimSpace(scanner.Text())
		if txid == "" {
			continue
		}
		if err := p.handler(ctx, txid); err != nil {
			p.log.Error("pipe notify handler failed", "txid", txid, "err", err)
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		p.errCh <- nil
	} else {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		p.log.Error("pipe read failed", "err", err)
		p.errCh <- err
	}
	close(p.errCh)
}

// Stop closes the pipe and removes it from disk.
func (p *PipeNotifier) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	f := p.file
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if f != nil {
		f.Close()
	}
	p.wg.Wait()

	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("notify: remove pipe %s: %w", p.Path, err)
	}
	p.log.Info("stopped pipe notifier")
	return nil
}

// Err implements Notifier.
func (p *PipeNotifier) Err() <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errCh
}

var _ Notifier = (*PipeNotifier)(nil)
