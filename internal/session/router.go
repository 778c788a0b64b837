package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/zombor/shop-scanner/internal/cart"
	"github.com/zombor/shop-scanner/internal/scan"
)

// ItemKind tells barcode recognitions apart from text recognitions
type ItemKind string

const (
	KindBarcode ItemKind = "barcode"
	KindText    ItemKind = "text"
)

// Item is a recognized item event produced by the scanner
type Item struct {
	Kind    ItemKind `json:"kind"`
	Payload string   `json:"payload"`
}

// Router feeds recognized barcodes into the session. A code is either the
// secondary scan for the active confirmation or a product to resolve.
//
// While any confirmation is awaiting its secondary scan, every barcode goes
// to that confirmation and no products are resolved. Scanning resumes once
// the attempt is admitted, cancelled or expired (see Config.ConfirmTimeout).
type Router struct {
	repo *scan.Repository
	gate *cart.Gate

	mu   sync.Mutex
	last string
}

// NewRouter creates a Router dispatching to repo and gate
func NewRouter(repo *scan.Repository, gate *cart.Gate) *Router {
	return &Router{repo: repo, gate: gate}
}

// Run consumes items in arrival order until items is closed or ctx is done
func (r *Router) Run(ctx context.Context, items <-chan Item) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			r.Handle(ctx, item)
		}
	}
}

// Handle processes a single recognized item. Text items, empty payloads and
// repeats of the most recent code are ignored.
func (r *Router) Handle(ctx context.Context, item Item) {
	if item.Kind != KindBarcode || item.Payload == "" {
		return
	}

	r.mu.Lock()
	if item.Payload == r.last {
		r.mu.Unlock()
		return
	}
	r.last = item.Payload
	r.mu.Unlock()

	slog.Debug("Scanned barcode", "code", item.Payload)

	attempt, handled, err := r.gate.ConfirmActive(item.Payload)
	if handled {
		if err != nil {
			slog.Warn("Secondary scan not accepted", "attempt", attempt.ID, "error", err)
			return
		}
		slog.Info("Secondary scan checked", "attempt", attempt.ID, "check", attempt.Check.String(), "state", string(attempt.State))
		return
	}

	r.repo.ResolveAsync(ctx, item.Payload, func(outcome scan.Outcome, err error) {
		if err != nil {
			// already logged by the repository
			return
		}
		slog.Debug("Scan routed", "code", outcome.Code, "status", string(outcome.Status))
	})
}

// Rearm forgets the most recent code so the next scan is handled even if it
// repeats it
func (r *Router) Rearm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = ""
}

// LineReader reads newline-terminated codes, as sent by scanners in keyboard
// mode, and emits them as barcode items until src is exhausted or ctx is done
func LineReader(ctx context.Context, src io.Reader, out chan<- Item) error {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		code := strings.TrimRight(scanner.Text(), "\r")
		if code == "" {
			continue
		}
		select {
		case out <- Item{Kind: KindBarcode, Payload: code}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading scanner input: %w", err)
	}
	return nil
}
