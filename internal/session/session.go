package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/shop-scanner/internal/cart"
	"github.com/zombor/shop-scanner/internal/notify"
	"github.com/zombor/shop-scanner/internal/scan"
)

// ErrUnknownCode is returned when adding a code that has not been resolved
var ErrUnknownCode = errors.New("code has not been resolved")

// Config holds session settings
type Config struct {
	// Collection is the record store collection holding products
	Collection string
	// ConfirmTimeout expires pending secondary-code confirmations; zero never expires
	ConfirmTimeout time.Duration
}

// Topic names a stream of state changes
type Topic string

const (
	TopicScans         Topic = "scans"
	TopicCart          Topic = "cart"
	TopicConfirmations Topic = "confirmations"
)

// Change is a structural change to the session state
type Change struct {
	Topic Topic `json:"topic"`
	Data  any   `json:"data"`
}

// State is the observable session state
type State struct {
	Scans   []scan.Record   `json:"scans"`
	Cart    []cart.Line     `json:"cart"`
	Total   decimal.Decimal `json:"total"`
	Pending []cart.Attempt  `json:"pending"`
}

// Session ties the scan repository, cart ledger and confirmation gate
// together for a single shopper
type Session struct {
	repo   *scan.Repository
	ledger *cart.Ledger
	gate   *cart.Gate
	router *Router

	scanEvents    *notify.Broker[scan.Event]
	cartEvents    *notify.Broker[cart.Event]
	attemptEvents *notify.Broker[cart.Attempt]
}

// New creates a Session resolving codes against store
func New(store scan.RecordStore, cfg Config) *Session {
	s := &Session{
		scanEvents:    notify.NewBroker[scan.Event](0),
		cartEvents:    notify.NewBroker[cart.Event](0),
		attemptEvents: notify.NewBroker[cart.Attempt](0),
	}
	s.repo = scan.NewRepository(store,
		scan.WithCollection(cfg.Collection),
		scan.WithBroker(s.scanEvents),
	)
	s.ledger = cart.NewLedger(cart.WithLedgerBroker(s.cartEvents))
	s.gate = cart.NewGate(s.ledger,
		cart.WithTimeout(cfg.ConfirmTimeout),
		cart.WithGateBroker(s.attemptEvents),
	)
	s.router = NewRouter(s.repo, s.gate)
	return s
}

// Run routes scanner items until items is closed or ctx is done
func (s *Session) Run(ctx context.Context, items <-chan Item) error {
	return s.router.Run(ctx, items)
}

// Recognize routes a single scanner item
func (s *Session) Recognize(ctx context.Context, item Item) {
	s.router.Handle(ctx, item)
}

// Resolve looks code up and adds it to the resolved scans
func (s *Session) Resolve(ctx context.Context, code string) (scan.Outcome, error) {
	return s.repo.Resolve(ctx, code)
}

// AddToCart starts an admission attempt for a resolved code. When the
// product needs a secondary code the scanner is re-armed for it.
func (s *Session) AddToCart(code string) (cart.Attempt, error) {
	if code == "" {
		return cart.Attempt{}, scan.ErrEmptyCode
	}
	rec, ok := s.repo.Lookup(code)
	if !ok {
		return cart.Attempt{}, fmt.Errorf("adding %s: %w", code, ErrUnknownCode)
	}

	attempt := s.gate.Begin(rec)
	if attempt.State == cart.StateAwaitingSecondaryScan {
		s.router.Rearm()
	}
	return attempt, nil
}

// Confirm checks a secondary code for a pending attempt
func (s *Session) Confirm(attemptID, code string) (cart.Attempt, error) {
	return s.gate.Confirm(attemptID, code)
}

// Cancel abandons a pending attempt. The scanner is re-armed so the product
// that was being confirmed can be scanned again straight away.
func (s *Session) Cancel(attemptID string) (cart.Attempt, error) {
	attempt, err := s.gate.Cancel(attemptID)
	if err != nil {
		return attempt, err
	}
	s.router.Rearm()
	return attempt, nil
}

// RemoveFromCart removes a cart line by ID
func (s *Session) RemoveFromCart(lineID string) (cart.Line, bool) {
	return s.ledger.Remove(lineID)
}

// Scans returns the resolved records in resolution order
func (s *Session) Scans() []scan.Record {
	return s.repo.Records()
}

// Cart returns the cart lines and the running total
func (s *Session) Cart() ([]cart.Line, decimal.Decimal) {
	return s.ledger.Lines(), s.ledger.Total()
}

// Pending returns the attempts awaiting a secondary scan
func (s *Session) Pending() []cart.Attempt {
	return s.gate.Pending()
}

// Snapshot returns the current observable state
func (s *Session) Snapshot() State {
	lines, total := s.Cart()
	return State{
		Scans:   s.Scans(),
		Cart:    lines,
		Total:   total,
		Pending: s.Pending(),
	}
}

// Sweep drops expired confirmations every interval until ctx is done
func (s *Session) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gate.Sweep()
		}
	}
}

// Subscribe returns a merged feed of scan, cart and confirmation changes.
// The cancel func stops the feed and closes the channel.
func (s *Session) Subscribe() (<-chan Change, func()) {
	scans, cancelScans := s.scanEvents.Subscribe()
	lines, cancelLines := s.cartEvents.Subscribe()
	attempts, cancelAttempts := s.attemptEvents.Subscribe()

	out := make(chan Change, notify.DefaultBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer cancelAttempts()
		defer cancelLines()
		defer cancelScans()

		for {
			var change Change
			select {
			case <-done:
				return
			case ev, ok := <-scans:
				if !ok {
					return
				}
				change = Change{Topic: TopicScans, Data: ev}
			case ev, ok := <-lines:
				if !ok {
					return
				}
				change = Change{Topic: TopicCart, Data: ev}
			case ev, ok := <-attempts:
				if !ok {
					return
				}
				change = Change{Topic: TopicConfirmations, Data: ev}
			}

			select {
			case out <- change:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() { close(done) })
	}
}

// Close stops all change feeds
func (s *Session) Close() {
	s.scanEvents.Close()
	s.cartEvents.Close()
	s.attemptEvents.Close()
}
