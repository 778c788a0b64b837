package cart

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/shop-scanner/internal/notify"
	"github.com/zombor/shop-scanner/internal/scan"
)

var (
	// ErrAttemptNotFound is returned for an unknown confirmation attempt ID
	ErrAttemptNotFound = errors.New("confirmation attempt not found")

	// ErrAttemptExpired is returned when an attempt outlived the gate timeout
	ErrAttemptExpired = errors.New("confirmation attempt expired")
)

// AttemptState is the position of an admission attempt in the confirmation protocol
type AttemptState string

const (
	StateIdle                  AttemptState = "idle"
	StateAwaitingSecondaryScan AttemptState = "awaiting_secondary_scan"
	StateAdmitted              AttemptState = "admitted"
	StateCancelled             AttemptState = "cancelled"
	StateExpired               AttemptState = "expired"
)

// Attempt is a single admission attempt for one record. Each attempt carries
// its own secondary-code check result.
type Attempt struct {
	ID        string           `json:"id"`
	Record    scan.Record      `json:"record"`
	State     AttemptState     `json:"state"`
	Check     scan.CheckResult `json:"check"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at,omitzero"`
	Line      *Line            `json:"line,omitempty"`
}

// Closed reports whether the attempt reached a terminal state
func (a Attempt) Closed() bool {
	return a.State == StateAdmitted || a.State == StateCancelled || a.State == StateExpired
}

// Gate runs the confirmation protocol in front of a Ledger: records that
// require a secondary code are only admitted after a valid check.
type Gate struct {
	ledger      *Ledger
	timeout     time.Duration
	idGenerator IDGenerator
	timeSource  TimeSource
	broker      *notify.Broker[Attempt]

	mu      sync.Mutex
	pending map[string]*Attempt
	order   []string
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithTimeout expires awaiting attempts after d. Zero disables expiry.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.timeout = d
	}
}

// WithGateClock overrides the time source used for expiry
func WithGateClock(ts TimeSource) GateOption {
	return func(g *Gate) {
		g.timeSource = ts
	}
}

// WithGateIDGenerator overrides attempt ID generation
func WithGateIDGenerator(gen IDGenerator) GateOption {
	return func(g *Gate) {
		g.idGenerator = gen
	}
}

// WithGateBroker publishes every attempt state change to broker
func WithGateBroker(broker *notify.Broker[Attempt]) GateOption {
	return func(g *Gate) {
		g.broker = broker
	}
}

// NewGate creates a Gate admitting into ledger
func NewGate(ledger *Ledger, opts ...GateOption) *Gate {
	g := &Gate{
		ledger:      ledger,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
		pending:     make(map[string]*Attempt),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin starts an admission attempt. Records without a secondary code are
// admitted at once; the rest wait for Confirm.
func (g *Gate) Begin(rec scan.Record) Attempt {
	now := g.timeSource.Now()
	attempt := &Attempt{
		ID:        g.idGenerator.Generate(),
		Record:    rec,
		State:     StateIdle,
		CreatedAt: now,
	}

	if !rec.RequiresSecondaryCode {
		g.admit(attempt)
		return *attempt
	}

	attempt.State = StateAwaitingSecondaryScan
	if g.timeout > 0 {
		attempt.ExpiresAt = now.Add(g.timeout)
	}

	g.mu.Lock()
	g.pending[attempt.ID] = attempt
	g.order = append(g.order, attempt.ID)
	snapshot := *attempt
	g.mu.Unlock()

	slog.Info("Secondary code required", "attempt", attempt.ID, "code", rec.Code)
	g.broker.Publish(snapshot)
	return snapshot
}

// Confirm checks scanned against the attempt's expected secondary code. A
// valid code admits the record; an invalid one leaves the attempt awaiting.
func (g *Gate) Confirm(attemptID, scanned string) (Attempt, error) {
	g.mu.Lock()
	attempt, ok := g.pending[attemptID]
	if !ok {
		g.mu.Unlock()
		return Attempt{}, ErrAttemptNotFound
	}
	if g.expiredLocked(attempt) {
		snapshot := *attempt
		g.mu.Unlock()
		g.broker.Publish(snapshot)
		return snapshot, ErrAttemptExpired
	}

	attempt.Check = scan.CheckSecondaryCode(scanned, attempt.Record.SecondaryCode)
	if attempt.Check != scan.CheckValid {
		snapshot := *attempt
		g.mu.Unlock()
		slog.Info("Secondary code rejected", "attempt", attemptID, "code", attempt.Record.Code)
		g.broker.Publish(snapshot)
		return snapshot, nil
	}
	g.removeLocked(attemptID)
	g.mu.Unlock()

	g.admit(attempt)
	return *attempt, nil
}

// ConfirmActive confirms the most recently started awaiting attempt. It
// reports false when no attempt is awaiting a secondary scan.
func (g *Gate) ConfirmActive(scanned string) (Attempt, bool, error) {
	active, ok := g.Active()
	if !ok {
		return Attempt{}, false, nil
	}
	attempt, err := g.Confirm(active.ID, scanned)
	return attempt, true, err
}

// Cancel abandons an awaiting attempt
func (g *Gate) Cancel(attemptID string) (Attempt, error) {
	g.mu.Lock()
	attempt, ok := g.pending[attemptID]
	if !ok {
		g.mu.Unlock()
		return Attempt{}, ErrAttemptNotFound
	}
	attempt.State = StateCancelled
	g.removeLocked(attemptID)
	snapshot := *attempt
	g.mu.Unlock()

	slog.Info("Confirmation cancelled", "attempt", attemptID, "code", attempt.Record.Code)
	g.broker.Publish(snapshot)
	return snapshot, nil
}

// Active returns the most recently started attempt still awaiting a scan
func (g *Gate) Active() (Attempt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.order) - 1; i >= 0; i-- {
		attempt := g.pending[g.order[i]]
		if g.expiredLocked(attempt) {
			continue
		}
		return *attempt, true
	}
	return Attempt{}, false
}

// Pending returns the attempts awaiting a secondary scan, oldest first
func (g *Gate) Pending() []Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Attempt, 0, len(g.order))
	for _, id := range append([]string(nil), g.order...) {
		attempt := g.pending[id]
		if g.expiredLocked(attempt) {
			continue
		}
		out = append(out, *attempt)
	}
	return out
}

// Sweep drops expired attempts and returns how many were dropped
func (g *Gate) Sweep() int {
	g.mu.Lock()
	var expired []Attempt
	for _, id := range append([]string(nil), g.order...) {
		attempt := g.pending[id]
		if g.expiredLocked(attempt) {
			expired = append(expired, *attempt)
		}
	}
	g.mu.Unlock()

	for _, attempt := range expired {
		g.broker.Publish(attempt)
	}
	return len(expired)
}

// expiredLocked marks and removes attempt when its deadline has passed
func (g *Gate) expiredLocked(attempt *Attempt) bool {
	if attempt.ExpiresAt.IsZero() || g.timeSource.Now().Before(attempt.ExpiresAt) {
		return false
	}
	attempt.State = StateExpired
	g.removeLocked(attempt.ID)
	slog.Info("Confirmation expired", "attempt", attempt.ID, "code", attempt.Record.Code)
	return true
}

func (g *Gate) removeLocked(attemptID string) {
	delete(g.pending, attemptID)
	for i, id := range g.order {
		if id == attemptID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

func (g *Gate) admit(attempt *Attempt) {
	line := g.ledger.Admit(attempt.Record)
	attempt.State = StateAdmitted
	attempt.Line = &line
	g.broker.Publish(*attempt)
}
