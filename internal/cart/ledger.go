package cart

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/shop-scanner/internal/notify"
	"github.com/zombor/shop-scanner/internal/scan"
)

// Line is a scan record admitted into the cart. Scanning the same product
// twice yields two lines with distinct IDs.
type Line struct {
	ID                    string    `json:"id"`
	Code                  string    `json:"code"`
	Price                 string    `json:"price"`
	Description           string    `json:"description"`
	NutritionSummary      string    `json:"nutrition_summary"`
	EnergyValue           string    `json:"energy_value"`
	RequiresSecondaryCode bool      `json:"requires_secondary_code"`
	SecondaryCode         string    `json:"secondary_code,omitempty"`
	AddedAt               time.Time `json:"added_at"`
}

// ParsePrice converts a stored price string to a decimal amount.
// Empty or malformed prices count as zero.
func ParsePrice(price string) decimal.Decimal {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IDGenerator generates unique IDs for cart lines and confirmation attempts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// EventKind identifies a cart notification
type EventKind string

const (
	EventAdmitted EventKind = "admitted"
	EventRemoved  EventKind = "removed"
)

// Event is published whenever a line enters or leaves the cart
type Event struct {
	Kind  EventKind       `json:"kind"`
	Line  Line            `json:"line"`
	Total decimal.Decimal `json:"total"`
}

// Ledger holds the cart lines and their running total
type Ledger struct {
	idGenerator IDGenerator
	timeSource  TimeSource
	broker      *notify.Broker[Event]

	mu    sync.RWMutex
	lines []Line
	total decimal.Decimal
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithLedgerBroker publishes cart events to broker
func WithLedgerBroker(broker *notify.Broker[Event]) LedgerOption {
	return func(l *Ledger) {
		l.broker = broker
	}
}

// WithIDGenerator overrides line ID generation
func WithIDGenerator(gen IDGenerator) LedgerOption {
	return func(l *Ledger) {
		l.idGenerator = gen
	}
}

// WithClock overrides the time source used for AddedAt
func WithClock(ts TimeSource) LedgerOption {
	return func(l *Ledger) {
		l.timeSource = ts
	}
}

// NewLedger creates an empty Ledger
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
		total:       decimal.Zero,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit copies rec into a new cart line and adds its price to the total.
// It performs no secondary-code check; see Gate.
func (l *Ledger) Admit(rec scan.Record) Line {
	line := Line{
		ID:                    l.idGenerator.Generate(),
		Code:                  rec.Code,
		Price:                 rec.Price,
		Description:           rec.Description,
		NutritionSummary:      rec.NutritionSummary,
		EnergyValue:           rec.EnergyValue,
		RequiresSecondaryCode: rec.RequiresSecondaryCode,
		SecondaryCode:         rec.SecondaryCode,
		AddedAt:               l.timeSource.Now(),
	}

	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.total = l.total.Add(ParsePrice(line.Price))
	total := l.total
	l.mu.Unlock()

	slog.Info("Added to cart", "line", line.ID, "code", line.Code, "price", line.Price, "total", total.String())
	l.broker.Publish(Event{Kind: EventAdmitted, Line: line, Total: total})
	return line
}

// Remove deletes the line with the given ID and subtracts its price from the
// total. It reports false and changes nothing when no such line exists.
func (l *Ledger) Remove(lineID string) (Line, bool) {
	l.mu.Lock()
	idx := -1
	for i := range l.lines {
		if l.lines[i].ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return Line{}, false
	}
	line := l.lines[idx]
	l.lines = append(l.lines[:idx], l.lines[idx+1:]...)
	l.total = l.total.Sub(ParsePrice(line.Price))
	total := l.total
	l.mu.Unlock()

	slog.Info("Removed from cart", "line", line.ID, "code", line.Code, "total", total.String())
	l.broker.Publish(Event{Kind: EventRemoved, Line: line, Total: total})
	return line, true
}

// Line returns the cart line with the given ID
func (l *Ledger) Line(lineID string) (Line, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, line := range l.lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return Line{}, false
}

// Lines returns the cart lines in admission order
func (l *Ledger) Lines() []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// Total returns the running total
func (l *Ledger) Total() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Len returns the number of cart lines
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}
