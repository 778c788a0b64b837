package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/zombor/shop-scanner/internal/notify"
)

// Repository holds the records resolved during a session, in resolution order
type Repository struct {
	store      RecordStore
	collection string
	broker     *notify.Broker[Event]

	mu      sync.RWMutex
	records []Record
	index   map[string]int
	// aliases maps a requested code to the record it resolved to when the
	// document id differs from the code
	aliases map[string]int

	inflight singleflight.Group
}

// Option configures a Repository
type Option func(*Repository)

// WithCollection sets the store collection queried by Resolve
func WithCollection(collection string) Option {
	return func(r *Repository) {
		if collection != "" {
			r.collection = collection
		}
	}
}

// WithBroker publishes repository events to broker
func WithBroker(broker *notify.Broker[Event]) Option {
	return func(r *Repository) {
		r.broker = broker
	}
}

// NewRepository creates an empty Repository backed by store
func NewRepository(store RecordStore, opts ...Option) *Repository {
	r := &Repository{
		store:      store,
		collection: DefaultCollection,
		index:      make(map[string]int),
		aliases:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks code up in the record store and adds the result to the
// resolved set. Codes already resolved are not looked up again, and
// concurrent calls for the same code share one lookup. The shared lookup is
// not cancelled with ctx; a caller whose ctx ends stops waiting for it.
func (r *Repository) Resolve(ctx context.Context, code string) (Outcome, error) {
	if code == "" {
		return Outcome{}, ErrEmptyCode
	}

	if rec, ok := r.Lookup(code); ok {
		slog.Debug("Scan already resolved", "code", code)
		return Outcome{Code: code, Status: StatusDuplicate, Record: rec}, nil
	}

	lookupCtx := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan(code, func() (any, error) {
		return r.fetch(lookupCtx, code)
	})

	select {
	case <-ctx.Done():
		return Outcome{Code: code}, fmt.Errorf("resolving %s: %w", code, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Outcome{Code: code}, res.Err
		}
		return res.Val.(Outcome), nil
	}
}

// ResolveAsync runs Resolve on its own goroutine and passes the result to done, which may be nil
func (r *Repository) ResolveAsync(ctx context.Context, code string, done func(Outcome, error)) {
	go func() {
		outcome, err := r.Resolve(ctx, code)
		if done != nil {
			done(outcome, err)
		}
	}()
}

func (r *Repository) fetch(ctx context.Context, code string) (Outcome, error) {
	fields, err := r.store.Get(ctx, r.collection, code)
	if errors.Is(err, ErrNotFound) {
		slog.Info("Scan not found", "code", code, "collection", r.collection)
		return Outcome{Code: code, Status: StatusNotFound}, nil
	}
	if err != nil {
		slog.Error("Failed to resolve scan", "code", code, "collection", r.collection, "error", err)
		r.broker.Publish(Event{Kind: EventFailed, Code: code, Err: err.Error()})
		return Outcome{}, fmt.Errorf("looking up %s: %w", code, err)
	}

	rec := RecordFromFields(fields)
	if rec.Code == "" {
		slog.Info("Scan has empty id", "code", code)
		return Outcome{Code: code, Status: StatusNotFound}, nil
	}

	existing, added := r.insert(code, rec)
	if !added {
		slog.Debug("Scan already exists", "code", rec.Code, "requested", code)
		return Outcome{Code: code, Status: StatusDuplicate, Record: existing}, nil
	}

	slog.Info("Scan resolved", "code", rec.Code, "price", rec.Price, "extra_qr", rec.RequiresSecondaryCode)
	r.broker.Publish(Event{Kind: EventResolved, Code: rec.Code, Record: rec})
	return Outcome{Code: code, Status: StatusAdded, Record: rec}, nil
}

// insert appends rec unless a record with the same id exists, and makes the
// requested code an alias of the stored record. It returns the stored record
// and whether rec was appended.
func (r *Repository) insert(code string, rec Record) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[rec.Code]
	if !ok {
		i = len(r.records)
		r.index[rec.Code] = i
		r.records = append(r.records, rec)
	}
	if code != rec.Code {
		r.aliases[code] = i
	}
	return r.records[i], !ok
}

// Lookup returns the resolved record for code, which may be a document id or
// a code that resolved to a document with a different id
func (r *Repository) Lookup(code string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[code]
	if !ok {
		i, ok = r.aliases[code]
	}
	if !ok {
		return Record{}, false
	}
	return r.records[i], true
}

// Records returns the resolved records in resolution order
func (r *Repository) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of resolved records
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// CheckSecondaryCode validates a scanned secondary code. No state is kept;
// callers hold the result on their own confirmation attempt.
func (r *Repository) CheckSecondaryCode(scanned, expected string) CheckResult {
	return CheckSecondaryCode(scanned, expected)
}
