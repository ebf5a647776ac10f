package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxBatchSize caps the readings accepted in one batch.
const MaxBatchSize = 500

// ErrBatchTooLarge is returned for batches above MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d readings", MaxBatchSize)

// Sink receives validated readings, typically for persistence.
type Sink interface {
	WriteReadings(ctx context.Context, readings []Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, readings []Reading) error

// WriteReadings calls f.
func (f SinkFunc) WriteReadings(ctx context.Context, readings []Reading) error {
	return f(ctx, readings)
}

// Rejection pairs a batch index with the reason it was refused.
type Rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult reports the outcome of IngestBatch.
type BatchResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// IngestStats are running counters of the ingestor.
type IngestStats struct {
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	SinkErrors uint64 `json:"sinkErrors"`
	Dropped    uint64 `json:"dropped"`
}

// Ingestor validates readings, keeps them in a Store and forwards them to sinks and subscribers.
type Ingestor struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink
	subs  map[int]chan Reading
	next  int

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	sinkErrors atomic.Uint64
	dropped    atomic.Uint64
}

// IngestorOption customises an Ingestor.
type IngestorOption func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp and validate readings.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithSink registers a sink at construction.
func WithSink(s Sink) IngestorOption {
	return func(i *Ingestor) {
		if s != nil {
			i.sinks = append(i.sinks, s)
		}
	}
}

// NewIngestor creates an Ingestor writing into store.
func NewIngestor(store *Store, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		subs:   make(map[int]chan Reading),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// AddSink registers an additional sink.
func (in *Ingestor) AddSink(s Sink) {
	if s == nil {
		return
	}
	in.mu.Lock()
	in.sinks = append(in.sinks, s)
	in.mu.Unlock()
}

// Store exposes the backing store.
func (in *Ingestor) Store() *Store {
	return in.store
}

// Ingest validates and records a single reading.
func (in *Ingestor) Ingest(ctx context.Context, r Reading) error {
	if err := in.admit(&r, in.now()); err != nil {
		in.rejected.Add(1)
		return err
	}
	in.commit(ctx, []Reading{r})
	return nil
}

// IngestBatch records every valid reading of rs and reports the rest.
func (in *Ingestor) IngestBatch(ctx context.Context, rs []Reading) (BatchResult, error) {
	if len(rs) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}
	now := in.now()
	valid := make([]Reading, 0, len(rs))
	var result BatchResult
	for i := range rs {
		r := rs[i]
		if err := in.admit(&r, now); err != nil {
			result.Rejected = append(result.Rejected, Rejection{Index: i, Error: err.Error()})
			continue
		}
		valid = append(valid, r)
	}
	in.rejected.Add(uint64(len(result.Rejected)))
	result.Accepted = len(valid)
	if len(valid) > 0 {
		in.commit(ctx, valid)
	}
	return result, nil
}

// admit validates r and records it in the store.
func (in *Ingestor) admit(r *Reading, now time.Time) error {
	if err := Validate(r, now); err != nil {
		return err
	}
	return in.store.Append(*r)
}

// commit forwards stored readings to subscribers and sinks.
func (in *Ingestor) commit(ctx context.Context, rs []Reading) {
	in.accepted.Add(uint64(len(rs)))

	in.mu.RLock()
	sinks := append([]Sink(nil), in.sinks...)
	for _, r := range rs {
		for _, ch := range in.subs {
			select {
			case ch <- r:
			default:
				in.dropped.Add(1)
			}
		}
	}
	in.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.WriteReadings(ctx, rs); err != nil {
			in.sinkErrors.Add(1)
			if !errors.Is(err, context.Canceled) {
				in.logger.Warn("telemetry sink write failed", zap.Int("readings", len(rs)), zap.Error(err))
			}
		}
	}
}

// Subscribe returns a channel receiving every accepted reading. Readings are
// dropped for a subscriber whose buffer is full. cancel closes the channel.
func (in *Ingestor) Subscribe(buffer int) (<-chan Reading, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Reading, buffer)
	in.mu.Lock()
	id := in.next
	in.next++
	in.subs[id] = ch
	in.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			in.mu.Lock()
			delete(in.subs, id)
			in.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Stats returns the running counters.
func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Accepted:   in.accepted.Load(),
		Rejected:   in.rejected.Load(),
		SinkErrors: in.sinkErrors.Load(),
		Dropped:    in.dropped.Load(),
	}
}
