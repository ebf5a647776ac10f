package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultSeriesCapacity = 2048
	defaultMaxSeries      = 1024
)

// ErrTooManySeries is returned when a reading would open a series beyond the store limit.
var ErrTooManySeries = errors.New("too many series")

// Store keeps the most recent readings of every series in memory.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	maxSeries int
	series    map[string]*ring
}

// ring grows up to capacity before it starts overwriting.
type ring struct {
	buf      []Reading
	capacity int
	next     int
	last     Reading
}

func (rg *ring) push(r Reading) {
	if len(rg.buf) < rg.capacity {
		rg.buf = append(rg.buf, r)
		return
	}
	rg.buf[rg.next] = r
	rg.next = (rg.next + 1) % len(rg.buf)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithCapacity sets how many readings each series retains.
func WithCapacity(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMaxSeries caps how many distinct series the store tracks.
func WithMaxSeries(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSeries = n
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		capacity:  defaultSeriesCapacity,
		maxSeries: defaultMaxSeries,
		series:    make(map[string]*ring),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records r, evicting the oldest reading of its series when full.
// A reading for a new series fails with ErrTooManySeries once the store
// holds its maximum number of series.
func (s *Store) Append(r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	rg, ok := s.series[key]
	if !ok {
		if len(s.series) >= s.maxSeries {
			return fmt.Errorf("%w: limit %d reached, %s refused", ErrTooManySeries, s.maxSeries, key)
		}
		rg = &ring{capacity: s.capacity}
		s.series[key] = rg
	}
	rg.push(r)
	if rg.last.Time.IsZero() || !r.Time.Before(rg.last.Time) {
		rg.last = r
	}
	return nil
}

// Latest returns the newest reading of a series.
func (s *Store) Latest(sensorID string, metric Metric) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rg, ok := s.series[SeriesKey(sensorID, metric)]
	if !ok {
		return Reading{}, false
	}
	return rg.last, true
}

// LatestAll returns the newest reading of every series ordered by series key.
func (s *Store) LatestAll() []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reading, 0, len(s.series))
	for _, rg := range s.series {
		out = append(out, rg.last)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// LatestByMetric returns the newest reading of metric across all sensors.
func (s *Store) LatestByMetric(metric Metric) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best Reading
	found := false
	for _, rg := range s.series {
		if rg.last.Metric != metric {
			continue
		}
		if !found || rg.last.Time.After(best.Time) {
			best = rg.last
			found = true
		}
	}
	return best, found
}

// Range returns readings of a series with from <= t < to in time order.
// A zero to means no upper bound.
func (s *Store) Range(sensorID string, metric Metric, from, to time.Time) []Reading {
	s.mu.RLock()
	rg, ok := s.series[SeriesKey(sensorID, metric)]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	out := rg.collect(from, to)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// RangeByMetric merges the readings of metric from every sensor.
func (s *Store) RangeByMetric(metric Metric, from, to time.Time) []Reading {
	s.mu.RLock()
	var out []Reading
	for _, rg := range s.series {
		if rg.last.Metric != metric {
			continue
		}
		out = append(out, rg.collect(from, to)...)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Series lists the keys of all known series.
func (s *Store) Series() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports how many readings a series currently holds.
func (s *Store) Len(sensorID string, metric Metric) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rg, ok := s.series[SeriesKey(sensorID, metric)]
	if !ok {
		return 0
	}
	return rg.size()
}

func (rg *ring) size() int {
	return len(rg.buf)
}

func (rg *ring) collect(from, to time.Time) []Reading {
	n := rg.size()
	out := make([]Reading, 0, n)
	for i := 0; i < n; i++ {
		r := rg.buf[(rg.next+i)%n]
		if r.Time.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Time.Before(to) {
			continue
		}
		out = append(out, r)
	}
	// late arrivals sit in arrival order in the ring
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
