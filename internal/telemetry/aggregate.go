package telemetry

import (
	"math"
	"time"
)

// Bucket summarises the readings that fall in [Start, End).
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Mean  float64   `json:"mean"`
	Last  float64   `json:"last"`
}

// Summary holds descriptive statistics of a set of readings.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	First float64 `json:"first"`
	Last  float64 `json:"last"`
}

// Trend is the direction a metric moved in.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Aggregate splits [from, to) into step-wide buckets aligned to
// from.Truncate(step). Buckets without readings are kept with Count 0.
// Readings are expected in time order.
func Aggregate(readings []Reading, from, to time.Time, step time.Duration) []Bucket {
	if !to.After(from) {
		return nil
	}
	start := from
	if step <= 0 {
		step = to.Sub(from)
	} else {
		start = from.Truncate(step)
	}
	n := int(math.Ceil(float64(to.Sub(start)) / float64(step)))
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * step)
		buckets[i].End = buckets[i].Start.Add(step)
	}

	sums := make([]float64, n)
	for _, r := range readings {
		if r.Time.Before(from) || !r.Time.Before(to) {
			continue
		}
		i := int(r.Time.Sub(start) / step)
		if i < 0 || i >= n {
			continue
		}
		b := &buckets[i]
		if b.Count == 0 {
			b.Min, b.Max = r.Value, r.Value
		} else {
			b.Min = math.Min(b.Min, r.Value)
			b.Max = math.Max(b.Max, r.Value)
		}
		b.Count++
		b.Last = r.Value
		sums[i] += r.Value
	}
	for i := range buckets {
		if buckets[i].Count > 0 {
			buckets[i].Mean = sums[i] / float64(buckets[i].Count)
		}
	}
	return buckets
}

// Summarize computes statistics over readings in the given order.
func Summarize(readings []Reading) Summary {
	if len(readings) == 0 {
		return Summary{}
	}
	s := Summary{
		Count: len(readings),
		Min:   readings[0].Value,
		Max:   readings[0].Value,
		First: readings[0].Value,
		Last:  readings[len(readings)-1].Value,
	}
	sum := 0.0
	for _, r := range readings {
		s.Min = math.Min(s.Min, r.Value)
		s.Max = math.Max(s.Max, r.Value)
		sum += r.Value
	}
	s.Mean = sum / float64(len(readings))
	return s
}

// TrendOf compares current with previous; changes within epsilon are stable.
func TrendOf(previous, current, epsilon float64) Trend {
	delta := current - previous
	switch {
	case delta > epsilon:
		return TrendUp
	case delta < -epsilon:
		return TrendDown
	default:
		return TrendStable
	}
}

// SeriesTrend compares the mean of the first half of readings with the second half.
func SeriesTrend(readings []Reading, epsilon float64) Trend {
	if len(readings) < 2 {
		return TrendStable
	}
	mid := len(readings) / 2
	return TrendOf(Summarize(readings[:mid]).Mean, Summarize(readings[mid:]).Mean, epsilon)
}

// Compliance is the percentage of readings inside r, rounded to one decimal.
func Compliance(readings []Reading, r Range) float64 {
	if len(readings) == 0 {
		return 0
	}
	in := 0
	for _, reading := range readings {
		if r.Contains(reading.Value) {
			in++
		}
	}
	return Round(float64(in)*100/float64(len(readings)), 1)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
