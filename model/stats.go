package model

import (
	"math"
	"sync"

	"github.com/aclements/go-moremath/stats"
)

// Accumulator is the per-(Context, Metric) workspace a Thread-temporary
// holds while a Source is reading (spec §3): it folds in raw sample values
// one at a time and exposes the configured PartialKinds on demand. A fresh
// Accumulator contributes nothing (Touched() is false) until the first Add.
type Accumulator struct {
	mu      sync.Mutex
	touched bool
	sum     float64
	sumSq   float64
	count   uint64
	min     float64
	max     float64
}

// Add folds one more sample value into the accumulator. Zero values are
// never passed here — the parser discards them before calling Add (spec
// §4.2 "Zero values are discarded").
func (a *Accumulator) Add(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.touched {
		a.touched = true
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.sum += v
	a.sumSq += v * v
	a.count++
}

// Touched reports whether Add has been called at least once.
func (a *Accumulator) Touched() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touched
}

// Partial returns the current value of one partial statistic.
func (a *Accumulator) Partial(kind PartialKind) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch kind {
	case PartialSum:
		return a.sum
	case PartialCount:
		return float64(a.count)
	case PartialMin:
		return a.min
	case PartialMax:
		return a.max
	case PartialSumSq:
		return a.sumSq
	default:
		return 0
	}
}

// Snapshot captures the accumulator's current partials without holding the
// lock for the caller's use (e.g. to hand to a Sink at ThreadFinal).
type Snapshot struct {
	Sum, SumSq     float64
	Count          uint64
	Min, Max       float64
	Touched        bool
}

// Snapshot returns an immutable copy of the accumulator's state.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{a.sum, a.sumSq, a.count, a.min, a.max, a.touched}
}

// Stat evaluates one derived StatKind from a snapshot's partials.
func (s Snapshot) Stat(kind StatKind) float64 {
	switch kind {
	case StatSum:
		return s.Sum
	case StatMean:
		if s.Count == 0 {
			return 0
		}
		return s.Sum / float64(s.Count)
	case StatMin:
		return s.Min
	case StatMax:
		return s.Max
	case StatStddev:
		return s.stddev()
	case StatCfVar:
		mean := s.Stat(StatMean)
		if mean == 0 {
			return 0
		}
		return s.stddev() / mean
	default:
		return 0
	}
}

func (s Snapshot) stddev() float64 {
	if s.Count == 0 {
		return 0
	}
	mean := s.Sum / float64(s.Count)
	variance := s.SumSq/float64(s.Count) - mean*mean
	if variance < 0 {
		// Rounding error in the streaming accumulation; clamp rather
		// than hand back a NaN from Sqrt of a negative.
		variance = 0
	}
	return math.Sqrt(variance)
}

// CombineSummary folds a set of per-thread snapshots for the same (Context,
// Metric) pair into the values the summary profile (profile index 0 in
// profile.db) records. It uses go-moremath's batch Sample statistics, since
// this is exactly a fixed-size-sample combination rather than a streaming
// one: one sample per contributing thread.
func CombineSummary(snaps []Snapshot) Snapshot {
	var sums, mins, maxes []float64
	var totalCount uint64
	for _, s := range snaps {
		if !s.Touched {
			continue
		}
		sums = append(sums, s.Sum)
		mins = append(mins, s.Min)
		maxes = append(maxes, s.Max)
		totalCount += s.Count
	}
	if len(sums) == 0 {
		return Snapshot{}
	}
	sumSample := stats.Sample{Xs: sums}
	minSample := stats.Sample{Xs: mins}
	maxSample := stats.Sample{Xs: maxes}

	var sumSq float64
	for _, s := range snaps {
		if s.Touched {
			sumSq += s.SumSq
		}
	}

	return Snapshot{
		Sum:     sumSample.Sum(),
		SumSq:   sumSq,
		Count:   totalCount,
		Min:     minSample.Bounds().Min,
		Max:     maxSample.Bounds().Max,
		Touched: true,
	}
}
