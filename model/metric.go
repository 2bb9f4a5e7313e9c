package model

import "sync"

// MetricScope is one of the three scope variants a Metric can support (spec
// §3): values attributed exactly at a point, inclusive of a whole function,
// or inclusive of the entire execution.
type MetricScope uint8

const (
	ScopePointVariant MetricScope = 1 << iota
	ScopeFunctionVariant
	ScopeExecutionVariant
)

// Count returns how many of the three variant bits are set.
func (s MetricScope) Count() int {
	n := 0
	for _, bit := range []MetricScope{ScopePointVariant, ScopeFunctionVariant, ScopeExecutionVariant} {
		if s&bit != 0 {
			n++
		}
	}
	return n
}

// Visibility controls whether a metric is ever surfaced by a downstream
// consumer; carried from the original's show-flags byte (SPEC_FULL.md
// supplemented features).
type Visibility uint8

const (
	ShowDefault Visibility = iota
	ShowHidden
	Invisible
)

// PartialKind is one decomposition of a summary statistic into a per-sample
// contribution that can be combined across samples (GLOSSARY).
type PartialKind uint8

const (
	PartialSum PartialKind = iota
	PartialCount
	PartialMin
	PartialMax
	PartialSumSq
)

// StatKind is one of the named derived statistics a Metric can carry, added
// with Metric.AddStat (spec §9: stats.{sum,mean,min,max,stddev,cfvar}).
type StatKind uint8

const (
	StatSum StatKind = iota
	StatMean
	StatMin
	StatMax
	StatStddev
	StatCfVar // coefficient of variation: stddev / mean
)

// Partials returns the PartialKinds StatKind needs available to be computed.
func (k StatKind) Partials() []PartialKind {
	switch k {
	case StatSum:
		return []PartialKind{PartialSum}
	case StatMean:
		return []PartialKind{PartialSum, PartialCount}
	case StatMin:
		return []PartialKind{PartialMin}
	case StatMax:
		return []PartialKind{PartialMax}
	case StatStddev, StatCfVar:
		return []PartialKind{PartialSum, PartialSumSq, PartialCount}
	default:
		return nil
	}
}

// Metric is a uniqued entity naming one measured quantity (spec §3). A
// Metric starts thawed (Source-configurable) and must be Frozen before any
// Sink observes it; no sink may observe a thawed Metric.
type Metric struct {
	Name        string
	Description string
	Visibility  Visibility
	Scopes      MetricScope

	mu       sync.Mutex
	frozen   bool
	stats    []StatKind
	partials []PartialKind // deduped, stable order, computed at Freeze

	slots *SlotStorage[*Metric]
}

// AddStat configures one more derived statistic this Metric should support.
// Must only be called before Freeze.
func (m *Metric) AddStat(k StatKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		panic("model: Metric.AddStat after Freeze")
	}
	m.stats = append(m.stats, k)
}

// Freeze computes the deduplicated partial set from the configured stats
// and marks the Metric visible to sinks. Idempotent.
func (m *Metric) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return
	}
	seen := map[PartialKind]bool{}
	for _, st := range m.stats {
		for _, p := range st.Partials() {
			if !seen[p] {
				seen[p] = true
				m.partials = append(m.partials, p)
			}
		}
	}
	if len(m.partials) == 0 {
		// Every Metric tracks at least a sum, even with no stats
		// configured, so point samples are never silently dropped.
		m.partials = []PartialKind{PartialSum}
	}
	m.frozen = true
}

// IsFrozen reports whether Freeze has been called.
func (m *Metric) IsFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// Partials returns the deduplicated partial statistics this Metric tracks.
// Only valid after Freeze.
func (m *Metric) Partials() []PartialKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PartialKind, len(m.partials))
	copy(out, m.partials)
	return out
}

// Stats returns the configured derived statistics.
func (m *Metric) Stats() []StatKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StatKind, len(m.stats))
	copy(out, m.stats)
	return out
}

// IDWidth is the number of dense sub-ids the identifier finalizer must
// reserve for this Metric: max(partials, 1) per supported MetricScope
// variant (spec §4.3).
func (m *Metric) IDWidth() uint32 {
	n := len(m.Partials())
	if n == 0 {
		n = 1
	}
	return uint32(n) * uint32(m.Scopes.Count())
}

// Slots returns this Metric's slot storage.
func (m *Metric) Slots() *SlotStorage[*Metric] { return m.slots }

// MetricKey uniques a Metric by every setting that changes its wire
// representation: two Sources requesting the "same" metric by name but with
// different scopes would otherwise collide.
type MetricKey struct {
	Name   string
	Scopes MetricScope
}

// MetricSet uniques Metrics by MetricKey.
type MetricSet struct {
	set *UniqueSet[MetricKey, *Metric]
	reg *SlotRegistry[*Metric]
}

// NewMetricSet returns an empty set using reg for per-Metric slots.
func NewMetricSet(reg *SlotRegistry[*Metric]) *MetricSet {
	return &MetricSet{set: NewUniqueSet[MetricKey, *Metric](), reg: reg}
}

// Intern returns the canonical (thawed) Metric for key, building it with
// the supplied Description/Visibility on first use.
func (ms *MetricSet) Intern(key MetricKey, description string, vis Visibility) (*Metric, bool) {
	return ms.set.Insert(key, func() *Metric {
		m := &Metric{Name: key.Name, Description: description, Visibility: vis, Scopes: key.Scopes}
		m.slots = ms.reg.NewStorage()
		return m
	})
}

// Len returns the number of distinct Metrics interned so far.
func (ms *MetricSet) Len() int { return ms.set.Len() }

// Range iterates every interned Metric.
func (ms *MetricSet) Range(f func(*Metric)) {
	ms.set.Range(func(_ MetricKey, m *Metric) { f(m) })
}

// ExtraStatistic is a derived metric computed from a formula over other
// metrics' partials (spec §3), evaluated once all contributing Metrics are
// frozen.
type ExtraStatistic struct {
	Name        string
	Description string
	Visibility  Visibility

	// Formula combines the named inputs (keys into Inputs) into the
	// derived value. It must be pure and side-effect-free since it may
	// be invoked concurrently for different Contexts.
	Inputs  []*Metric
	Formula func(values map[*Metric]float64) float64
}

// Evaluate applies Formula to the given per-input values.
func (e *ExtraStatistic) Evaluate(values map[*Metric]float64) float64 {
	return e.Formula(values)
}
