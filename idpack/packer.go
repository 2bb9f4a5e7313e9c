package idpack

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

const numStripes = 256

// expansionRecord is one recorded classification expansion: the chain of
// (relation, context-id) pairs descending from `from` to `to`, root-to-leaf
// (spec §4.5).
type expansionRecord struct {
	parentID      uint32
	discriminator uint64
	offset        uint64
	chain         []chainLink
}

type chainLink struct {
	relation  model.Relation
	contextID uint32
}

// idSource is the capability the Packer needs from whichever Finalizer
// assigned dense Context ids (classify.IdentifierFinalizer in practice).
type idSource interface {
	Context(*model.Context) (uint32, bool)
}

// moduleIDSource assigns dense ids to Modules for the packed module table;
// the Packer owns this numbering itself since no other component needs a
// Module id outside this wire format.
type moduleIDSource struct {
	mu  sync.Mutex
	ids map[*model.Module]uint32
	ord []*model.Module
}

func newModuleIDSource() *moduleIDSource {
	return &moduleIDSource{ids: make(map[*model.Module]uint32)}
}

func (s *moduleIDSource) id(m *model.Module) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[m]; ok {
		return id
	}
	id := uint32(len(s.ord))
	s.ids[m] = id
	s.ord = append(s.ord, m)
	return id
}

// Packer hooks into the pipeline as a Sink (spec §4.5): at every
// NotifyContextExpansion, it dedupes by (from, scope), hashes the pair into
// one of numStripes lock-sharded buffers, and records the expansion. Write
// serializes the packed blob rank 0 broadcasts to its peers.
type Packer struct {
	dm     *model.DataModel
	ids    idSource
	modIDs *moduleIDSource

	dedupMu  sync.Mutex
	dedupSet map[dedupKey]bool

	stripes [numStripes]struct {
		mu      sync.Mutex
		records []expansionRecord
	}

	metricsMu sync.Mutex
	metrics   []packedMetric
	metricIDs map[*model.Metric]uint32
	nextMID   uint32

	onWrite func([]byte) error // lets cmd/profbuild (or a test) capture the blob
}

type packedMetric struct {
	baseID uint32
	name   string
}

type dedupKey struct {
	from  *model.Context
	scope model.Scope
}

// NewPacker returns a Packer attributing ids via finalizer.
func NewPacker(dm *model.DataModel, finalizer idSource, onWrite func([]byte) error) *Packer {
	return &Packer{
		dm:        dm,
		ids:       finalizer,
		modIDs:    newModuleIDSource(),
		dedupSet:  make(map[dedupKey]bool),
		metricIDs: make(map[*model.Metric]uint32),
		onWrite:   onWrite,
	}
}

// Accepts/Wavefronts/Requires implement pipeline.Sink.
func (p *Packer) Accepts() model.DataClass    { return model.ClassReferences | model.ClassContexts | model.ClassMetrics }
func (p *Packer) Wavefronts() model.DataClass { return model.ClassReferences | model.ClassContexts }
func (p *Packer) Requires() model.ExtensionClass { return model.ExtIdentifier }
func (p *Packer) Name() string                   { return "idpack.packer" }

func (p *Packer) NotifyPipeline(dm *model.DataModel)      { p.dm = dm }
func (p *Packer) NotifyWavefront(model.DataClass)         {}
func (p *Packer) NotifyThread(*model.Thread)              {}
func (p *Packer) NotifyThreadFinal(*model.ThreadTemporary) {}
func (p *Packer) NotifyContext(*model.Context)             {}
func (p *Packer) NotifyTimepoint(*model.Thread, *model.Context, uint64) pipeline.TimepointAction {
	return pipeline.TimepointContinue
}

// NotifyMetric records m's base id and name for the packed metric-id table.
func (p *Packer) NotifyMetric(m *model.Metric) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	if _, ok := p.metricIDs[m]; ok {
		return
	}
	width := uint32(m.IDWidth())
	base := p.nextMID
	p.nextMID += width
	p.metricIDs[m] = base
	p.metrics = append(p.metrics, packedMetric{baseID: base, name: m.Name})
}

// NotifyContextExpansion implements the Packer's core recording logic
// (spec §4.5).
func (p *Packer) NotifyContextExpansion(from *model.Context, ns model.NestedScope, to *model.Context) {
	if from == to {
		return // unclassified passthrough: nothing was actually expanded
	}
	key := dedupKey{from: from, scope: ns.Scope}
	p.dedupMu.Lock()
	if p.dedupSet[key] {
		p.dedupMu.Unlock()
		return
	}
	p.dedupSet[key] = true
	p.dedupMu.Unlock()

	discriminator, offset, err := encodeScope(ns.Scope, p.modIDs.id)
	if err != nil {
		return // not valid packer input (function/loop/line/global); nothing to record
	}

	parentID, _ := p.ids.Context(from)

	var chain []chainLink
	for c := to; c != from && c != nil; c = c.Parent {
		id, _ := p.ids.Context(c)
		chain = append(chain, chainLink{relation: c.Relation, contextID: id})
	}
	reverseChain(chain)

	rec := expansionRecord{parentID: parentID, discriminator: discriminator, offset: offset, chain: chain}
	stripe := &p.stripes[stripeFor(from, ns.Scope)]
	stripe.mu.Lock()
	stripe.records = append(stripe.records, rec)
	stripe.mu.Unlock()
}

func reverseChain(c []chainLink) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// stripeFor hashes (from, scope) to pick one of numStripes lock-sharded
// buffers (spec §4.5), using xxhash the way mdzesseis-log_capturer_go and
// standardbeagle-lci use it for fast composite-key hashing.
func stripeFor(from *model.Context, scope model.Scope) int {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%p", from)
	buf.WriteByte(byte(scope.Kind))
	var tmp [8]byte
	putU64(tmp[:], scope.Offset)
	buf.Write(tmp[:])
	return int(xxhash.Sum64(buf.Bytes()) % numStripes)
}

// Write implements pipeline.Sink: it serializes the packed blob described
// in spec §4.5 (global root id, module table, expansion strip, metric-id
// table) and hands it to onWrite.
func (p *Packer) Write(ctx context.Context) (*pipeline.WorkTicket, error) {
	var buf bytes.Buffer

	rootID, _ := p.ids.Context(p.dm.Contexts.Root)
	var tmp [8]byte
	putU32(tmp[:4], rootID)
	buf.Write(tmp[:4])

	p.modIDs.mu.Lock()
	putU32(tmp[:4], uint32(len(p.modIDs.ord)))
	buf.Write(tmp[:4])
	for _, m := range p.modIDs.ord {
		buf.WriteString(m.Path)
		buf.WriteByte(0)
	}
	p.modIDs.mu.Unlock()

	var all []expansionRecord
	for i := range p.stripes {
		p.stripes[i].mu.Lock()
		all = append(all, p.stripes[i].records...)
		p.stripes[i].mu.Unlock()
	}
	putU32(tmp[:4], uint32(len(all)))
	buf.Write(tmp[:4])
	for _, rec := range all {
		putU32(tmp[:4], rec.parentID)
		buf.Write(tmp[:4])
		putU64(tmp[:], rec.discriminator)
		buf.Write(tmp[:])
		putU64(tmp[:], rec.offset)
		buf.Write(tmp[:])
		putU32(tmp[:4], uint32(len(rec.chain)))
		buf.Write(tmp[:4])
		for _, link := range rec.chain {
			buf.WriteByte(byte(link.relation))
			putU32(tmp[:4], link.contextID)
			buf.Write(tmp[:4])
		}
	}

	p.metricsMu.Lock()
	putU32(tmp[:4], uint32(len(p.metrics)))
	buf.Write(tmp[:4])
	for _, pm := range p.metrics {
		putU32(tmp[:4], pm.baseID)
		buf.Write(tmp[:4])
		buf.WriteString(pm.name)
		buf.WriteByte(0)
	}
	p.metricsMu.Unlock()

	if p.onWrite != nil {
		if err := p.onWrite(buf.Bytes()); err != nil {
			return nil, err
		}
	}
	return &pipeline.WorkTicket{Completed: true}, nil
}
