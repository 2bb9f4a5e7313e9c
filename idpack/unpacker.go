package idpack

import (
	"fmt"

	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// idReverser resolves a packed dense Context id back to the real Context
// that earned it — classify.IdentifierFinalizer in practice, shared between
// the Packer and the Unpacker since a simulated rank's Contexts all live in
// one process's DataModel (see concurrent.LocalTransport).
type idReverser interface {
	ContextByID(id uint32) (*model.Context, bool)
}

// Unpacker replays a blob a rank-0 Packer produced: it builds the
// parent_id -> {NestedScope -> chain} expansion map spec §4.5 describes
// and serves it as a Classifier, so worker ranks never reclassify from the
// struct/logical/direct classifiers themselves.
type Unpacker struct {
	dm      *model.DataModel
	reverse idReverser

	rootID     uint32
	modules    []*model.Module
	expansions map[uint32]map[packedScopeKey][]chainLink
	metricBase map[string]uint32
}

type packedScopeKey struct {
	discriminator uint64
	offset        uint64
}

// NewUnpacker decodes blob against dm (whose Modules/Contexts must already
// contain whatever the Packer's module table and NotifyContext calls will
// reference — in practice the worker's own Sources run first to populate
// Modules before the Unpacker's Classify calls hit any of its entries).
func NewUnpacker(dm *model.DataModel, reverse idReverser, blob []byte) (*Unpacker, error) {
	u := &Unpacker{
		dm:         dm,
		reverse:    reverse,
		expansions: make(map[uint32]map[packedScopeKey][]chainLink),
		metricBase: make(map[string]uint32),
	}
	if err := u.decode(blob); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Unpacker) decode(buf []byte) error {
	if len(buf) < 8 {
		return fmt.Errorf("idpack: blob too short")
	}
	u.rootID = getU32(buf[:4])
	buf = buf[4:]

	nmod := getU32(buf[:4])
	buf = buf[4:]
	for i := uint32(0); i < nmod; i++ {
		path, rest, err := readCString(buf)
		if err != nil {
			return err
		}
		m, _ := u.dm.Modules.Intern(path)
		u.modules = append(u.modules, m)
		buf = rest
	}

	if len(buf) < 4 {
		return fmt.Errorf("idpack: truncated expansion strip")
	}
	nrec := getU32(buf[:4])
	buf = buf[4:]
	for i := uint32(0); i < nrec; i++ {
		if len(buf) < 24 {
			return fmt.Errorf("idpack: truncated expansion record")
		}
		parentID := getU32(buf[:4])
		buf = buf[4:]
		discriminator := getU64(buf[:8])
		buf = buf[8:]
		offset := getU64(buf[:8])
		buf = buf[8:]
		nlinks := getU32(buf[:4])
		buf = buf[4:]
		chain := make([]chainLink, nlinks)
		for j := range chain {
			if len(buf) < 5 {
				return fmt.Errorf("idpack: truncated chain link")
			}
			chain[j] = chainLink{relation: model.Relation(buf[0]), contextID: getU32(buf[1:5])}
			buf = buf[5:]
		}
		key := packedScopeKey{discriminator: discriminator, offset: offset}
		if u.expansions[parentID] == nil {
			u.expansions[parentID] = make(map[packedScopeKey][]chainLink)
		}
		u.expansions[parentID][key] = chain
	}

	if len(buf) < 4 {
		return fmt.Errorf("idpack: truncated metric table")
	}
	nmetric := getU32(buf[:4])
	buf = buf[4:]
	for i := uint32(0); i < nmetric; i++ {
		if len(buf) < 4 {
			return fmt.Errorf("idpack: truncated metric entry")
		}
		base := getU32(buf[:4])
		buf = buf[4:]
		name, rest, err := readCString(buf)
		if err != nil {
			return err
		}
		u.metricBase[name] = base
		buf = rest
	}

	return nil
}

func readCString(buf []byte) (string, []byte, error) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), buf[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("idpack: unterminated string in blob")
}

func (u *Unpacker) moduleByID(id uint32) *model.Module {
	if int(id) >= len(u.modules) {
		return nil
	}
	return u.modules[id]
}

// Classify implements pipeline.Classifier: a worker rank looks up the
// recorded expansion for (from, scope) and replays the recorded chain by
// resolving each link's packed id back to its real Context via reverse,
// rather than reclassifying from struct/logical/direct data.
func (u *Unpacker) Classify(from *model.Context, ns model.NestedScope) ([]model.NestedScope, bool) {
	discriminator, offset, err := encodeScope(ns.Scope, func(m *model.Module) uint32 {
		for i, mm := range u.modules {
			if mm == m {
				return uint32(i)
			}
		}
		return ^uint32(0)
	})
	if err != nil {
		return nil, false
	}

	byScope, ok := u.expansions[u.idOf(from)]
	if !ok {
		return nil, false
	}
	chain, ok := byScope[packedScopeKey{discriminator, offset}]
	if !ok || len(chain) == 0 {
		return nil, false
	}

	result := make([]model.NestedScope, 0, len(chain))
	for _, link := range chain {
		target, ok := u.reverse.ContextByID(link.contextID)
		if !ok {
			return nil, false
		}
		result = append(result, model.NestedScope{Relation: link.relation, Scope: target.Scope})
	}
	return result, true
}

// idOf returns from's packed id, which is just a reverse lookup through
// the same idReverser used for chain links — from is always a Context the
// finalizer has already assigned an id to by the time Classify runs on it.
func (u *Unpacker) idOf(c *model.Context) uint32 {
	if c.Parent == nil {
		return u.rootID
	}
	if fwd, ok := u.reverse.(interface {
		Context(*model.Context) (uint32, bool)
	}); ok {
		if id, ok := fwd.Context(c); ok {
			return id
		}
	}
	return ^uint32(0)
}

// MetricBase returns the packed base id for a Metric name, per spec §4.5's
// "identify(metric) returns the table lookup".
func (u *Unpacker) MetricBase(name string) (uint32, bool) {
	id, ok := u.metricBase[name]
	return id, ok
}

var _ pipeline.Classifier = (*Unpacker)(nil)
