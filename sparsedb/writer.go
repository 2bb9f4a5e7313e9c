package sparsedb

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ccprof/profbuild/concurrent"
	"github.com/ccprof/profbuild/model"
	"github.com/ccprof/profbuild/pipeline"
)

// idSource is the subset of pipeline.Finalizer the Writer needs to render
// dense Context/Thread/Metric identifiers onto the wire (classify.
// IdentifierFinalizer in practice).
type idSource interface {
	Context(*model.Context) (uint32, bool)
	Thread(*model.Thread) (uint32, bool)
	Metric(*model.Metric) (pipeline.ScopedIdentifiers, bool)
}

// valEntry is one (metric-id, value) pair recorded for a single profile at a
// single context — the function- or execution-scope inclusive sum spec
// §4.6.1 stores (profile.db never stores point-scope values; there is no
// packed id for the point variant, only function/execution).
type valEntry struct {
	metricID uint16
	snap     model.Snapshot
}

// threadProfile is one Thread's captured, post-finalization contribution:
// everything the Writer needs from a ThreadTemporary, snapshotted inside
// NotifyThreadFinal before the engine clears it.
type threadProfile struct {
	threadID uint32
	byCtx    map[uint32][]valEntry
}

// Writer implements pipeline.Sink for C6 (spec §4.6): it accumulates every
// finalized thread's per-context metric values, then at Write time transposes
// them into the profile.db and cct.db layouts. This is the single-rank
// degenerate case of the distributed protocol spec §4.6.3 describes: a
// concurrent.SharedAccumulator still hands out the shared write cursor (so a
// multi-rank embedding only needs to supply a real concurrent.RankTransport),
// but with one rank fetch_add never contends.
type Writer struct {
	dm  *model.DataModel
	ids idSource

	cursor *concurrent.SharedAccumulator

	mu      sync.Mutex
	threads []*threadProfile

	summaryMu sync.Mutex
	summary   map[uint32]map[uint16][]model.Snapshot // ctx-id -> metric-id -> per-thread snapshots

	onProfileDB func([]byte) error
	onCctDB     func([]byte) error
}

// NewWriter returns a Writer attributing ids via finalizer. onProfileDB and
// onCctDB receive the two finished files' bytes (a real embedding writes
// them to profile.db/cct.db; tests can capture them directly).
func NewWriter(dm *model.DataModel, finalizer idSource, transport concurrent.RankTransport, onProfileDB, onCctDB func([]byte) error) *Writer {
	return &Writer{
		dm:          dm,
		ids:         finalizer,
		cursor:      concurrent.NewSharedAccumulator("sparsedb.cursor", 0, transport),
		summary:     make(map[uint32]map[uint16][]model.Snapshot),
		onProfileDB: onProfileDB,
		onCctDB:     onCctDB,
	}
}

func (w *Writer) Accepts() model.DataClass       { return model.ClassThreads | model.ClassMetrics }
func (w *Writer) Wavefronts() model.DataClass    { return model.ClassMetrics }
func (w *Writer) Requires() model.ExtensionClass {
	return model.ExtIdentifier | model.ExtMScopeIdentifiers
}
func (w *Writer) Name() string { return "sparsedb.writer" }

func (w *Writer) NotifyPipeline(dm *model.DataModel) { w.dm = dm }
func (w *Writer) NotifyWavefront(model.DataClass)    {}
func (w *Writer) NotifyThread(*model.Thread)         {}
func (w *Writer) NotifyContext(*model.Context)       {}
func (w *Writer) NotifyContextExpansion(*model.Context, model.NestedScope, *model.Context) {}
func (w *Writer) NotifyTimepoint(*model.Thread, *model.Context, uint64) pipeline.TimepointAction {
	return pipeline.TimepointContinue
}

// NotifyMetric is a no-op: profile.db/cct.db reference metrics only by the
// dense id the identifier finalizer already assigned, and carry no metric
// name table of their own (that lives in a separate metrics.db this writer
// doesn't produce — out of SPEC_FULL.md's scope for this component).
func (w *Writer) NotifyMetric(*model.Metric) {}

// NotifyThreadFinal captures this thread's variant values before the engine
// clears tt — both the per-thread profile.db contribution and this thread's
// Snapshots toward the summary profile (index 0).
func (w *Writer) NotifyThreadFinal(tt *model.ThreadTemporary) {
	threadID, _ := w.ids.Thread(tt.Thread)
	tp := &threadProfile{threadID: threadID, byCtx: make(map[uint32][]valEntry)}

	for _, ctx := range tt.Contexts() {
		ctxID, _ := w.ids.Context(ctx)
		for metric := range tt.MetricsAt(ctx) {
			ids, ok := w.ids.Metric(metric)
			if !ok {
				continue
			}
			if fn := tt.Variant(ctx, metric, model.ScopeFunctionVariant); fn != nil && fn.Touched() {
				w.record(tp, ctxID, uint16(ids.FunctionID), fn.Snapshot())
			}
			if ex := tt.Variant(ctx, metric, model.ScopeExecutionVariant); ex != nil && ex.Touched() {
				w.record(tp, ctxID, uint16(ids.ExecutionID), ex.Snapshot())
			}
		}
	}

	w.mu.Lock()
	w.threads = append(w.threads, tp)
	w.mu.Unlock()
}

func (w *Writer) record(tp *threadProfile, ctxID uint32, metricID uint16, snap model.Snapshot) {
	tp.byCtx[ctxID] = append(tp.byCtx[ctxID], valEntry{metricID: metricID, snap: snap})

	w.summaryMu.Lock()
	byMetric, ok := w.summary[ctxID]
	if !ok {
		byMetric = make(map[uint16][]model.Snapshot)
		w.summary[ctxID] = byMetric
	}
	byMetric[metricID] = append(byMetric[metricID], snap)
	w.summaryMu.Unlock()
}

// Write renders profile.db and cct.db (spec §4.6.1/§4.6.2) and hands each to
// its callback. The single-rank case needs no work-share ticket: all the
// data this rank will ever see is already in memory by the time Run reaches
// phase 7.
func (w *Writer) Write(ctx context.Context) (*pipeline.WorkTicket, error) {
	profiles := w.buildProfiles()

	profileBytes, ctxValues := w.buildProfileDB(profiles)
	// Claims this rank's file region the way spec §4.6.3's shared write
	// cursor does; single-rank runs always get back 0 since nothing else
	// contends for the accumulator.
	w.cursor.FetchAdd(uint64(len(profileBytes)))
	if w.onProfileDB != nil {
		if err := w.onProfileDB(profileBytes); err != nil {
			return nil, fmt.Errorf("sparsedb: writing profile.db: %w", err)
		}
	}

	cctBytes := w.buildCctDB(ctxValues)
	if w.onCctDB != nil {
		if err := w.onCctDB(cctBytes); err != nil {
			return nil, fmt.Errorf("sparsedb: writing cct.db: %w", err)
		}
	}

	return &pipeline.WorkTicket{Completed: true}, nil
}

// profileRecord is one fully-resolved profile.db entry, index 0 being the
// synthetic summary profile spec §4.6.3 reserves for rank 0.
type profileRecord struct {
	byCtx map[uint32][]valEntry // already deterministically ordered
}

// buildProfiles assembles index-0 (the cross-thread summary, computed via
// model.CombineSummary) followed by every real thread ordered by its dense
// thread id, matching spec §4.6.3's "indices 1..N in id-assignment order".
func (w *Writer) buildProfiles() []profileRecord {
	w.mu.Lock()
	threads := append([]*threadProfile(nil), w.threads...)
	w.mu.Unlock()
	sort.Slice(threads, func(i, j int) bool { return threads[i].threadID < threads[j].threadID })

	summary := profileRecord{byCtx: make(map[uint32][]valEntry)}
	w.summaryMu.Lock()
	for ctxID, byMetric := range w.summary {
		for metricID, snaps := range byMetric {
			combined := model.CombineSummary(snaps)
			if !combined.Touched {
				continue
			}
			summary.byCtx[ctxID] = append(summary.byCtx[ctxID], valEntry{metricID: metricID, snap: combined})
		}
	}
	w.summaryMu.Unlock()

	out := make([]profileRecord, 0, len(threads)+1)
	out = append(out, summary)
	for _, tp := range threads {
		out = append(out, profileRecord{byCtx: tp.byCtx})
	}
	return out
}

// buildProfileDB serializes the profile.db layout (spec §4.6.1) and also
// returns, per context, the per-profile values the cct.db transpose needs
// (ctxValues[ctxID] is a parallel slice of (profile-index, metric-id,
// snapshot) in the same deterministic order the profile.db section used).
type ctxValue struct {
	profIdx  uint32
	metricID uint16
	snap     model.Snapshot
}

func (w *Writer) buildProfileDB(profiles []profileRecord) ([]byte, map[uint32][]ctxValue) {
	ctxValues := make(map[uint32][]ctxValue)

	type profileBlob struct {
		bytes     []byte
		numVals   uint64
		numNZCtxs uint32
	}
	blobs := make([]profileBlob, len(profiles))
	for idx, prof := range profiles {
		var buf bytes.Buffer
		ctxIDs := make([]uint32, 0, len(prof.byCtx))
		for id := range prof.byCtx {
			ctxIDs = append(ctxIDs, id)
		}
		sort.Slice(ctxIDs, func(i, j int) bool { return ctxIDs[i] < ctxIDs[j] })

		var valueIndex uint64
		type idxEntry struct {
			ctxID uint32
			start uint64
		}
		var indexEntries []idxEntry
		for _, ctxID := range ctxIDs {
			entries := append([]valEntry(nil), prof.byCtx[ctxID]...)
			sort.Slice(entries, func(i, j int) bool { return entries[i].metricID < entries[j].metricID })
			indexEntries = append(indexEntries, idxEntry{ctxID: ctxID, start: valueIndex})
			for _, e := range entries {
				var tmp [10]byte
				order.PutUint16(tmp[8:], e.metricID)
				bits := fbits(e.snap.Stat(model.StatSum))
				order.PutUint64(tmp[0:8], bits)
				buf.Write(tmp[:])
				valueIndex++
				ctxValues[ctxID] = append(ctxValues[ctxID], ctxValue{profIdx: uint32(idx), metricID: e.metricID, snap: e.snap})
			}
		}
		for _, ie := range indexEntries {
			var tmp [12]byte
			order.PutUint32(tmp[0:4], ie.ctxID)
			order.PutUint64(tmp[4:12], ie.start)
			buf.Write(tmp[:])
		}
		var sentinel [12]byte
		order.PutUint32(sentinel[0:4], ctxIDSentinel)
		order.PutUint64(sentinel[4:12], valueIndex)
		buf.Write(sentinel[:])

		blobs[idx] = profileBlob{bytes: buf.Bytes(), numVals: valueIndex, numNZCtxs: uint32(len(ctxIDs))}
	}

	var out bytes.Buffer
	out.Write(profileMagic[:])
	out.WriteByte(formatMajor)
	out.WriteByte(formatMinor)
	var tmp4 [4]byte
	order.PutUint32(tmp4[:], uint32(len(profiles)))
	out.Write(tmp4[:])

	headerSize := 10 + 1 + 1 + 4 + 2 + 8 + 8 + 8 + 8
	headerSize += padTo8(headerSize)
	infoSecSize := uint64(len(profiles) * profInfoRecordSize)
	infoSecPtr := uint64(headerSize)
	idTuplesSecPtr := infoSecPtr + infoSecSize + uint64(padTo8(int(infoSecSize)))
	// This Writer doesn't model the id-tuple dictionary (no downstream
	// consumer in this pipeline reads it back); the section is present
	// but empty, matching the layout's optionality for a writer with
	// nothing to put there.
	idTuplesSecSize := uint64(0)

	var tmp2 [2]byte
	order.PutUint16(tmp2[:], 2)
	out.Write(tmp2[:])
	var tmp8 [8]byte
	order.PutUint64(tmp8[:], infoSecSize)
	out.Write(tmp8[:])
	order.PutUint64(tmp8[:], infoSecPtr)
	out.Write(tmp8[:])
	order.PutUint64(tmp8[:], idTuplesSecSize)
	out.Write(tmp8[:])
	order.PutUint64(tmp8[:], idTuplesSecPtr)
	out.Write(tmp8[:])
	for i := 0; i < padTo8(out.Len()); i++ {
		out.WriteByte(0)
	}

	dataStart := idTuplesSecPtr + idTuplesSecSize
	dataStart += uint64(padTo8(int(dataStart)))
	offsets := make([]uint64, len(blobs))
	cursor := dataStart
	for i, b := range blobs {
		offsets[i] = cursor
		cursor += uint64(len(b.bytes))
	}
	for i, b := range blobs {
		rec := profInfoRecord{numVals: b.numVals, numNZCtxs: b.numNZCtxs, dataOffset: offsets[i]}
		out.Write(rec.marshal())
	}
	for i := 0; i < padTo8(out.Len()); i++ {
		out.WriteByte(0)
	}
	// id-tuple section intentionally empty; see note above.
	for i := 0; i < padTo8(out.Len()); i++ {
		out.WriteByte(0)
	}
	for _, b := range blobs {
		out.Write(b.bytes)
	}
	out.Write(profileFooter[:])

	return out.Bytes(), ctxValues
}

func fbits(v float64) uint64 { return math.Float64bits(v) }

// buildCctDB serializes the cct.db layout (spec §4.6.2), transposing
// ctxValues (collected while writing profile.db) into per-context blobs
// ordered by ctx-id.
func (w *Writer) buildCctDB(ctxValues map[uint32][]ctxValue) []byte {
	ctxIDs := make([]uint32, 0, len(ctxValues))
	for id := range ctxValues {
		ctxIDs = append(ctxIDs, id)
	}
	sort.Slice(ctxIDs, func(i, j int) bool { return ctxIDs[i] < ctxIDs[j] })

	type ctxBlob struct {
		ctxID     uint32
		bytes     []byte
		numVals   uint64
		numNZMids uint16
	}
	blobs := make([]ctxBlob, 0, len(ctxIDs))
	for _, ctxID := range ctxIDs {
		vals := ctxValues[ctxID]
		byMetric := make(map[uint16][]ctxValue)
		for _, v := range vals {
			byMetric[v.metricID] = append(byMetric[v.metricID], v)
		}
		metricIDs := make([]uint16, 0, len(byMetric))
		for id := range byMetric {
			metricIDs = append(metricIDs, id)
		}
		sort.Slice(metricIDs, func(i, j int) bool { return metricIDs[i] < metricIDs[j] })

		var buf bytes.Buffer
		var valueIndex uint64
		type idxEntry struct {
			metricID uint16
			start    uint64
		}
		var indexEntries []idxEntry
		for _, mid := range metricIDs {
			entries := byMetric[mid]
			sort.Slice(entries, func(i, j int) bool { return entries[i].profIdx < entries[j].profIdx })
			indexEntries = append(indexEntries, idxEntry{metricID: mid, start: valueIndex})
			for _, e := range entries {
				var tmp [12]byte
				order.PutUint64(tmp[0:8], fbits(e.snap.Stat(model.StatSum)))
				order.PutUint32(tmp[8:12], e.profIdx)
				buf.Write(tmp[:])
				valueIndex++
			}
		}
		for _, ie := range indexEntries {
			var tmp [10]byte
			order.PutUint16(tmp[0:2], ie.metricID)
			order.PutUint64(tmp[2:10], ie.start)
			buf.Write(tmp[:])
		}
		var sentinel [10]byte
		order.PutUint16(sentinel[0:2], metricIDSentinel)
		order.PutUint64(sentinel[2:10], valueIndex)
		buf.Write(sentinel[:])

		blobs = append(blobs, ctxBlob{ctxID: ctxID, bytes: buf.Bytes(), numVals: valueIndex, numNZMids: uint16(len(metricIDs))})
	}

	var out bytes.Buffer
	out.Write(cctMagic[:])
	out.WriteByte(formatMajor)
	out.WriteByte(formatMinor)
	var tmp4 [4]byte
	order.PutUint32(tmp4[:], uint32(len(blobs)))
	out.Write(tmp4[:])

	headerSize := 10 + 1 + 1 + 4 + 2 + 8 + 8
	headerSize += padTo8(headerSize)
	infoSecSize := uint64(len(blobs) * ctxInfoRecordSize)
	infoSecPtr := uint64(headerSize)

	var tmp2 [2]byte
	order.PutUint16(tmp2[:], 1)
	out.Write(tmp2[:])
	var tmp8 [8]byte
	order.PutUint64(tmp8[:], infoSecSize)
	out.Write(tmp8[:])
	order.PutUint64(tmp8[:], infoSecPtr)
	out.Write(tmp8[:])
	for i := 0; i < padTo8(out.Len()); i++ {
		out.WriteByte(0)
	}

	dataStart := infoSecPtr + infoSecSize
	dataStart += uint64(padTo8(int(dataStart)))
	offsets := make([]uint64, len(blobs))
	cursor := dataStart
	for i, b := range blobs {
		offsets[i] = cursor
		cursor += uint64(len(b.bytes))
	}
	for i, b := range blobs {
		rec := ctxInfoRecord{ctxID: b.ctxID, numVals: b.numVals, numNZMids: b.numNZMids, dataOffset: offsets[i]}
		out.Write(rec.marshal())
	}
	for i := 0; i < padTo8(out.Len()); i++ {
		out.WriteByte(0)
	}
	for _, b := range blobs {
		out.Write(b.bytes)
	}
	out.Write(cctFooter[:])

	return out.Bytes()
}
