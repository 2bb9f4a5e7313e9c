// Package measfmt implements the Source parser (C2): it reads one
// sampling-profiler measurement file — the binary format described in
// spec §4.2 — and drives a pipeline.Notifier. It follows the teacher's
// perffile/format.go convention of a flat file laying out every wire
// constant and record shape, and perffile/reader.go's pattern of a single
// streaming Reader type driving sink callbacks.
package measfmt

import "errors"

// Magic is the fixed byte sequence every measurement file (current and
// legacy) begins with, before the byte-order marker.
var Magic = [4]byte{'H', 'P', 'C', 'P'}

// Version selects which wire layout a measurement file uses.
type Version int

const (
	VersionUnknown Version = iota
	Version4_0             // current format: epochs carry their own metric/load-map tables
	Version2_0              // legacy: single flat header, id-tuple reconstructed from scalar fields
	Version3_0
)

// Sentinel module/offset values spec §4.2's context reconstruction rules
// switch on.
const (
	modulePlaceholder uint32 = 0xfffffffe
	moduleGPURoot     uint32 = 0xfffffffd
	moduleGPUContext  uint32 = 0xfffffffc
	moduleGPURange    uint32 = 0xfffffffb

	offsetRootPrimary uint64 = 0
	offsetRootPartial uint64 = 1

	nodeIDPartialSentinel uint32 = 1
	nodeIDUnknownSentinel uint32 = 2
)

// ValueFormat tags a metric description's on-disk value encoding.
type ValueFormat uint8

const (
	ValueInt ValueFormat = iota
	ValueReal
)

// ErrNotOurFormat is returned by the current and legacy parsers when the
// file's magic doesn't match, distinguishing a foreign file from a corrupt
// one. No caller retries with another Source kind.
var ErrNotOurFormat = errors.New("measfmt: not a measurement file")

// ErrCorrupt marks a parse failure local to one file (spec §4.2's failure
// semantics: "abort only that file").
var ErrCorrupt = errors.New("measfmt: corrupt measurement data")

// header is the decoded fixed + name/value portion of a measurement file,
// common to every epoch.
type header struct {
	version     Version
	order       byteOrderName
	programName string
	programPath string
	envPath     string
	jobID       uint64
	idTuple     idTupleWire
}

type byteOrderName uint8

const (
	littleEndian byteOrderName = iota
	bigEndian
)

// idTupleWire is the on-disk form of one profile-identifier tuple entry,
// decoded into a model.IDTupleEntry by the Source.
type idTupleWire struct {
	kind           uint16
	interpretation uint8
	physical       uint64
	logical        uint64
}

// metricDesc is one row of an epoch's metric description table.
type metricDesc struct {
	id          uint32
	name        string
	description string
	format      ValueFormat
	showFlags   uint8
	formula     string // optional derived-statistic formula, empty if absent
}

// loadMapEntry is one row of an epoch's load-map.
type loadMapEntry struct {
	id   uint32
	path string
}

// cctNodeWire is one preorder node from an epoch's CCT-node stream.
type cctNodeWire struct {
	id       uint32
	parentID uint32
	moduleID uint32
	offset   uint64
	metrics  []metricValueWire
}

type metricValueWire struct {
	metricID uint32
	value    float64
}

// traceRecordWire is one (context-id, time-ns) pair from a companion trace
// file.
type traceRecordWire struct {
	contextID uint32
	timeNs    uint64
}
