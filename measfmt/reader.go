package measfmt

import (
	"encoding/binary"
	"fmt"
)

// epoch is one decoded epoch: its metric table, load-map, and CCT-node
// stream, kept in file order so the Source can walk them preorder.
type epoch struct {
	metrics  []metricDesc
	loadMap  []loadMapEntry
	nodes    []cctNodeWire
}

// file is the fully-decoded contents of one measurement file, used by both
// the current (4.0) and legacy (2.0/3.0) readers.
type file struct {
	header header
	epochs []epoch
	trace  []traceRecordWire // empty if no companion trace file was read
}

// parse decodes buf (the full contents of a measurement file) according to
// the version 4.0 layout spec §4.2 describes. It never returns a partial
// *file on success; on a decode error it returns ErrCorrupt wrapped with
// detail, matching spec §4.2's "corrupt data inside a file... aborts only
// that file".
func parse(buf []byte) (f *file, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	if len(buf) < 5 || buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return nil, ErrNotOurFormat
	}
	d := &bufDecoder{buf: buf[4:], order: binary.BigEndian}

	orderMarker := d.u8()
	var order binary.ByteOrder = binary.BigEndian
	obn := bigEndian
	if orderMarker == 0 {
		order = binary.LittleEndian
		obn = littleEndian
	}
	d.order = order

	verMajor := d.u16()
	verMinor := d.u16()
	ver := versionFor(verMajor, verMinor)
	if ver == VersionUnknown {
		return nil, fmt.Errorf("%w: unrecognized version %d.%d", ErrCorrupt, verMajor, verMinor)
	}

	hdr := header{version: ver, order: obn}
	nheaders := d.u32()
	for i := uint32(0); i < nheaders; i++ {
		key := d.lenString()
		val := d.lenString()
		switch key {
		case "program-name":
			hdr.programName = val
		case "program-path":
			hdr.programPath = val
		case "env-path":
			hdr.envPath = val
		}
	}
	hdr.jobID = d.u64()

	ntuple := d.u8()
	// Every entry is decoded, but only the first is kept to build the
	// canonical identifier tuple for this file; the remaining levels of a
	// multi-level tuple are discarded.
	entries := make([]idTupleWire, ntuple)
	for i := range entries {
		entries[i] = idTupleWire{
			kind:           d.u16(),
			interpretation: d.u8(),
			physical:       d.u64(),
			logical:        d.u64(),
		}
	}
	if len(entries) > 0 {
		hdr.idTuple = entries[0]
	}

	f = &file{header: hdr}

	nepochs := d.u32()
	for e := uint32(0); e < nepochs; e++ {
		ep, err := parseEpoch(d)
		if err != nil {
			return nil, err
		}
		f.epochs = append(f.epochs, ep)
	}

	hasTrace := d.u8()
	if hasTrace != 0 {
		ntrace := d.u32()
		f.trace = make([]traceRecordWire, ntrace)
		for i := range f.trace {
			f.trace[i] = traceRecordWire{contextID: d.u32(), timeNs: d.u64()}
		}
	}

	return f, nil
}

func versionFor(major, minor uint16) Version {
	switch {
	case major == 4 && minor == 0:
		return Version4_0
	case major == 2:
		return Version2_0
	case major == 3:
		return Version3_0
	default:
		return VersionUnknown
	}
}

func parseEpoch(d *bufDecoder) (epoch, error) {
	var ep epoch
	_ = d.u32() // epoch flags; no flag bits are load-bearing for this implementation

	nmetrics := d.u32()
	ep.metrics = make([]metricDesc, nmetrics)
	for i := range ep.metrics {
		ep.metrics[i] = metricDesc{
			id:          d.u32(),
			name:        d.lenString(),
			description: d.lenString(),
			format:      ValueFormat(d.u8()),
			showFlags:   d.u8(),
			formula:     d.lenString(),
		}
	}

	nmodules := d.u32()
	ep.loadMap = make([]loadMapEntry, nmodules)
	for i := range ep.loadMap {
		ep.loadMap[i] = loadMapEntry{id: d.u32(), path: d.lenString()}
	}

	nnodes := d.u32()
	ep.nodes = make([]cctNodeWire, nnodes)
	for i := range ep.nodes {
		node := cctNodeWire{
			id:       d.u32(),
			parentID: d.u32(),
			moduleID: d.u32(),
			offset:   d.u64(),
		}
		nvals := d.u32()
		node.metrics = make([]metricValueWire, nvals)
		for j := range node.metrics {
			mid := d.u32()
			var v float64
			// Per spec §4.2: "Integer-format metrics are cast to
			// double before add." The on-disk encoding always
			// stores 8 bytes; which metricDesc's format it
			// matches decides the reinterpretation.
			format := ValueInt
			for _, md := range ep.metrics {
				if md.id == mid {
					format = md.format
					break
				}
			}
			if format == ValueReal {
				v = d.f64()
			} else {
				v = float64(d.u64())
			}
			node.metrics[j] = metricValueWire{metricID: mid, value: v}
		}
		ep.nodes[i] = node
	}

	return ep, nil
}
