package measfmt

import (
	"encoding/binary"
	"fmt"

	"github.com/ccprof/profbuild/xlog"
)

// parseLegacy decodes a version 2.0/3.0 measurement file. Per spec §4.2,
// "the spec of that format is identical except that the per-rank/
// per-thread/per-host identifier tuple is reconstructed from scalar header
// fields rather than read directly": the epoch stream (metric table,
// load-map, CCT nodes) uses the exact same on-disk layout as parseEpoch
// already decodes, so only the header is format-specific here.
func parseLegacy(buf []byte) (f *file, err error) {
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
	if ver != Version2_0 && ver != Version3_0 {
		return nil, fmt.Errorf("%w: parseLegacy called on non-legacy version %d.%d", ErrCorrupt, verMajor, verMinor)
	}

	hdr := header{version: ver, order: obn}
	hdr.programName = d.lenString()
	hdr.programPath = d.lenString()
	hdr.envPath = d.lenString()
	hdr.jobID = d.u64()

	// Scalar host/rank/thread fields, folded into a single thread-kind
	// tuple entry: rank and thread packed into the physical id, host as
	// the logical id (spec §4.2).
	hostID := d.u64()
	rankID := d.u32()
	threadID := d.u32()
	hdr.idTuple = idTupleWire{
		kind:           uint16(3), // KindThread
		interpretation: 0,         // BothValid
		physical:       uint64(rankID)<<32 | uint64(threadID),
		logical:        hostID,
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

	return f, nil
}

// NewLegacy returns a Source for a version 2.0/3.0 measurement file.
func NewLegacy(path string) *Source {
	return &Source{path: path, legacy: true, log: xlog.Default()}
}
