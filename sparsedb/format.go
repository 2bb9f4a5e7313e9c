// Package sparsedb implements the sparse DB writer (C6): profile.db and
// cct.db, the pair of binary files holding the same (thread, context,
// metric, value) relation transposed two ways (spec §4.6).
package sparsedb

import "encoding/binary"

var profileMagic = [10]byte{'H', 'P', 'C', 'P', 'R', 'O', 'F', '-', 'd', 'b'}
var cctMagic = [10]byte{'H', 'P', 'C', 'C', 'C', 'T', '-', 'd', 'b', ' '}

const (
	formatMajor uint8 = 4
	formatMinor uint8 = 0
)

var profileFooter = [8]byte{'P', 'R', 'O', 'F', 'D', 'B', 'f', 't'}
var cctFooter = [8]byte{'C', 'C', 'T', 'D', 'B', 'f', 't', 'r'}

const (
	ctxIDSentinel    uint32 = 0xFFFFFFFF
	metricIDSentinel uint16 = 0xFFFF
)

var order = binary.BigEndian

// padTo8 returns the number of zero bytes needed to bring n up to a
// multiple of 8, per spec §4.6.1/§4.6.2's "pad to 8" markers.
func padTo8(n int) int {
	if r := n % 8; r != 0 {
		return 8 - r
	}
	return 0
}

// profInfoRecord is one profile.db profile-info record (52 bytes).
type profInfoRecord struct {
	idTuplePtr uint64
	metadataPtr uint64
	spareOne   uint64
	spareTwo   uint64
	numVals    uint64
	numNZCtxs  uint32
	dataOffset uint64
}

const profInfoRecordSize = 8 + 8 + 8 + 8 + 8 + 4 + 8 // 52

func (r profInfoRecord) marshal() []byte {
	b := make([]byte, profInfoRecordSize)
	order.PutUint64(b[0:], r.idTuplePtr)
	order.PutUint64(b[8:], r.metadataPtr)
	// spareOne/spareTwo ("spare_one", "spare_two") are left zero — the
	// legacy format never populates them either (spec §9 open question).
	order.PutUint64(b[32:], r.numVals)
	order.PutUint32(b[40:], r.numNZCtxs)
	order.PutUint64(b[44:], r.dataOffset)
	return b
}

// ctxInfoRecord is one cct.db context-info record (22 bytes).
type ctxInfoRecord struct {
	ctxID      uint32
	numVals    uint64
	numNZMids  uint16
	dataOffset uint64
}

const ctxInfoRecordSize = 4 + 8 + 2 + 8 // 22

func (r ctxInfoRecord) marshal() []byte {
	b := make([]byte, ctxInfoRecordSize)
	order.PutUint32(b[0:], r.ctxID)
	order.PutUint64(b[4:], r.numVals)
	order.PutUint16(b[12:], r.numNZMids)
	order.PutUint64(b[14:], r.dataOffset)
	return b
}
