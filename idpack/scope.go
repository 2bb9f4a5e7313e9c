// Package idpack implements the ID packer/unpacker (C5): on a multi-rank
// run, rank 0's Packer records every classification expansion it computes
// into a portable blob; every other rank's Unpacker replays that blob as a
// Classifier instead of reclassifying from scratch (spec §4.5).
package idpack

import (
	"encoding/binary"
	"fmt"

	"github.com/ccprof/profbuild/model"
)

// Sentinel scope discriminators spec §4.5 defines. `function`, `loop`,
// `line`, and `global` scopes are invalid packer input — only `point`,
// `placeholder`, and `unknown` ever cross the wire, since everything else
// is a classification *result*, not a pre-classification leaf.
const (
	scopeUnknown     uint64 = 0xF0F1F2F300000000
	scopePlaceholder uint64 = 0xF3F2F1F000000000
)

// encodeScope renders scope into the 64-bit discriminator plus, for point
// scopes, a module id and 64-bit offset, per spec §4.5's "scope encoding".
func encodeScope(scope model.Scope, moduleID func(*model.Module) uint32) (discriminator uint64, offset uint64, err error) {
	switch scope.Kind {
	case model.ScopeUnknown:
		return scopeUnknown, 0, nil
	case model.ScopePlaceholder:
		return scopePlaceholder, uint64(scope.PlaceholderKind), nil
	case model.ScopePoint:
		return uint64(moduleID(scope.Module)), scope.Offset, nil
	default:
		return 0, 0, fmt.Errorf("idpack: scope kind %v is not valid packer input", scope.Kind)
	}
}

// decodeScope reverses encodeScope.
func decodeScope(discriminator, offset uint64, moduleByID func(uint32) *model.Module) (model.Scope, error) {
	switch discriminator {
	case scopeUnknown:
		return model.UnknownScope(), nil
	case scopePlaceholder:
		return model.PlaceholderScope(uint32(offset)), nil
	default:
		m := moduleByID(uint32(discriminator))
		if m == nil {
			return model.Scope{}, fmt.Errorf("idpack: unknown module id %d in packed scope", discriminator)
		}
		return model.PointScope(m, offset), nil
	}
}

// putU64 / getU64 are the big-endian helpers the packed blob uses
// throughout, matching the teacher's big-endian wire-format convention
// (see sparsedb's layout, grounded on the same original_source format).
func putU64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
func getU64(buf []byte) uint64    { return binary.BigEndian.Uint64(buf) }
func putU32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func getU32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }
