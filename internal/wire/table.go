package wire

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// table reads fields of a flatbuffers table by slot number.
type table struct {
	t flatbuffers.Table
}

// rootTable returns the root table of a finished buffer.
func rootTable(buf []byte) table {
	n := flatbuffers.GetUOffsetT(buf)
	return table{t: flatbuffers.Table{Bytes: buf, Pos: n}}
}

// field returns the vtable offset of a slot, 0 if absent.
func (r table) field(slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(r.t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

// bytes returns a copy of a byte vector, nil if absent or empty.
func (r table) bytes(slot int) []byte {
	o := r.field(slot)
	if o == 0 {
		return nil
	}

	v := r.t.ByteVector(o + r.t.Pos)
	if len(v) == 0 {
		return nil
	}

	out := make([]byte, len(v))
	copy(out, v)

	return out
}

// fixed copies a byte vector into dst. The vector must have len(dst) bytes or be absent.
func (r table) fixed(slot int, dst []byte) bool {
	o := r.field(slot)
	if o == 0 {
		return true
	}

	v := r.t.ByteVector(o + r.t.Pos)
	if len(v) == 0 {
		return true
	}

	if len(v) != len(dst) {
		return false
	}

	copy(dst, v)

	return true
}

func (r table) u64(slot int) uint64 {
	o := r.field(slot)
	if o == 0 {
		return 0
	}

	return r.t.GetUint64(o + r.t.Pos)
}

func (r table) u16(slot int) uint16 {
	o := r.field(slot)
	if o == 0 {
		return 0
	}

	return r.t.GetUint16(o + r.t.Pos)
}

func (r table) u8(slot int) byte {
	o := r.field(slot)
	if o == 0 {
		return 0
	}

	return r.t.GetByte(o + r.t.Pos)
}

func (r table) flag(slot int) bool {
	o := r.field(slot)
	if o == 0 {
		return false
	}

	return r.t.GetBool(o + r.t.Pos)
}

func (r table) str(slot int) string {
	o := r.field(slot)
	if o == 0 {
		return ""
	}

	return string(r.t.ByteVector(o + r.t.Pos))
}

// child returns a nested table.
func (r table) child(slot int) (table, bool) {
	o := r.field(slot)
	if o == 0 {
		return table{}, false
	}

	x := r.t.Indirect(o + r.t.Pos)

	return table{t: flatbuffers.Table{Bytes: r.t.Bytes, Pos: x}}, true
}

// vectorLen returns the length of a vector of tables.
func (r table) vectorLen(slot int) int {
	o := r.field(slot)
	if o == 0 {
		return 0
	}

	return r.t.VectorLen(o)
}

// vectorAt returns element i of a vector of tables.
func (r table) vectorAt(slot, i int) table {
	o := r.field(slot)
	x := r.t.Vector(o)
	x += flatbuffers.UOffsetT(i) * flatbuffers.SizeUOffsetT
	x = r.t.Indirect(x)

	return table{t: flatbuffers.Table{Bytes: r.t.Bytes, Pos: x}}
}

// buildVector writes already-built table offsets as a vector.
func buildVector(b *flatbuffers.Builder, offsets []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	b.StartVector(flatbuffers.SizeUOffsetT, len(offsets), flatbuffers.SizeUOffsetT)

	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}

	return b.EndVector(len(offsets))
}
