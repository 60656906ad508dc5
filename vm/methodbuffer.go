package vm

import "encoding/binary"

// MethodBuffer is a growable byte buffer used to emit a method's final,
// optimized instruction stream. It mirrors ee/methodbuilder.h's
// MethodBuffer: a flat byte array grown to an estimated size up front,
// written to sequentially, and released (ownership transferred) once
// MethodInitializer has finished emitting.
type MethodBuffer struct {
	buf []byte
}

// NewMethodBuffer preallocates size bytes of capacity. size is normally
// MethodBuilder.ByteSize(), an upper bound on the emitted size (folds
// and removals only ever shrink the stream relative to the unoptimized
// one).
func NewMethodBuffer(size int) *MethodBuffer {
	return &MethodBuffer{buf: make([]byte, 0, size)}
}

// Current returns the buffer's current length: the offset the next Write
// will land at.
func (b *MethodBuffer) Current() int { return len(b.buf) }

// Bytes returns the buffer's contents written so far, without
// transferring ownership.
func (b *MethodBuffer) Bytes() []byte { return b.buf }

// Release hands the finished buffer to the caller and clears the
// receiver, mirroring the original's ownership-transfer semantics.
func (b *MethodBuffer) Release() []byte {
	out := b.buf
	b.buf = nil
	return out
}

// WriteByte appends a single byte.
func (b *MethodBuffer) WriteByte(v byte) {
	b.buf = append(b.buf, v)
}

// WriteUint16 appends v in little-endian order.
func (b *MethodBuffer) WriteUint16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

// WriteUint32 appends v in little-endian order.
func (b *MethodBuffer) WriteUint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

// WriteUint64 appends v in little-endian order.
func (b *MethodBuffer) WriteUint64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

// WriteUint32At overwrites the uint32 at offset off with v, used to patch a
// branch target or switch table entry after its true destination is
// known.
func (b *MethodBuffer) WriteUint32At(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[off:off+4], v)
}

// AlignTo pads the buffer with zero bytes until Current() is a multiple
// of alignment, used before writing a switch jump table so that 4-byte
// entries land on aligned offsets.
func (b *MethodBuffer) AlignTo(alignment int) {
	for len(b.buf)%alignment != 0 {
		b.buf = append(b.buf, 0)
	}
}
