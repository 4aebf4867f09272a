package snapshot

import (
	"encoding/binary"
	"io"
)

// Buffer is a little-endian payload builder and reader. The first read
// past the end sets Err and turns later reads into no-ops.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// NewBuffer returns a Buffer over b. Writes append to b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the written payload.
func (p *Buffer) Bytes() []byte { return p.buf }

// Err returns the first read error.
func (p *Buffer) Err() error { return p.err }

// Remaining returns the number of unread bytes.
func (p *Buffer) Remaining() int { return len(p.buf) - p.pos }

func (p *Buffer) WriteUint8(v uint8) { p.buf = append(p.buf, v) }

func (p *Buffer) WriteUint32(v uint32) { p.buf = binary.LittleEndian.AppendUint32(p.buf, v) }

func (p *Buffer) WriteUint64(v uint64) { p.buf = binary.LittleEndian.AppendUint64(p.buf, v) }

// WriteBytes writes a uint32 length prefix followed by b.
func (p *Buffer) WriteBytes(b []byte) {
	p.WriteUint32(uint32(len(b)))
	p.buf = append(p.buf, b...)
}

// WriteRaw appends b without a length prefix.
func (p *Buffer) WriteRaw(b []byte) { p.buf = append(p.buf, b...) }

func (p *Buffer) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *Buffer) ReadUint8() uint8 {
	b := p.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (p *Buffer) ReadUint32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (p *Buffer) ReadUint64() uint64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadBytes reads a length-prefixed byte slice. The result is a copy.
func (p *Buffer) ReadBytes() []byte {
	n := p.ReadUint32()
	return p.ReadRaw(int(n))
}

// ReadRaw reads n bytes. The result is a copy.
func (p *Buffer) ReadRaw(n int) []byte {
	b := p.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
