package speclog

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/colgo/internal/hash"
)

// Op identifies the type of a spec log record.
type Op uint8

const (
	// OpPut stores the spec of an object id, replacing any earlier one.
	OpPut Op = 1
	// OpErase removes the spec of an object id.
	OpErase Op = 2
)

const (
	recordHeaderSize = 4 + 1 + 4 + 4 // crc, op, id, length
	maxPayload       = 16 << 20
)

var (
	ErrInvalidCRC     = errors.New("invalid spec record checksum")
	ErrInvalidOp      = errors.New("invalid spec record op")
	ErrRecordTooLarge = errors.New("spec record too large")
)

// Record is one entry of the spec log.
type Record struct {
	Op      Op
	ID      uint32
	Payload []byte
}

// Size returns the encoded size of the record.
func (r *Record) Size() int64 {
	return int64(recordHeaderSize + len(r.Payload))
}

// Encode writes the record to w.
//
// Format: [CRC32C: 4][Op: 1][ID: 4][Length: 4][Payload: Length]
// The checksum covers everything after itself.
func (r *Record) Encode(w io.Writer) error {
	if len(r.Payload) > maxPayload {
		return ErrRecordTooLarge
	}

	buf := make([]byte, recordHeaderSize+len(r.Payload))
	buf[4] = byte(r.Op)
	binary.LittleEndian.PutUint32(buf[5:9], r.ID)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(r.Payload)))
	copy(buf[recordHeaderSize:], r.Payload)
	binary.LittleEndian.PutUint32(buf[0:4], hash.CRC32C(buf[4:]))

	_, err := w.Write(buf)
	return err
}

// Decode reads a record from r and returns the number of bytes consumed.
// A record cut short by the end of the input yields io.ErrUnexpectedEOF.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		return nil, int64(n), err
	}

	op := Op(header[4])
	id := binary.LittleEndian.Uint32(header[5:9])
	length := binary.LittleEndian.Uint32(header[9:13])

	if length > maxPayload {
		return nil, recordHeaderSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if m, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, int64(recordHeaderSize + m), err
	}

	crc := hash.NewCRC32C()
	_, _ = crc.Write(header[4:])
	_, _ = crc.Write(payload)

	size := int64(recordHeaderSize) + int64(length)
	if crc.Sum32() != binary.LittleEndian.Uint32(header[0:4]) {
		return nil, size, ErrInvalidCRC
	}

	if op != OpPut && op != OpErase {
		return nil, size, ErrInvalidOp
	}

	return &Record{Op: op, ID: id, Payload: payload}, size, nil
}
