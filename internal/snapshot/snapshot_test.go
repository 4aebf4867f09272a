package snapshot

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/internal/fs"
)

const testMagic = 0x54455354

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine")

	b := NewBuffer(nil)
	b.WriteUint8(3)
	b.WriteUint32(256)
	b.WriteUint64(1 << 40)
	b.WriteBytes([]byte("fox"))

	require.NoError(t, Save(fs.Default, path, testMagic, b.Bytes()))

	payload, err := Load(fs.Default, path, testMagic)
	require.NoError(t, err)

	r := NewBuffer(payload)
	assert.Equal(t, uint8(3), r.ReadUint8())
	assert.Equal(t, uint32(256), r.ReadUint32())
	assert.Equal(t, uint64(1<<40), r.ReadUint64())
	assert.Equal(t, []byte("fox"), r.ReadBytes())
	assert.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())

	r.ReadUint32()
	assert.ErrorIs(t, r.Err(), io.ErrUnexpectedEOF)
}

func TestUnframe_Errors(t *testing.T) {
	data := Frame(testMagic, []byte("payload"))

	_, err := Unframe(0x1, data)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	bad := append([]byte(nil), data...)
	bad[len(bad)-1] ^= 0xFF
	_, err = Unframe(testMagic, bad)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = Unframe(testMagic, data[:len(data)-2])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
