package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperblockLayout(t *testing.T) {
	sb, err := NewSuperblock(64, 16)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), sb.FCBPerBlock)
	assert.Equal(t, uint32(1), sb.FATBlocks)
	assert.Equal(t, BlockID(3), sb.Root())
	assert.Equal(t, BlockID(3), sb.FirstData())

	buf := make([]byte, 64)
	sb.Encode(buf)

	got, err := DecodeSuperblock(buf)
	require.NoError(t, err)
	assert.Equal(t, sb, got)
}

func TestDecodeSuperblockRejectsDamage(t *testing.T) {
	sb, err := NewSuperblock(512, 128)
	require.NoError(t, err)
	buf := make([]byte, 512)
	sb.Encode(buf)

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[0] ^= 0xFF
		_, err := DecodeSuperblock(bad)
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[12] ^= 0x01
		_, err := DecodeSuperblock(bad)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestValidateGeometry(t *testing.T) {
	tests := []struct {
		name       string
		blockSize  int
		blockCount int
		ok         bool
	}{
		{"smallest", 64, 5, true},
		{"too few blocks", 64, 4, false},
		{"block size too small", 32, 100, false},
		{"block size not multiple of fcb", 100, 100, false},
		{"block size too large", 128 * 1024, 100, false},
		{"typical", 1024, 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeometry(tt.blockSize, tt.blockCount)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidGeometry)
			}
		})
	}
}

func TestFCBName(t *testing.T) {
	long := "abcdefghijklmnopqrstuv" // exactly NameLength
	require.Len(t, long, NameLength)

	f := NewFCB(long, 0)
	assert.Equal(t, long, f.FileName())
	assert.True(t, f.MatchName(long))
	assert.False(t, f.MatchName(long[:21]))
	assert.True(t, f.Exists())

	buf := make([]byte, FCBSize)
	f.Size = 130
	f.Head = 7
	f.Encode(buf)
	assert.Equal(t, f, DecodeFCB(buf))

	short := NewFCB("a", AttrDirectory)
	assert.Equal(t, "a", short.FileName())
	assert.Equal(t, "dir", short.Kind())
	assert.False(t, short.MatchName("ab"))
}

func TestBlockIDAllocated(t *testing.T) {
	assert.False(t, NoBlock.Allocated())
	assert.False(t, ReservedBlock.Allocated())
	assert.True(t, BlockID(2).Allocated())
}

func TestDirHeader(t *testing.T) {
	h := DirHeader{Magic: DirMagic, ItemNum: 3, Self: 9, Parent: 4}
	buf := make([]byte, DirHeaderSize)
	h.Encode(buf)

	got, err := DecodeDirHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DecodeDirHeader(make([]byte, DirHeaderSize))
	assert.ErrorIs(t, err, ErrCorrupt)
}
