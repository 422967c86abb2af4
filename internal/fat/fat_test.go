package fat

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/x3fs/internal/blockdev"
	"github.com/hupe1980/x3fs/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatTable(t *testing.T, blockSize, blockCount int) (*Table, *blockdev.Device, *format.Superblock) {
	t.Helper()
	sb, err := format.NewSuperblock(blockSize, blockCount)
	require.NoError(t, err)
	dev, err := blockdev.Create(filepath.Join(t.TempDir(), "fat.x3"), blockSize, blockCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	tbl, err := Format(dev, sb)
	require.NoError(t, err)
	return tbl, dev, sb
}

func TestFormat_Layout(t *testing.T) {
	tbl, _, sb := formatTable(t, 64, 16)

	for id := format.BlockID(0); id < sb.FirstData(); id++ {
		assert.Equal(t, format.FATReserved, tbl.Get(id), "block %d", id)
	}
	assert.Equal(t, format.FATEnd, tbl.Get(sb.Root()))
	assert.Equal(t, 16-4, tbl.FreeCount())
	assert.False(t, tbl.Dirty())
}

func TestTable_AllocateAndChain(t *testing.T) {
	tbl, _, _ := formatTable(t, 64, 16)

	a, err := tbl.Allocate(format.NoBlock)
	require.NoError(t, err)
	assert.Equal(t, format.BlockID(4), a)
	b, err := tbl.Allocate(a)
	require.NoError(t, err)
	c, err := tbl.Allocate(b)
	require.NoError(t, err)

	assert.Equal(t, []format.BlockID{a, b, c}, tbl.Chain(a))
	next, ok := tbl.Next(a)
	require.True(t, ok)
	assert.Equal(t, b, next)
	_, ok = tbl.Next(c)
	assert.False(t, ok)
	assert.Equal(t, 9, tbl.FreeCount())
	assert.True(t, tbl.Dirty())
}

func TestTable_FreeChain(t *testing.T) {
	tbl, _, _ := formatTable(t, 64, 16)

	head, err := tbl.Allocate(format.NoBlock)
	require.NoError(t, err)
	prev := head
	for range 3 {
		prev, err = tbl.Allocate(prev)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, tbl.FreeChain(head))
	assert.Equal(t, 12, tbl.FreeCount())
	assert.Empty(t, tbl.Chain(head))

	t.Run("unallocated heads are a no-op", func(t *testing.T) {
		assert.Zero(t, tbl.FreeChain(format.NoBlock))
		assert.Zero(t, tbl.FreeChain(format.ReservedBlock))
		assert.Equal(t, format.FATReserved, tbl.Get(format.ReservedBlock))
	})

	t.Run("cyclic chain terminates", func(t *testing.T) {
		a, err := tbl.Allocate(format.NoBlock)
		require.NoError(t, err)
		b, err := tbl.Allocate(a)
		require.NoError(t, err)
		tbl.set(b, uint32(a))

		assert.Len(t, tbl.Chain(a), 2)
		assert.Equal(t, 2, tbl.FreeChain(a))
		assert.True(t, tbl.IsFree(a))
		assert.True(t, tbl.IsFree(b))
	})
}

func TestTable_Exhaustion(t *testing.T) {
	tbl, _, _ := formatTable(t, 64, 16)

	prev := format.NoBlock
	for range 12 {
		id, err := tbl.Allocate(prev)
		require.NoError(t, err)
		prev = id
	}
	_, ok := tbl.FindFree()
	assert.False(t, ok)
	_, err := tbl.Allocate(prev)
	assert.ErrorIs(t, err, format.ErrNoFreeSpace)
}

func TestTable_FlushAndLoad(t *testing.T) {
	tbl, dev, sb := formatTable(t, 64, 40)
	require.Equal(t, uint32(3), sb.FATBlocks)

	// Ids 20 and 35 live in the second and third table block.
	tbl.Link(format.NoBlock, 20)
	tbl.Link(20, 35)
	require.NoError(t, tbl.Flush())
	assert.False(t, tbl.Dirty())

	loaded, err := Load(dev, sb)
	require.NoError(t, err)
	assert.Equal(t, []format.BlockID{20, 35}, loaded.Chain(20))
	assert.Equal(t, tbl.FreeCount(), loaded.FreeCount())

	// Entries beyond the block count read back as reserved on disk.
	buf := make([]byte, 64)
	require.NoError(t, dev.ReadSystemBlock(format.FATStart+2, buf))
	assert.Equal(t, []byte{0xFE, 0xFF, 0xFF, 0xFF}, buf[(40-32)*4:(40-32)*4+4])
}

func TestLoad_RejectsUnreservedSystemBlock(t *testing.T) {
	tbl, dev, sb := formatTable(t, 64, 16)
	tbl.set(format.ReservedBlock, format.FATFree)
	require.NoError(t, tbl.Flush())

	_, err := Load(dev, sb)
	assert.ErrorIs(t, err, format.ErrCorrupt)
}
