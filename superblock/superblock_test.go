package superblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/config"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sb := Derive(4*1024*1024*1024, config.DefaultBlockSize)
	sb.RootInodeID = 7
	sb.FreeBlocks = 123
	sb.FreeInodes = 45

	buf, err := sb.Encode(config.DefaultBlockSize)
	require.NoError(t, err)
	assert.Len(t, buf, config.DefaultBlockSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, *sb, *got, "serialize/deserialize must be the identity over every field")
}

func TestValid(t *testing.T) {
	sb := Derive(1<<30, config.DefaultBlockSize)
	assert.True(t, sb.Valid())

	sb.Version++
	assert.False(t, sb.Valid())
}

func TestBasicBlocksCnt(t *testing.T) {
	sb := Derive(1<<30, config.DefaultBlockSize)
	assert.Equal(t, 1+sb.BitmapCount+sb.InodeBitmapCount+sb.InodeTableCount, sb.BasicBlocksCnt())
}

func TestDeriveFreeBlocksExcludesBasicRegion(t *testing.T) {
	sb := Derive(1<<30, config.DefaultBlockSize)
	assert.Equal(t, sb.TotalBlocks-sb.BasicBlocksCnt(), sb.FreeBlocks)
	assert.Equal(t, sb.InodesCount, sb.FreeInodes)
}

func TestFanoutFitsBlockSize(t *testing.T) {
	blockSize := config.DefaultBlockSize
	m := Fanout(blockSize)
	require.Greater(t, m, uint32(1))

	const headerSize = 1 + 4 + 8
	size := headerSize + int(m-1)*8 + int(m)*8
	assert.LessOrEqual(t, size, blockSize)

	// m+1 children must not fit, confirming m is the maximum.
	overSize := headerSize + int(m)*8 + int(m+1)*8
	assert.Greater(t, overSize, blockSize)
}
