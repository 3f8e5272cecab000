package vfs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfs/config"
	"blockfs/errs"
	"blockfs/logging"
)

func testConfig(diskPath string) config.Config {
	return config.Config{
		DiskPath:       diskPath,
		DiskSize:       8 * 1024 * 1024,
		BlockSize:      4096,
		BlockCacheSize: config.BlockCacheCapacity,
		InodeCacheSize: config.InodeCacheCapacity,
	}
}

func newFormattedFS(t *testing.T) *FileSystem {
	t.Helper()
	fs := OpenMem(testConfig(""), logging.Discard())
	require.NoError(t, fs.Format())
	return fs
}

func TestFormatCreatesRootWithDotEntries(t *testing.T) {
	fs := newFormattedFS(t)

	id, found, err := fs.LookupPath("/")
	require.NoError(t, err)
	require.True(t, found)

	entries, err := fs.ListDirectory("/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	names := map[string]uint64{}
	for _, e := range entries {
		names[e.Name] = e.InodeID
	}
	assert.Equal(t, id, names["."])
	assert.Equal(t, id, names[".."])
}

func TestMkdirTouchLookupAndRemove(t *testing.T) {
	fs := newFormattedFS(t)

	_, err := fs.CreateDir("/", "a")
	require.NoError(t, err)
	_, err = fs.CreateFile("/a", "f")
	require.NoError(t, err)

	_, found, err := fs.LookupPath("/a/f")
	require.NoError(t, err)
	assert.True(t, found)

	err = fs.RemoveDir("/", "a")
	assert.True(t, errs.Is(err, errs.DirNotEmpty))

	require.NoError(t, fs.RemoveFile("/a", "f"))
	require.NoError(t, fs.RemoveDir("/", "a"))

	_, found, err = fs.LookupPath("/a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorageUpgradeAcrossAppends(t *testing.T) {
	fs := newFormattedFS(t)
	_, err := fs.CreateFile("/", "big")
	require.NoError(t, err)

	fd, err := fs.OpenFile("/big", 0)
	require.NoError(t, err)

	first := bytes.Repeat([]byte{0x11}, 400)
	n, err := fs.Write(fd, first)
	require.NoError(t, err)
	assert.Equal(t, len(first), n)

	second := bytes.Repeat([]byte{0x22}, 20*1024)
	n, err = fs.Write(fd, second)
	require.NoError(t, err)
	assert.Equal(t, len(second), n)

	require.NoError(t, fs.Seek(fd, 0))
	whole := make([]byte, len(first)+len(second))
	total := 0
	for total < len(whole) {
		n, err := fs.Read(fd, whole[total:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	require.Equal(t, len(whole), total)
	assert.Equal(t, append(append([]byte{}, first...), second...), whole)

	require.NoError(t, fs.CloseFD(fd))
}

func TestSparseWriteZeroFillsHoleAndPreservesTail(t *testing.T) {
	fs := newFormattedFS(t)
	_, err := fs.CreateFile("/", "sparse")
	require.NoError(t, err)

	fd, err := fs.OpenFile("/sparse", 0)
	require.NoError(t, err)

	blockSize := uint64(fs.cfg.BlockSize)
	offset := 5 * blockSize
	require.NoError(t, fs.Seek(fd, offset))
	needle := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	n, err := fs.Write(fd, needle)
	require.NoError(t, err)
	assert.Equal(t, len(needle), n)

	require.NoError(t, fs.Seek(fd, 0))
	hole := make([]byte, offset)
	read, err := fs.Read(fd, hole)
	require.NoError(t, err)
	assert.EqualValues(t, offset, read)
	for i, b := range hole {
		require.Zerof(t, b, "hole byte %d must read as zero", i)
	}

	require.NoError(t, fs.Seek(fd, offset))
	tail := make([]byte, len(needle))
	read, err = fs.Read(fd, tail)
	require.NoError(t, err)
	assert.Equal(t, len(needle), read)
	assert.Equal(t, needle, tail)

	require.NoError(t, fs.CloseFD(fd))
}

func TestPersistenceAcrossClose(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "disk.img")
	cfg := testConfig(diskPath)

	fs, err := Open(cfg, logging.Discard())
	require.True(t, errs.Is(err, errs.Corruption))
	require.NoError(t, fs.Format())

	_, err = fs.CreateFile("/", "persistence.token")
	require.NoError(t, err)
	fd, err := fs.OpenFile("/persistence.token", 0)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("OK"))
	require.NoError(t, err)
	require.NoError(t, fs.CloseFD(fd))
	require.NoError(t, fs.Close())

	reopened, err := Open(cfg, logging.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Cat("/persistence.token")
	require.NoError(t, err)
	assert.Equal(t, "OK", string(got))
}

func TestMkdirNAndTouchNCreateAllEntries(t *testing.T) {
	fs := newFormattedFS(t)

	n, failures := fs.MkdirN("/", "d", 3)
	assert.Empty(t, failures)
	assert.Equal(t, 3, n)

	n, failures = fs.TouchN("/", "f", 3)
	assert.Empty(t, failures)
	assert.Equal(t, 3, n)

	entries, err := fs.ListDirectory("/")
	require.NoError(t, err)
	assert.Len(t, entries, 2+3+3)
}

func TestMkdirNContinuesPastAFailedEntry(t *testing.T) {
	fs := newFormattedFS(t)

	// Pre-create "d1" so MkdirN's own attempt to create it collides.
	_, err := fs.CreateDir("/", "d1")
	require.NoError(t, err)

	n, failures := fs.MkdirN("/", "d", 5)
	require.Len(t, failures, 1)
	assert.Equal(t, "d1", failures[0].Name)
	assert.True(t, errs.Is(failures[0].Err, errs.AlreadyExists))
	assert.Equal(t, 4, n, "the other four entries must still be created despite the collision")

	entries, err := fs.ListDirectory("/")
	require.NoError(t, err)
	assert.Len(t, entries, 2+5)
}

func TestDfReflectsUsage(t *testing.T) {
	fs := newFormattedFS(t)
	before := fs.Df()

	_, err := fs.CreateFile("/", "x")
	require.NoError(t, err)

	after := fs.Df()
	assert.Less(t, after.FreeInodes, before.FreeInodes)
}

func TestOpenFileRejectsDirectories(t *testing.T) {
	fs := newFormattedFS(t)
	_, err := fs.CreateDir("/", "d")
	require.NoError(t, err)

	_, err = fs.OpenFile("/d", 0)
	assert.True(t, errs.Is(err, errs.NotAFile))
}

func TestClosedFDRejectsFurtherOps(t *testing.T) {
	fs := newFormattedFS(t)
	_, err := fs.CreateFile("/", "f")
	require.NoError(t, err)

	fd, err := fs.OpenFile("/f", 0)
	require.NoError(t, err)
	require.NoError(t, fs.CloseFD(fd))

	_, err = fs.Read(fd, make([]byte, 1))
	assert.True(t, errs.Is(err, errs.BadFD))
}
