// Package vfs implements the Filesystem Facade of spec.md section 4.7:
// format, path lookup, file/directory creation and removal, the file-
// descriptor table, and read/write/seek indirection onto the inode
// table. It is the single entry point the CLI (and tests) drive.
//
// Grounded on HULER-cloud-SimLinuxFileSystem's command/ package (one
// file per verb, each closing over package-global working-directory and
// file-handle state) and tranvaj-ZOS2023_SP_GO/main.go's PathToInode/
// AddDirItem/RemoveDirItem call shape, composed here as methods on one
// FileSystem value built from explicit dependencies instead of globals.
package vfs

import (
	"github.com/sirupsen/logrus"

	"blockfs/allocator"
	"blockfs/btree"
	"blockfs/config"
	"blockfs/disk"
	"blockfs/errs"
	"blockfs/inode"
	"blockfs/ioctx"
	"blockfs/superblock"
)

// FileHandle is one entry in the file-descriptor table: an inode paired
// with the current read/write cursor. Descriptors are never reused
// within one FileSystem lifetime (spec.md section 5).
type FileHandle struct {
	InodeID uint64
	Offset  uint64
}

// FileSystem wires together the I/O context, block allocator, inode
// table and B+-tree storage over one disk image, and owns the process's
// open-file-descriptor table.
type FileSystem struct {
	cfg   config.Config
	disk  disk.Disk
	io    *ioctx.Context
	alloc *allocator.Allocator
	nodes *inode.Table
	log   *logrus.Logger

	fds    map[int]*FileHandle
	nextFD int
}

func wire(d disk.Disk, cfg config.Config, log *logrus.Logger) *FileSystem {
	ioc := ioctx.New(d, cfg.BlockCacheSize, log)
	alloc := allocator.New(ioc, log)
	treeStorage := btree.NewIOStorage(ioc, alloc)
	nodes := inode.New(ioc, alloc, treeStorage, cfg.InodeCacheSize, log)
	return &FileSystem{
		cfg:   cfg,
		disk:  d,
		io:    ioc,
		alloc: alloc,
		nodes: nodes,
		log:   log,
		fds:   make(map[int]*FileHandle),
	}
}

// Open opens (creating if necessary) the disk image at cfg.DiskPath and
// attempts to load its superblock. If the image is unformatted or
// carries a mismatched magic/version, the returned error has Kind
// Corruption and the caller should call Format before anything else —
// matching spec.md section 7's "treated as a signal to format".
func Open(cfg config.Config, log *logrus.Logger) (*FileSystem, error) {
	d, err := disk.OpenFile(cfg.DiskPath, cfg.DiskSize, cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	fs := wire(d, cfg, log)
	if _, err := fs.io.ReadSuperBlock(); err != nil {
		return fs, err
	}
	return fs, nil
}

// OpenMem builds a FileSystem over an in-memory disk — used by tests
// that don't need a real backing file.
func OpenMem(cfg config.Config, log *logrus.Logger) *FileSystem {
	d := disk.NewMem(cfg.BlockSize, cfg.DiskSize/int64(cfg.BlockSize))
	return wire(d, cfg, log)
}

// Format clears the disk and every cache, installs a freshly derived
// superblock, resets both bitmaps, and creates the root directory with
// its "." and ".." self-entries (spec.md section 4.7).
func (fs *FileSystem) Format() error {
	if err := fs.io.Clear(); err != nil {
		return err
	}
	fs.nodes.ClearCache()
	fs.fds = make(map[int]*FileHandle)
	fs.nextFD = 0

	sb := superblock.Derive(fs.cfg.DiskSize, fs.cfg.BlockSize)
	fs.io.SetSuper(sb)

	if err := fs.alloc.ResetBitmap(); err != nil {
		return err
	}
	if err := fs.nodes.ResetBitmap(); err != nil {
		return err
	}

	rootID, err := fs.nodes.AllocateInode(inode.Directory)
	if err != nil {
		return err
	}
	sb.RootInodeID = rootID

	if err := fs.nodes.AddDirItem(rootID, ".", rootID); err != nil {
		return err
	}
	if err := fs.nodes.AddDirItem(rootID, "..", rootID); err != nil {
		return err
	}

	return fs.Flush()
}

// Flush writes every dirty cached inode and block back to disk, then
// the superblock — the explicit counterpart to spec.md section 5's
// "writes reach the disk ... on flush_all(), called by I/O Context on
// teardown".
func (fs *FileSystem) Flush() error {
	if err := fs.nodes.Flush(); err != nil {
		return err
	}
	if err := fs.io.FlushAll(); err != nil {
		return err
	}
	return fs.io.FlushSuperBlock()
}

// Close flushes then releases the backing file handle, if any.
func (fs *FileSystem) Close() error {
	if err := fs.Flush(); err != nil {
		return err
	}
	if fd, ok := fs.disk.(*disk.FileDisk); ok {
		return fd.Close()
	}
	return nil
}

// OpenFile assigns a fresh file descriptor at the given starting offset for
// the file at path. Directories cannot be opened for I/O.
func (fs *FileSystem) OpenFile(path string, offset uint64) (int, error) {
	id, found, err := fs.LookupPath(path)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errs.New("vfs.OpenFile", errs.NotFound)
	}
	n, err := fs.nodes.Get(id)
	if err != nil {
		return 0, err
	}
	if n.FileType != inode.File {
		return 0, errs.New("vfs.OpenFile", errs.NotAFile)
	}

	fd := fs.nextFD
	fs.nextFD++
	fs.fds[fd] = &FileHandle{InodeID: id, Offset: offset}
	return fd, nil
}

func (fs *FileSystem) handle(fd int) (*FileHandle, error) {
	h, ok := fs.fds[fd]
	if !ok {
		return nil, errs.New("vfs.handle", errs.BadFD)
	}
	return h, nil
}

// Read reads into buf starting at fd's current offset and advances it
// by the number of bytes actually read.
func (fs *FileSystem) Read(fd int, buf []byte) (int, error) {
	h, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	n, err := fs.nodes.ReadData(h.InodeID, h.Offset, buf)
	if err != nil {
		return 0, err
	}
	h.Offset += uint64(n)
	return n, nil
}

// Write writes buf at fd's current offset and advances it by len(buf).
func (fs *FileSystem) Write(fd int, buf []byte) (int, error) {
	h, err := fs.handle(fd)
	if err != nil {
		return 0, err
	}
	if err := fs.nodes.WriteData(h.InodeID, h.Offset, buf); err != nil {
		return 0, err
	}
	h.Offset += uint64(len(buf))
	return len(buf), nil
}

// Seek repositions fd's cursor to an absolute offset.
func (fs *FileSystem) Seek(fd int, offset uint64) error {
	h, err := fs.handle(fd)
	if err != nil {
		return err
	}
	h.Offset = offset
	return nil
}

// CloseFD releases fd. Descriptor numbers are never reused.
func (fs *FileSystem) CloseFD(fd int) error {
	if _, err := fs.handle(fd); err != nil {
		return err
	}
	delete(fs.fds, fd)
	return nil
}

// Cat reads the whole file at path in block-sized chunks and returns its
// full content — a supplemented convenience over open/read/close for the
// CLI's "cat" command.
func (fs *FileSystem) Cat(path string) ([]byte, error) {
	fd, err := fs.OpenFile(path, 0)
	if err != nil {
		return nil, err
	}
	defer fs.CloseFD(fd)

	chunk := make([]byte, fs.cfg.BlockSize)
	var out []byte
	for {
		n, err := fs.Read(fd, chunk)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		out = append(out, chunk[:n]...)
	}
	return out, nil
}
