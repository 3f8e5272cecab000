package vfs

import (
	"fmt"
	"strings"

	"blockfs/errs"
	"blockfs/inode"
)

// LookupPath resolves an absolute, "/"-separated path to an inode id by
// walking find_inode_by_name from the root, per spec.md section 4.7. An
// empty path (or "/") returns the root directory.
func (fs *FileSystem) LookupPath(path string) (uint64, bool, error) {
	if path == "" || path == "/" {
		return fs.io.Super().RootInodeID, true, nil
	}
	if !strings.HasPrefix(path, "/") {
		return 0, false, nil
	}

	cur := fs.io.Super().RootInodeID
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		id, found, err := fs.nodes.FindInodeByName(cur, part)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, nil
		}
		cur = id
	}
	return cur, true, nil
}

func (fs *FileSystem) resolveDir(parentPath string) (uint64, error) {
	id, found, err := fs.LookupPath(parentPath)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errs.New("vfs.resolveDir", errs.NotFound)
	}
	n, err := fs.nodes.Get(id)
	if err != nil {
		return 0, err
	}
	if n.FileType != inode.Directory {
		return 0, errs.New("vfs.resolveDir", errs.NotADirectory)
	}
	return id, nil
}

// CreateDir allocates a new directory inode named name inside
// parentPath, wires up its "." and ".." self-entries, and links it into
// the parent (spec.md section 4.7).
func (fs *FileSystem) CreateDir(parentPath, name string) (uint64, error) {
	parentID, err := fs.resolveDir(parentPath)
	if err != nil {
		return 0, err
	}

	id, err := fs.nodes.AllocateInode(inode.Directory)
	if err != nil {
		return 0, err
	}
	if err := fs.nodes.AddDirItem(id, ".", id); err != nil {
		return 0, err
	}
	if err := fs.nodes.AddDirItem(id, "..", parentID); err != nil {
		return 0, err
	}
	if err := fs.nodes.AddDirItem(parentID, name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateFile allocates a new file inode named name inside parentPath and
// links it into the parent.
func (fs *FileSystem) CreateFile(parentPath, name string) (uint64, error) {
	parentID, err := fs.resolveDir(parentPath)
	if err != nil {
		return 0, err
	}

	id, err := fs.nodes.AllocateInode(inode.File)
	if err != nil {
		return 0, err
	}
	if err := fs.nodes.AddDirItem(parentID, name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveFile removes the file named name from directory parentPath.
func (fs *FileSystem) RemoveFile(parentPath, name string) error {
	parentID, err := fs.resolveDir(parentPath)
	if err != nil {
		return err
	}
	return fs.nodes.RemoveDirItem(parentID, name)
}

// RemoveDir removes the (empty) directory named name from parentPath;
// fails DirNotEmpty if it holds anything beyond "." and "..".
func (fs *FileSystem) RemoveDir(parentPath, name string) error {
	parentID, err := fs.resolveDir(parentPath)
	if err != nil {
		return err
	}
	return fs.nodes.RemoveDirItem(parentID, name)
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	InodeID uint64
	Size    uint64
	Name    string
}

// ListDirectory returns every entry of the directory at path, in on-disk
// order (spec.md section 4.7: "emitting (inode_id, size, name) tuples").
func (fs *FileSystem) ListDirectory(path string) ([]DirEntry, error) {
	id, err := fs.resolveDir(path)
	if err != nil {
		return nil, err
	}
	items, err := fs.nodes.ListDirItems(id)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(items))
	for _, it := range items {
		child, err := fs.nodes.Get(it.InodeID)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{InodeID: it.InodeID, Size: child.Size, Name: it.Name})
	}
	return out, nil
}

// DfReport is the supplemented "df" free-space summary (spec.md section
// 6 lists the df command with no defined output shape; SPEC_FULL.md
// section 4 fixes it as total/free blocks, total/free inodes, and block
// size).
type DfReport struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
}

// Df computes the current free-space report from the live superblock.
func (fs *FileSystem) Df() DfReport {
	sb := fs.io.Super()
	return DfReport{
		BlockSize:   sb.BlockSize,
		TotalBlocks: sb.TotalBlocks,
		FreeBlocks:  sb.FreeBlocks,
		TotalInodes: sb.InodesCount,
		FreeInodes:  sb.FreeInodes,
	}
}

// BatchFailure names one entry a batch create skipped over and why.
type BatchFailure struct {
	Name string
	Err  error
}

// MkdirN creates n directories named prefix0..prefix(n-1) inside
// parentPath. It never stops early: every one of the n entries is
// attempted regardless of earlier failures, and the caller gets back
// both the success count and the individual failures, matching
// original_source/CLI.hpp's mkdirn handler, which loops over all n
// unconditionally, prints a line per failed entry, and tallies
// "Batch created N directories" at the end rather than aborting on the
// first error.
func (fs *FileSystem) MkdirN(parentPath, prefix string, n int) (int, []BatchFailure) {
	successCount := 0
	var failures []BatchFailure
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		if _, err := fs.CreateDir(parentPath, name); err != nil {
			failures = append(failures, BatchFailure{Name: name, Err: err})
			continue
		}
		successCount++
	}
	return successCount, failures
}

// TouchN is MkdirN's file-creating counterpart.
func (fs *FileSystem) TouchN(parentPath, prefix string, n int) (int, []BatchFailure) {
	successCount := 0
	var failures []BatchFailure
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		if _, err := fs.CreateFile(parentPath, name); err != nil {
			failures = append(failures, BatchFailure{Name: name, Err: err})
			continue
		}
		successCount++
	}
	return successCount, failures
}
