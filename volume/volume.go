// Package volume composes the image, bitmap, inode, directory, and
// path-resolver layers into the path-indexed operation set an external
// bridge would consume: stat, read, write, truncate, mknod, unlink, link,
// rename, list, chmod, set-time.
//
// A Volume carries no lock. It is built for the single-threaded cooperative
// model the rest of this module assumes: one caller drives one operation to
// completion before the next begins.
package volume

import (
	"time"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/directory"
	"github.com/go-microfs/microfs/errors"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
	"github.com/go-microfs/microfs/pathresolver"
)

// Stat is the metadata record returned by Volume.Stat.
type Stat struct {
	InodeNumber int
	Mode        uint32
	Size        int64
	Uid         uint32
	Gid         uint32
	Nlink       int32
	Atime       time.Time
	Mtime       time.Time
	NumBlocks   int64
	BlockSize   int64
}

// FSStat summarizes the whole volume, in the spirit of this corpus's
// disko.FSStat: free/total blocks and inodes.
type FSStat struct {
	BlockSize   int64
	TotalBlocks int64
	BlocksFree  int64
	TotalInodes int64
	InodesFree  int64
}

// Volume is the single process-wide context threaded through every
// operation.
type Volume struct {
	img    *image.Image
	blocks *bitmap.Blocks
	inodes *bitmap.Inodes
	table  *inode.Table
}

// New wraps an already-formatted image. Use Format to create a fresh one.
func New(img *image.Image) (*Volume, error) {
	blocks, err := bitmap.NewBlocks(img, false)
	if err != nil {
		return nil, err
	}
	inodes, err := bitmap.NewInodes(img, false)
	if err != nil {
		return nil, err
	}
	table := inode.NewTable(img, inodes)

	return &Volume{img: img, blocks: blocks, inodes: inodes, table: table}, nil
}

// Format lays out a fresh image: block 0 zeroed and its bitmaps reset to
// their reserved bits, the inode table zeroed, and inode 0 set up as the root
// directory with one data block. Format also writes "." and ".." entries into
// the root, but both name inode 0, and an entry whose inode number is 0 counts
// as an empty slot: neither is listed or resolved, and later inserts into the
// root reuse that slot.
func Format(img *image.Image, now time.Time) (*Volume, error) {
	if err := img.ZeroBlock(0); err != nil {
		return nil, err
	}
	blocks, err := bitmap.NewBlocks(img, true)
	if err != nil {
		return nil, err
	}
	inodes, err := bitmap.NewInodes(img, true)
	if err != nil {
		return nil, err
	}

	if err := img.ZeroBlock(1); err != nil {
		return nil, err
	}

	table := inode.NewTable(img, inodes)

	root := &inode.Record{
		Refs:  1,
		Mode:  inode.ModeDir | 0o755,
		Atime: now.Unix(),
		Mtime: now.Unix(),
	}
	if err := table.Grow(root, image.BlockSize, blocks, now); err != nil {
		return nil, err
	}
	if err := table.Put(pathresolver.RootInode, root); err != nil {
		return nil, err
	}

	if err := directory.Put(img, table, blocks, root, ".", pathresolver.RootInode, now); err != nil {
		return nil, err
	}
	if err := directory.Put(img, table, blocks, root, "..", pathresolver.RootInode, now); err != nil {
		return nil, err
	}
	if err := table.Put(pathresolver.RootInode, root); err != nil {
		return nil, err
	}

	return &Volume{img: img, blocks: blocks, inodes: inodes, table: table}, nil
}

// resolve translates path to (inum, record).
func (v *Volume) resolve(path string) (int, *inode.Record, error) {
	inum, err := pathresolver.Lookup(v.img, v.table, path)
	if err != nil {
		return -1, nil, err
	}
	rec, err := v.table.Get(inum)
	if err != nil {
		return -1, nil, err
	}
	return inum, rec, nil
}

func statFromRecord(inum int, rec *inode.Record) Stat {
	numBlocks := (rec.Size + 511) / 512
	if rec.Size == 0 {
		numBlocks = 0
	}
	return Stat{
		InodeNumber: inum,
		Mode:        rec.Mode,
		Size:        rec.Size,
		Uid:         rec.Uid,
		Gid:         rec.Gid,
		Nlink:       rec.Refs,
		Atime:       time.Unix(rec.Atime, 0),
		Mtime:       time.Unix(rec.Mtime, 0),
		NumBlocks:   numBlocks,
		BlockSize:   image.BlockSize,
	}
}

// Stat returns metadata for path.
func (v *Volume) Stat(path string) (Stat, error) {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return statFromRecord(inum, rec), nil
}

// Read copies up to len(buf) bytes from path starting at off into buf,
// returning the number of bytes copied. A read starting at or past EOF
// returns 0, nil and leaves atime unchanged; a read that copies its whole
// range updates atime.
func (v *Volume) Read(path string, buf []byte, off int64) (int, error) {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return 0, err
	}

	if off >= rec.Size {
		return 0, nil
	}

	toRead := int64(len(buf))
	if remaining := rec.Size - off; toRead > remaining {
		toRead = remaining
	}

	written := 0
	for int64(written) < toRead {
		logicalOffset := off + int64(written)
		blockIdx := int(logicalOffset / image.BlockSize)
		blockOff := int(logicalOffset % image.BlockSize)

		bnum, err := rec.Bnum(v.img, blockIdx)
		if err != nil {
			return written, err
		}
		if bnum == -1 {
			// Unallocated hole; stop here and report what we copied so far.
			return written, nil
		}

		block, err := v.img.Block(bnum)
		if err != nil {
			return written, err
		}

		chunk := int(toRead) - written
		if remainingInBlock := image.BlockSize - blockOff; chunk > remainingInBlock {
			chunk = remainingInBlock
		}
		copy(buf[written:written+chunk], block[blockOff:blockOff+chunk])
		written += chunk
	}

	rec.Atime = time.Now().Unix()
	if err := v.table.Put(inum, rec); err != nil {
		return written, err
	}
	return written, nil
}

// Write writes len(buf) bytes to path at off, growing the file first if the
// write extends past the current size. Returns the number of bytes written.
func (v *Volume) Write(path string, buf []byte, off int64) (int, error) {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	needed := off + int64(len(buf))
	if needed > rec.Size {
		if err := v.table.Grow(rec, needed, v.blocks, now); err != nil {
			return 0, errors.ErrNoSpace.Wrap(err)
		}
	}

	written := 0
	for written < len(buf) {
		logicalOffset := off + int64(written)
		blockIdx := int(logicalOffset / image.BlockSize)
		blockOff := int(logicalOffset % image.BlockSize)

		bnum, err := rec.Bnum(v.img, blockIdx)
		if err != nil {
			return written, err
		}
		if bnum == -1 {
			return written, errors.ErrInvalidArgument.WithMessage("write target block is unallocated")
		}

		block, err := v.img.Block(bnum)
		if err != nil {
			return written, err
		}

		chunk := len(buf) - written
		if remainingInBlock := image.BlockSize - blockOff; chunk > remainingInBlock {
			chunk = remainingInBlock
		}
		copy(block[blockOff:blockOff+chunk], buf[written:written+chunk])
		written += chunk
	}

	rec.Mtime = now.Unix()
	if err := v.table.Put(inum, rec); err != nil {
		return written, err
	}
	return written, nil
}

// Truncate resizes path to newSize, growing or shrinking as needed.
func (v *Volume) Truncate(path string, newSize int64) error {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return err
	}

	now := time.Now()
	switch {
	case newSize > rec.Size:
		if err := v.table.Grow(rec, newSize, v.blocks, now); err != nil {
			return errors.ErrNoSpace.Wrap(err)
		}
	case newSize < rec.Size:
		if err := v.table.Shrink(rec, newSize, v.blocks, now); err != nil {
			return err
		}
	default:
		return nil
	}
	return v.table.Put(inum, rec)
}

// Mknod creates a new file or directory at path with the given mode. It
// fails if path already exists.
func (v *Volume) Mknod(path string, mode uint32) error {
	if _, err := pathresolver.Lookup(v.img, v.table, path); err == nil {
		return errors.ErrAlreadyExists.WithMessage(path)
	}

	parentInum, err := pathresolver.LookupParent(v.img, v.table, path)
	if err != nil {
		return err
	}
	parent, err := v.table.Get(parentInum)
	if err != nil {
		return err
	}

	now := time.Now()
	inum, rec, err := v.table.Alloc(0, 0, now)
	if err != nil {
		return err
	}
	rec.Mode = mode

	if mode&inode.ModeDir != 0 {
		if err := v.table.Grow(rec, image.BlockSize, v.blocks, now); err != nil {
			_ = v.table.Free(inum, v.blocks)
			return errors.ErrNoSpace.Wrap(err)
		}
	}
	if err := v.table.Put(inum, rec); err != nil {
		_ = v.table.Free(inum, v.blocks)
		return err
	}

	name := pathresolver.Base(path)
	if err := directory.Put(v.img, v.table, v.blocks, parent, name, inum, now); err != nil {
		_ = v.table.Free(inum, v.blocks)
		return err
	}
	return v.table.Put(parentInum, parent)
}

// Unlink removes path's entry from its parent directory and decrements the
// inode's ref count, freeing the inode once it reaches zero.
func (v *Volume) Unlink(path string) error {
	inum, err := pathresolver.Lookup(v.img, v.table, path)
	if err != nil {
		return err
	}
	parentInum, err := pathresolver.LookupParent(v.img, v.table, path)
	if err != nil {
		return err
	}
	parent, err := v.table.Get(parentInum)
	if err != nil {
		return err
	}

	name := pathresolver.Base(path)
	if err := directory.Delete(v.img, parent, name); err != nil {
		return err
	}
	if err := v.table.Put(parentInum, parent); err != nil {
		return err
	}

	rec, err := v.table.Get(inum)
	if err != nil {
		return err
	}
	rec.Refs--
	if rec.Refs <= 0 {
		return v.table.Free(inum, v.blocks)
	}
	return v.table.Put(inum, rec)
}

// Rmdir is a thin wrapper over Unlink, refusing to remove a non-empty
// directory.
func (v *Volume) Rmdir(path string) error {
	_, rec, err := v.resolve(path)
	if err != nil {
		return err
	}
	names, err := directory.List(v.img, rec)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name != "." && name != ".." {
			return errors.ErrNotEmpty.WithMessage(path)
		}
	}
	return v.Unlink(path)
}

// Link adds a new directory entry at to, pointing at from's inode, and
// increments its ref count. It fails if to already exists.
func (v *Volume) Link(from, to string) error {
	fromInum, err := pathresolver.Lookup(v.img, v.table, from)
	if err != nil {
		return err
	}
	if _, err := pathresolver.Lookup(v.img, v.table, to); err == nil {
		return errors.ErrAlreadyExists.WithMessage(to)
	}

	toParentInum, err := pathresolver.LookupParent(v.img, v.table, to)
	if err != nil {
		return err
	}
	toParent, err := v.table.Get(toParentInum)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := directory.Put(v.img, v.table, v.blocks, toParent, pathresolver.Base(to), fromInum, now); err != nil {
		return err
	}
	if err := v.table.Put(toParentInum, toParent); err != nil {
		return err
	}

	rec, err := v.table.Get(fromInum)
	if err != nil {
		return err
	}
	rec.Refs++
	return v.table.Put(fromInum, rec)
}

// Rename moves from to to. If to already exists it is unlinked first; this
// is documented as non-atomic, per the design notes. The inode is not
// reallocated.
func (v *Volume) Rename(from, to string) error {
	if _, err := pathresolver.Lookup(v.img, v.table, to); err == nil {
		if err := v.Unlink(to); err != nil {
			return err
		}
	}

	fromInum, err := pathresolver.Lookup(v.img, v.table, from)
	if err != nil {
		return err
	}
	toParentInum, err := pathresolver.LookupParent(v.img, v.table, to)
	if err != nil {
		return err
	}
	toParent, err := v.table.Get(toParentInum)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := directory.Put(v.img, v.table, v.blocks, toParent, pathresolver.Base(to), fromInum, now); err != nil {
		return err
	}
	if err := v.table.Put(toParentInum, toParent); err != nil {
		return err
	}

	fromParentInum, err := pathresolver.LookupParent(v.img, v.table, from)
	if err != nil {
		return err
	}
	fromParent, err := v.table.Get(fromParentInum)
	if err != nil {
		return err
	}
	if err := directory.Delete(v.img, fromParent, pathresolver.Base(from)); err != nil {
		return err
	}
	return v.table.Put(fromParentInum, fromParent)
}

// SetTime sets path's access and modify timestamps.
func (v *Volume) SetTime(path string, atime, mtime time.Time) error {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return err
	}
	rec.Atime = atime.Unix()
	rec.Mtime = mtime.Unix()
	return v.table.Put(inum, rec)
}

// Chmod replaces path's permission bits while preserving its type bits.
func (v *Volume) Chmod(path string, mode uint32) error {
	inum, rec, err := v.resolve(path)
	if err != nil {
		return err
	}
	rec.Mode = (rec.Mode & inode.ModeType) | (mode & inode.ModePerm)
	return v.table.Put(inum, rec)
}

// List returns the non-empty entry names of the directory at path. A
// non-directory or missing path returns an empty slice and no error.
func (v *Volume) List(path string) ([]string, error) {
	_, rec, err := v.resolve(path)
	if err != nil {
		return nil, nil
	}
	if !rec.IsDir() {
		return nil, nil
	}
	return directory.List(v.img, rec)
}

// FSStat summarizes free/total blocks and inodes for the whole volume.
func (v *Volume) FSStat() FSStat {
	freeBlocks := 0
	for i := 0; i < bitmap.NumBlocks; i++ {
		if !v.blocks.Get(i) {
			freeBlocks++
		}
	}

	freeInodes := 0
	for i := 0; i < bitmap.NumInodes; i++ {
		if !v.inodes.Get(i) {
			freeInodes++
		}
	}

	return FSStat{
		BlockSize:   image.BlockSize,
		TotalBlocks: bitmap.NumBlocks,
		BlocksFree:  int64(freeBlocks),
		TotalInodes: bitmap.NumInodes,
		InodesFree:  int64(freeInodes),
	}
}

// Image, Blocks, Inodes, and Table expose the underlying layers for packages
// like fsck that need to walk the raw structures rather than go through the
// operation surface.
func (v *Volume) Image() *image.Image      { return v.img }
func (v *Volume) Blocks() *bitmap.Blocks   { return v.blocks }
func (v *Volume) Inodes() *bitmap.Inodes   { return v.inodes }
func (v *Volume) Table() *inode.Table      { return v.table }
