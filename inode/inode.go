// Package inode implements block 1 of a microfs image: a fixed array of 128
// inode records, plus the block-pointer arithmetic (direct + single
// indirect) that maps a logical file offset to a physical block.
package inode

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/errors"
	"github.com/go-microfs/microfs/image"
)

// Mode bits. ModeDir is the directory type bit from the spec; the rest follow
// the traditional Unix permission layout.
const (
	ModeDir    uint32 = 0o040000
	ModeFile   uint32 = 0o100000
	ModeType   uint32 = 0o170000
	ModePerm   uint32 = 0o007777
)

// recordSize is the on-disk size of one Record, after fixed-width encoding:
// 4 (refs) + 4 (mode) + 8 (size) + 4 (block) + 4 (indirect) + 4 (atime) +
// 4 (mtime) + 4 (uid) + 4 (gid) = 40 bytes.
const recordSize = 40

// NumInodes is the number of inode records the table holds.
const NumInodes = bitmap.NumInodes

// entriesPerIndirectBlock is how many 4-byte block-id entries fit in one
// indirect block.
const entriesPerIndirectBlock = image.BlockSize / 4

// MaxAddressableBlocks is 1 (direct) + entriesPerIndirectBlock (indirect).
const MaxAddressableBlocks = 1 + entriesPerIndirectBlock

// Record is the in-memory form of one inode. Its field order is also its
// on-disk order: this struct is what gets serialized via encoding/binary,
// matching the teacher corpus's preference for an explicit codec over an
// unsafe memory overlay.
type Record struct {
	Refs     int32
	Mode     uint32
	Size     int64
	Block    uint32
	Indirect uint32
	Atime    int64
	Mtime    int64
	Uid      uint32
	Gid      uint32
}

// IsDir reports whether the inode's mode carries the directory type bit.
func (r *Record) IsDir() bool {
	return r.Mode&ModeDir != 0
}

// Bnum translates logical file block index k to a physical block number,
// following the direct/indirect scheme: k == 0 maps to r.Block; k >= 1 maps
// to entry k-1 of the indirect block. Returns -1 if the block is
// unallocated or k is out of range.
func (r *Record) Bnum(img *image.Image, k int) (int, error) {
	if k < 0 || k >= MaxAddressableBlocks {
		return -1, nil
	}
	if k == 0 {
		if r.Block == 0 {
			return -1, nil
		}
		return int(r.Block), nil
	}
	if r.Indirect == 0 {
		return -1, nil
	}

	indirectBlock, err := img.Block(int(r.Indirect))
	if err != nil {
		return -1, err
	}
	entry := binary.LittleEndian.Uint32(indirectBlock[(k-1)*4 : (k-1)*4+4])
	if entry == 0 {
		return -1, nil
	}
	return int(entry), nil
}

// Table is block 1 of the image, interpreted as an array of NumInodes
// records, plus the inode allocator that tracks which of them are live.
type Table struct {
	img    *image.Image
	inodes *bitmap.Inodes
}

// NewTable wraps block 1 of img as an inode table, backed by the given inode
// allocator.
func NewTable(img *image.Image, inodes *bitmap.Inodes) *Table {
	return &Table{img: img, inodes: inodes}
}

func recordOffset(i int) int {
	return i * recordSize
}

// Get returns the record for inode i. Out-of-range i is an INVALID_ARGUMENT
// error, matching the spec's "absent-value signal" for a null view.
func (t *Table) Get(i int) (*Record, error) {
	if i < 0 || i >= NumInodes {
		return nil, errors.ErrInvalidArgument.WithMessage("inode index out of range")
	}

	block, err := t.img.Block(1)
	if err != nil {
		return nil, err
	}

	off := recordOffset(i)
	return decodeRecord(block[off : off+recordSize]), nil
}

// Put writes rec back to inode i's slot in the table.
func (t *Table) Put(i int, rec *Record) error {
	if i < 0 || i >= NumInodes {
		return errors.ErrInvalidArgument.WithMessage("inode index out of range")
	}

	block, err := t.img.Block(1)
	if err != nil {
		return err
	}

	off := recordOffset(i)
	encodeRecord(block[off:off+recordSize], rec)
	return nil
}

// Alloc finds the lowest free inode, zeros its record, and initializes refs,
// uid/gid, and timestamps. mode is left to the caller. Returns NO_SPACE if
// the inode pool is exhausted.
func (t *Table) Alloc(uid, gid uint32, now time.Time) (int, *Record, error) {
	i, err := t.inodes.Alloc()
	if err != nil {
		return -1, nil, err
	}

	rec := &Record{
		Refs:  1,
		Uid:   uid,
		Gid:   gid,
		Atime: now.Unix(),
		Mtime: now.Unix(),
	}
	if err := t.Put(i, rec); err != nil {
		_ = t.inodes.Free(i)
		return -1, nil, err
	}
	return i, rec, nil
}

// Free releases inode i: its direct block, every live indirect entry, the
// indirect block itself, then zeros the record and clears the allocation
// bit. Freeing inode 0 (root) is always refused, before anything is released.
func (t *Table) Free(i int, blocks *bitmap.Blocks) error {
	if i == 0 {
		return errors.ErrInvalidArgument.WithMessage("refusing to free the root inode")
	}
	rec, err := t.Get(i)
	if err != nil {
		return err
	}

	if rec.Block != 0 {
		if err := blocks.Free(int(rec.Block)); err != nil {
			return err
		}
	}

	if rec.Indirect != 0 {
		indirectBlock, err := t.img.Block(int(rec.Indirect))
		if err != nil {
			return err
		}

		numEntries := bitmap.BytesToBlocks(rec.Size) - 1
		if numEntries > entriesPerIndirectBlock {
			numEntries = entriesPerIndirectBlock
		}
		for k := 0; k < numEntries; k++ {
			entry := binary.LittleEndian.Uint32(indirectBlock[k*4 : k*4+4])
			if entry != 0 {
				if err := blocks.Free(int(entry)); err != nil {
					return err
				}
			}
		}

		if err := blocks.Free(int(rec.Indirect)); err != nil {
			return err
		}
	}

	if err := t.Put(i, &Record{}); err != nil {
		return err
	}
	return t.inodes.Free(i)
}

// Grow extends rec to newSize, allocating and zero-filling blocks one at a
// time. On allocation failure, only the block that failed to place is freed;
// prior growth is not rolled back, and size/mtime are committed only on full
// success.
func (t *Table) Grow(rec *Record, newSize int64, blocks *bitmap.Blocks, now time.Time) error {
	currentBlocks := bitmap.BytesToBlocks(rec.Size)
	targetBlocks := bitmap.BytesToBlocks(newSize)

	for currentBlocks < targetBlocks {
		blockID, err := blocks.Alloc()
		if err != nil {
			return err
		}

		if err := t.attach(rec, currentBlocks, blockID, blocks); err != nil {
			_ = blocks.Free(blockID)
			return err
		}
		currentBlocks++
	}

	rec.Size = newSize
	rec.Mtime = now.Unix()
	return nil
}

// attach places blockID at logical index k of rec: k == 0 goes straight into
// rec.Block; k >= 1 goes into slot k-1 of the indirect block, allocating the
// indirect block on first use.
func (t *Table) attach(rec *Record, k, blockID int, blocks *bitmap.Blocks) error {
	if k == 0 {
		rec.Block = uint32(blockID)
		return nil
	}

	if rec.Indirect == 0 {
		indirectID, err := blocks.Alloc()
		if err != nil {
			return err
		}
		rec.Indirect = uint32(indirectID)
	}

	indirectBlock, err := t.img.Block(int(rec.Indirect))
	if err != nil {
		return err
	}
	slot := (k - 1) * 4
	binary.LittleEndian.PutUint32(indirectBlock[slot:slot+4], uint32(blockID))
	return nil
}

// Shrink frees blocks from the highest logical index down to the block count
// newSize requires, clearing each freed indirect slot to 0. If the target
// block count is <= 1 the indirect block itself is freed and rec.Indirect is
// cleared. Retained tail data past newSize is not zeroed.
func (t *Table) Shrink(rec *Record, newSize int64, blocks *bitmap.Blocks, now time.Time) error {
	currentBlocks := bitmap.BytesToBlocks(rec.Size)
	targetBlocks := bitmap.BytesToBlocks(newSize)

	for currentBlocks > targetBlocks {
		currentBlocks--
		if err := t.detach(rec, currentBlocks, blocks); err != nil {
			return err
		}
	}

	if targetBlocks <= 1 && rec.Indirect != 0 {
		if err := blocks.Free(int(rec.Indirect)); err != nil {
			return err
		}
		rec.Indirect = 0
	}

	rec.Size = newSize
	rec.Mtime = now.Unix()
	return nil
}

// detach frees whatever block occupies logical index k and clears the
// pointer to it.
func (t *Table) detach(rec *Record, k int, blocks *bitmap.Blocks) error {
	if k == 0 {
		if rec.Block == 0 {
			return nil
		}
		if err := blocks.Free(int(rec.Block)); err != nil {
			return err
		}
		rec.Block = 0
		return nil
	}

	if rec.Indirect == 0 {
		return nil
	}
	indirectBlock, err := t.img.Block(int(rec.Indirect))
	if err != nil {
		return err
	}
	slot := (k - 1) * 4
	entry := binary.LittleEndian.Uint32(indirectBlock[slot : slot+4])
	if entry == 0 {
		return nil
	}
	if err := blocks.Free(int(entry)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(indirectBlock[slot:slot+4], 0)
	return nil
}

func decodeRecord(buf []byte) *Record {
	r := bytes.NewReader(buf)
	var rec Record
	var atime, mtime int32
	// The zero values below are safe fallbacks; binary.Read only fails if buf
	// is short, which can't happen since callers always pass recordSize bytes.
	_ = binary.Read(r, binary.LittleEndian, &rec.Refs)
	_ = binary.Read(r, binary.LittleEndian, &rec.Mode)
	_ = binary.Read(r, binary.LittleEndian, &rec.Size)
	_ = binary.Read(r, binary.LittleEndian, &rec.Block)
	_ = binary.Read(r, binary.LittleEndian, &rec.Indirect)
	_ = binary.Read(r, binary.LittleEndian, &atime)
	_ = binary.Read(r, binary.LittleEndian, &mtime)
	_ = binary.Read(r, binary.LittleEndian, &rec.Uid)
	_ = binary.Read(r, binary.LittleEndian, &rec.Gid)
	rec.Atime = int64(atime)
	rec.Mtime = int64(mtime)
	return &rec
}

// encodeRecord serializes rec directly into buf using a bytewriter, the same
// bounded-slice io.Writer this corpus's unixv1 formatter uses to let
// encoding/binary write straight into a pre-sized block region.
func encodeRecord(buf []byte, rec *Record) {
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, rec.Refs)
	binary.Write(w, binary.LittleEndian, rec.Mode)
	binary.Write(w, binary.LittleEndian, rec.Size)
	binary.Write(w, binary.LittleEndian, rec.Block)
	binary.Write(w, binary.LittleEndian, rec.Indirect)
	binary.Write(w, binary.LittleEndian, int32(rec.Atime))
	binary.Write(w, binary.LittleEndian, int32(rec.Mtime))
	binary.Write(w, binary.LittleEndian, rec.Uid)
	binary.Write(w, binary.LittleEndian, rec.Gid)
}
