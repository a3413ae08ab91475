// Package directory interprets an inode's data blocks as a packed array of
// fixed 64-byte name/inode-number records: insertion, deletion, lookup, and
// listing.
package directory

import (
	"encoding/binary"
	"time"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/errors"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
)

// EntrySize is the fixed size, in bytes, of one directory entry.
const EntrySize = 64

// NameSize is the size of the null-terminated name field within an entry,
// leaving 47 usable characters.
const NameSize = 48

// entriesPerBlock is how many directory entries fit in one data block.
const entriesPerBlock = image.BlockSize / EntrySize

// MaxEntries returns the number of directory-entry slots rec's data blocks
// can hold.
func MaxEntries(rec *inode.Record) int {
	return bitmap.BytesToBlocks(rec.Size) * entriesPerBlock
}

// entry is the decoded form of one 64-byte directory record.
type entry struct {
	name string
	inum uint32
}

// slotBlockAndOffset converts entry index idx into its block index and byte
// offset within that block.
func slotBlockAndOffset(idx int) (blockIdx, offset int) {
	entriesPerBlockLocal := entriesPerBlock
	blockIdx = idx / entriesPerBlockLocal
	offset = (idx % entriesPerBlockLocal) * EntrySize
	return
}

func readEntry(img *image.Image, rec *inode.Record, idx int) (entry, error) {
	blockIdx, offset := slotBlockAndOffset(idx)
	bnum, err := rec.Bnum(img, blockIdx)
	if err != nil {
		return entry{}, err
	}
	if bnum == -1 {
		return entry{}, nil
	}

	block, err := img.Block(bnum)
	if err != nil {
		return entry{}, err
	}
	raw := block[offset : offset+EntrySize]
	return decodeEntry(raw), nil
}

func writeEntry(img *image.Image, rec *inode.Record, idx int, name string, inum uint32) error {
	blockIdx, offset := slotBlockAndOffset(idx)
	bnum, err := rec.Bnum(img, blockIdx)
	if err != nil {
		return err
	}
	if bnum == -1 {
		return errors.ErrInvalidArgument.WithMessage("directory slot has no backing block")
	}

	block, err := img.Block(bnum)
	if err != nil {
		return err
	}
	encodeEntry(block[offset:offset+EntrySize], name, inum)
	return nil
}

func decodeEntry(raw []byte) entry {
	nameBytes := raw[:NameSize]
	nul := NameSize
	for i, b := range nameBytes {
		if b == 0 {
			nul = i
			break
		}
	}
	inum := binary.LittleEndian.Uint32(raw[NameSize : NameSize+4])
	return entry{name: string(nameBytes[:nul]), inum: inum}
}

func encodeEntry(raw []byte, name string, inum uint32) {
	for i := range raw {
		raw[i] = 0
	}
	copy(raw[:NameSize-1], name)
	binary.LittleEndian.PutUint32(raw[NameSize:NameSize+4], inum)
	// Remaining 12 reserved bytes are already zeroed above.
}

// isEmpty reports whether a decoded entry is an empty slot: inum == 0 or the
// name's first byte is NUL.
func (e entry) isEmpty() bool {
	return e.inum == 0 || e.name == ""
}

// Lookup scans rec's entries in order and returns the inode number of the
// first non-empty entry named name, or NOT_FOUND.
func Lookup(img *image.Image, rec *inode.Record, name string) (int, error) {
	max := MaxEntries(rec)
	for i := 0; i < max; i++ {
		e, err := readEntry(img, rec, i)
		if err != nil {
			return -1, err
		}
		if !e.isEmpty() && e.name == name {
			return int(e.inum), nil
		}
	}
	return -1, errors.ErrNotFound
}

// Put inserts name -> inum into directory rec, reusing the first empty slot
// it finds, or growing the directory by exactly one block if none is free.
func Put(
	img *image.Image,
	table *inode.Table,
	blocks *bitmap.Blocks,
	rec *inode.Record,
	name string,
	inum int,
	now time.Time,
) error {
	if len(name) == 0 {
		return errors.ErrInvalidArgument.WithMessage("directory entry name must not be empty")
	}
	if len(name) >= NameSize {
		return errors.ErrNameTooLong.WithMessage(name)
	}

	max := MaxEntries(rec)
	for i := 0; i < max; i++ {
		e, err := readEntry(img, rec, i)
		if err != nil {
			return err
		}
		if e.isEmpty() {
			return writeEntry(img, rec, i, name, uint32(inum))
		}
	}

	// No free slot: grow by exactly one block and use its first slot.
	if err := table.Grow(rec, rec.Size+image.BlockSize, blocks, now); err != nil {
		return errors.ErrNoSpace.Wrap(err)
	}
	return writeEntry(img, rec, max, name, uint32(inum))
}

// Delete zeroes the first non-empty entry named name. The directory is never
// shrunk by Delete.
func Delete(img *image.Image, rec *inode.Record, name string) error {
	max := MaxEntries(rec)
	for i := 0; i < max; i++ {
		e, err := readEntry(img, rec, i)
		if err != nil {
			return err
		}
		if !e.isEmpty() && e.name == name {
			return writeEntry(img, rec, i, "", 0)
		}
	}
	return errors.ErrNotFound
}

// List returns the non-empty entry names of rec, in on-disk order.
func List(img *image.Image, rec *inode.Record) ([]string, error) {
	max := MaxEntries(rec)
	names := make([]string, 0, max)
	for i := 0; i < max; i++ {
		e, err := readEntry(img, rec, i)
		if err != nil {
			return nil, err
		}
		if !e.isEmpty() {
			names = append(names, e.name)
		}
	}
	return names, nil
}
