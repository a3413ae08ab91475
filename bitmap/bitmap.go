// Package bitmap implements the two free-pool allocators (blocks, inodes)
// that live inside block 0 of a microfs image.
//
// Both allocators wrap github.com/boljen/go-bitmap, the same bitmap
// dependency used throughout this corpus's disk-image drivers. A bitmap.Bitmap
// is a view over a byte slice, not a copy, so mutations through Alloc/Free are
// immediately visible in the underlying image block.
package bitmap

import (
	"github.com/boljen/go-bitmap"

	"github.com/go-microfs/microfs/errors"
	"github.com/go-microfs/microfs/image"
)

const (
	// NumBlocks is the number of bits the block bitmap tracks.
	NumBlocks = image.TotalBlocks
	// NumInodes is the number of bits the inode bitmap tracks.
	NumInodes = 128

	// BlockBitmapOffset is the byte offset of the block bitmap within block 0.
	BlockBitmapOffset = 0
	// BlockBitmapSize is the size in bytes of the block bitmap (256 bits).
	BlockBitmapSize = NumBlocks / 8
	// InodeBitmapOffset is the byte offset of the inode bitmap within block 0.
	InodeBitmapOffset = BlockBitmapOffset + BlockBitmapSize
	// InodeBitmapSize is the size in bytes of the inode bitmap (128 bits).
	InodeBitmapSize = NumInodes / 8
)

// BytesToBlocks returns ceil(n / image.BlockSize), with BytesToBlocks(0) == 0.
func BytesToBlocks(n int64) int {
	if n <= 0 {
		return 0
	}
	return int((n + image.BlockSize - 1) / image.BlockSize)
}

// Blocks is the 256-bit block allocator. Bits 0 and 1 are permanently
// reserved: bit 0 for the bitmaps themselves (block 0), bit 1 for the inode
// table (block 1). Alloc never returns an index below 2.
type Blocks struct {
	bits bitmap.Bitmap
	img  *image.Image
}

// NewBlocks wraps the block bitmap living inside block 0 of img. fresh
// indicates whether this is a newly formatted image; if so, bits 0 and 1 are
// set and everything else is cleared.
func NewBlocks(img *image.Image, fresh bool) (*Blocks, error) {
	block0, err := img.Block(0)
	if err != nil {
		return nil, err
	}

	b := &Blocks{
		bits: bitmap.Bitmap(block0[BlockBitmapOffset : BlockBitmapOffset+BlockBitmapSize]),
		img:  img,
	}
	if fresh {
		clearBitmap(b.bits)
		b.bits.Set(0, true)
		b.bits.Set(1, true)
	}
	return b, nil
}

// clearBitmap zeros every byte backing bm. bitmap.Bitmap is just a []byte
// view, so this is a plain memory clear, not an API call into the bitmap
// package.
func clearBitmap(bm bitmap.Bitmap) {
	for i := range bm {
		bm[i] = 0
	}
}

// Get reports whether block i is in use.
func (b *Blocks) Get(i int) bool {
	return b.bits.Get(i)
}

// Alloc scans [2, NumBlocks) for the lowest clear bit, sets it, zeros the
// block, and returns its index. Returns NO_SPACE when the pool is exhausted.
func (b *Blocks) Alloc() (int, error) {
	for i := 2; i < NumBlocks; i++ {
		if !b.bits.Get(i) {
			b.bits.Set(i, true)
			if err := b.img.ZeroBlock(i); err != nil {
				b.bits.Set(i, false)
				return -1, err
			}
			return i, nil
		}
	}
	return -1, errors.ErrNoSpace.WithMessage("no free blocks")
}

// Free clears bit i. It does not re-zero the block.
func (b *Blocks) Free(i int) error {
	if i < 2 || i >= NumBlocks {
		return errors.ErrInvalidArgument.WithMessage("block index out of range")
	}
	b.bits.Set(i, false)
	return nil
}

// Inodes is the 128-bit inode allocator. Bit 0 (the root directory) is
// permanently pinned: Alloc never returns it, and Free refuses to clear it,
// protecting against the scenario the design notes call out — that a
// careless free_inode(0) would let a later alloc_inode hand inode 0 to an
// ordinary file.
type Inodes struct {
	bits bitmap.Bitmap
}

// NewInodes wraps the inode bitmap living inside block 0 of img. fresh
// indicates whether to reset it: only bit 0 (root) is set, everything else
// cleared.
func NewInodes(img *image.Image, fresh bool) (*Inodes, error) {
	block0, err := img.Block(0)
	if err != nil {
		return nil, err
	}

	in := &Inodes{
		bits: bitmap.Bitmap(block0[InodeBitmapOffset : InodeBitmapOffset+InodeBitmapSize]),
	}
	if fresh {
		clearBitmap(in.bits)
		in.bits.Set(0, true)
	}
	return in, nil
}

// Get reports whether inode i is allocated.
func (in *Inodes) Get(i int) bool {
	return in.bits.Get(i)
}

// Alloc scans [1, NumInodes) for the lowest clear bit, sets it, and returns
// its index. Inode 0 (root) is never handed out here. Returns NO_SPACE when
// the pool is exhausted.
func (in *Inodes) Alloc() (int, error) {
	for i := 1; i < NumInodes; i++ {
		if !in.bits.Get(i) {
			in.bits.Set(i, true)
			return i, nil
		}
	}
	return -1, errors.ErrNoSpace.WithMessage("no free inodes")
}

// Free clears bit i. Freeing inode 0 is always refused.
func (in *Inodes) Free(i int) error {
	if i <= 0 || i >= NumInodes {
		return errors.ErrInvalidArgument.WithMessage("inode index out of range or is root")
	}
	in.bits.Set(i, false)
	return nil
}
