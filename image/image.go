// Package image owns the contiguous backing region of a microfs volume: a
// fixed 1 MiB file divided into 256 blocks of 4096 bytes each.
//
// The on-disk format is portable only across runs of the same build, per the
// design notes in the top-level spec: there's no attempt at endian- or
// architecture-independent serialization beyond what encoding/binary gives
// the inode and directory codecs elsewhere in this module.
package image

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/go-microfs/microfs/errors"
)

const (
	// BlockSize is the fixed size, in bytes, of every block in the image.
	BlockSize = 4096
	// TotalBlocks is the fixed number of blocks the image holds.
	TotalBlocks = 256
	// TotalSize is the fixed size, in bytes, of the backing image.
	TotalSize = BlockSize * TotalBlocks
)

// Image is a block-indexed view over a fixed-size byte region: either a
// memory-mapped file (Open) or an in-memory buffer (OpenInMemory) for tests
// and hosts without mmap support.
type Image struct {
	data []byte
	file *os.File
}

// Open opens or creates the backing file at path, extends it to exactly
// TotalSize bytes, and memory-maps it read-write.
func Open(path string) (*Image, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.ErrInvalidArgument.Wrap(err)
	}

	if err := file.Truncate(TotalSize); err != nil {
		file.Close()
		return nil, errors.ErrInvalidArgument.Wrap(err)
	}

	data, err := unix.Mmap(
		int(file.Fd()), 0, TotalSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		file.Close()
		return nil, errors.ErrInvalidArgument.Wrap(err)
	}

	return &Image{data: data, file: file}, nil
}

// OpenInMemory creates an Image backed by a plain byte slice instead of a
// memory-mapped file. Block() needs to hand back a slice that directly
// aliases the image's memory, which an io.ReadWriteSeeker can't give us, so
// this is a bare []byte rather than a wrapped stream. It implements the same
// Block() contract as Open, which makes it useful for tests that shouldn't
// depend on the filesystem.
func OpenInMemory() *Image {
	return &Image{data: make([]byte, TotalSize)}
}

// Block returns the BlockSize-byte slice backing block i. The slice aliases
// the image's memory directly: writes to it are writes to the image. i must
// be in [0, TotalBlocks).
func (img *Image) Block(i int) ([]byte, error) {
	if i < 0 || i >= TotalBlocks {
		return nil, errors.ErrInvalidArgument.WithMessage("block index out of range")
	}
	start := i * BlockSize
	return img.data[start : start+BlockSize : start+BlockSize], nil
}

// ZeroBlock overwrites block i with zero bytes.
func (img *Image) ZeroBlock(i int) error {
	block, err := img.Block(i)
	if err != nil {
		return err
	}
	clear(block)
	return nil
}

// Close flushes and releases the backing region. It's a no-op for an
// in-memory image.
func (img *Image) Close() error {
	if img.file == nil {
		return nil
	}

	_ = unix.Msync(img.data, unix.MS_SYNC)
	if err := unix.Munmap(img.data); err != nil {
		return errors.ErrInvalidArgument.Wrap(err)
	}
	err := img.file.Close()
	img.file = nil
	img.data = nil
	if err != nil {
		return errors.ErrInvalidArgument.Wrap(err)
	}
	return nil
}
