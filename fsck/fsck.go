// Package fsck walks the bitmaps and inode table of a microfs volume and
// reports every invariant violation it finds, instead of stopping at the
// first one.
package fsck

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
)

// Kind categorizes a consistency-check finding, for machine-readable
// reporting (e.g. the fsck command's --csv output).
type Kind string

const (
	KindReservedBit     Kind = "reserved-bit"
	KindBitmapMismatch  Kind = "bitmap-mismatch"
	KindRootType        Kind = "root-type"
	KindUnreadable      Kind = "unreadable"
	KindSizeMismatch    Kind = "size-mismatch"
	KindOwnershipUnused Kind = "ownership-unmarked"
	KindOwnershipShared Kind = "ownership-shared"
)

// Issue is a single consistency-check finding.
type Issue struct {
	Inode  int
	Kind   Kind
	Detail string
}

func (i Issue) String() string {
	return fmt.Sprintf("inode %d [%s]: %s", i.Inode, i.Kind, i.Detail)
}

// Check walks every invariant in the top-level spec's testable-properties
// section and returns every violation it finds.
func Check(img *image.Image, table *inode.Table, blocks *bitmap.Blocks, inodes *bitmap.Inodes) []Issue {
	var issues []Issue

	if !blocks.Get(0) {
		issues = append(issues, Issue{Inode: -1, Kind: KindReservedBit, Detail: "block bitmap bit 0 is not set"})
	}
	if !blocks.Get(1) {
		issues = append(issues, Issue{Inode: -1, Kind: KindReservedBit, Detail: "block bitmap bit 1 is not set"})
	}

	owner := make(map[int]int) // block index -> owning inode

	for i := 0; i < bitmap.NumInodes; i++ {
		rec, err := table.Get(i)
		if err != nil {
			issues = append(issues, Issue{Inode: i, Kind: KindUnreadable, Detail: fmt.Sprintf("unreadable: %s", err)})
			continue
		}

		bitSet := inodes.Get(i)
		live := rec.Refs >= 1

		if bitSet != live {
			issues = append(issues, Issue{
				Inode:  i,
				Kind:   KindBitmapMismatch,
				Detail: fmt.Sprintf("inode bitmap bit set=%v but refs=%d", bitSet, rec.Refs),
			})
		}
		if !live {
			continue
		}

		if i == 0 && !rec.IsDir() {
			issues = append(issues, Issue{Inode: i, Kind: KindRootType, Detail: "root inode does not carry the directory type bit"})
		}

		issues = append(issues, checkSizeBlockConsistency(img, i, rec)...)
		issues = append(issues, checkOwnership(img, i, rec, blocks, owner)...)
	}

	return issues
}

// checkSizeBlockConsistency verifies that ceil(size/4096) equals the number
// of occupied direct/indirect slots: (block != 0) + count(non-zero indirect
// entries) when indirect != 0, or just (block != 0) when indirect == 0.
func checkSizeBlockConsistency(img *image.Image, i int, rec *inode.Record) []Issue {
	want := bitmap.BytesToBlocks(rec.Size)

	occupied := 0
	if rec.Block != 0 {
		occupied++
	}

	if rec.Indirect == 0 {
		if want > 1 {
			return []Issue{{Inode: i, Kind: KindSizeMismatch, Detail: fmt.Sprintf(
				"size %d needs %d blocks but indirect pointer is unset", rec.Size, want)}}
		}
	} else {
		if want <= 1 {
			return []Issue{{Inode: i, Kind: KindSizeMismatch, Detail: fmt.Sprintf(
				"size %d needs at most 1 block but indirect pointer is set", rec.Size)}}
		}

		indirectBlock, err := img.Block(int(rec.Indirect))
		if err != nil {
			return []Issue{{Inode: i, Kind: KindUnreadable, Detail: fmt.Sprintf("indirect block unreadable: %s", err)}}
		}
		entriesPerIndirect := image.BlockSize / 4
		for k := 0; k < entriesPerIndirect; k++ {
			if le32(indirectBlock[k*4:k*4+4]) != 0 {
				occupied++
			}
		}
	}

	if occupied != want {
		return []Issue{{Inode: i, Kind: KindSizeMismatch, Detail: fmt.Sprintf(
			"size %d implies %d occupied blocks, found %d", rec.Size, want, occupied)}}
	}
	return nil
}

// checkOwnership verifies every block the inode references is marked used in
// the block bitmap and owned by exactly one live inode.
func checkOwnership(img *image.Image, i int, rec *inode.Record, blocks *bitmap.Blocks, owner map[int]int) []Issue {
	var issues []Issue

	claim := func(b int) {
		if b == 0 {
			return
		}
		if !blocks.Get(b) {
			issues = append(issues, Issue{Inode: i, Kind: KindOwnershipUnused, Detail: fmt.Sprintf("block %d referenced but not marked used", b)})
		}
		if prev, exists := owner[b]; exists {
			issues = append(issues, Issue{Inode: i, Kind: KindOwnershipShared, Detail: fmt.Sprintf("block %d already owned by inode %d", b, prev)})
		} else {
			owner[b] = i
		}
	}

	claim(int(rec.Block))
	if rec.Indirect != 0 {
		claim(int(rec.Indirect))

		indirectBlock, err := img.Block(int(rec.Indirect))
		if err != nil {
			issues = append(issues, Issue{Inode: i, Kind: KindUnreadable, Detail: fmt.Sprintf("indirect block unreadable: %s", err)})
			return issues
		}
		numEntries := bitmap.BytesToBlocks(rec.Size) - 1
		entriesPerIndirect := image.BlockSize / 4
		if numEntries > entriesPerIndirect {
			numEntries = entriesPerIndirect
		}
		for k := 0; k < numEntries; k++ {
			entry := le32(indirectBlock[k*4 : k*4+4])
			claim(int(entry))
		}
	}

	return issues
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Report folds a slice of issues into a single error using
// hashicorp/go-multierror, so callers that just want pass/fail don't need to
// iterate the slice themselves. It returns nil if issues is empty.
func Report(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}

	var result *multierror.Error
	for _, issue := range issues {
		result = multierror.Append(result, fmt.Errorf("%s", issue.String()))
	}
	return result.ErrorOrNil()
}
