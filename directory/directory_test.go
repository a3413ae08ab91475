package directory_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/directory"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
)

func newDirFixture(t *testing.T) (*image.Image, *bitmap.Blocks, *inode.Table, *inode.Record) {
	t.Helper()
	img := image.OpenInMemory()

	blocks, err := bitmap.NewBlocks(img, true)
	require.NoError(t, err)
	inodes, err := bitmap.NewInodes(img, true)
	require.NoError(t, err)
	table := inode.NewTable(img, inodes)

	now := time.Unix(1000, 0)
	rec := &inode.Record{Mode: inode.ModeDir | 0o755}
	require.NoError(t, table.Grow(rec, image.BlockSize, blocks, now))

	return img, blocks, table, rec
}

func TestPutLookup_RoundTrips(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	require.NoError(t, directory.Put(img, table, blocks, rec, "hello.txt", 7, now))

	got, err := directory.Lookup(img, rec, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestLookup_Missing(t *testing.T) {
	img, _, _, rec := newDirFixture(t)

	_, err := directory.Lookup(img, rec, "nope")
	assert.Error(t, err)
}

func TestPut_RejectsNameTooLong(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	name47 := make([]byte, 47)
	for i := range name47 {
		name47[i] = 'a'
	}
	require.NoError(t, directory.Put(img, table, blocks, rec, string(name47), 1, now))

	name48 := append(name47, 'b')
	err := directory.Put(img, table, blocks, rec, string(name48), 2, now)
	assert.Error(t, err)
}

func TestPut_RejectsEmptyName(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	err := directory.Put(img, table, blocks, rec, "", 1, now)
	assert.Error(t, err)
}

func TestDelete_NeverShrinksDirectory(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	require.NoError(t, directory.Put(img, table, blocks, rec, "a", 1, now))
	sizeBefore := rec.Size

	require.NoError(t, directory.Delete(img, rec, "a"))
	assert.Equal(t, sizeBefore, rec.Size)

	_, err := directory.Lookup(img, rec, "a")
	assert.Error(t, err)
}

func TestDelete_Missing(t *testing.T) {
	img, _, _, rec := newDirFixture(t)
	err := directory.Delete(img, rec, "nope")
	assert.Error(t, err)
}

func TestPut_GrowsDirectoryWhenFull(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	entriesPerBlock := image.BlockSize / directory.EntrySize
	for i := 0; i < entriesPerBlock; i++ {
		name := fmt.Sprintf("f%d", i)
		require.NoError(t, directory.Put(img, table, blocks, rec, name, i+1, now))
	}

	sizeBefore := rec.Size
	require.NoError(t, directory.Put(img, table, blocks, rec, "overflow", 999, now))
	assert.Greater(t, rec.Size, sizeBefore, "directory must grow by one block once full")

	got, err := directory.Lookup(img, rec, "overflow")
	require.NoError(t, err)
	assert.Equal(t, 999, got)
}

func TestList_ReturnsNonEmptyNamesInOrder(t *testing.T) {
	img, blocks, table, rec := newDirFixture(t)
	now := time.Unix(1000, 0)

	require.NoError(t, directory.Put(img, table, blocks, rec, "a", 1, now))
	require.NoError(t, directory.Put(img, table, blocks, rec, "b", 2, now))
	require.NoError(t, directory.Delete(img, rec, "a"))

	names, err := directory.List(img, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}
