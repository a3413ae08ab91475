package pathresolver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-microfs/microfs/bitmap"
	"github.com/go-microfs/microfs/directory"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
	"github.com/go-microfs/microfs/pathresolver"
)

type fixture struct {
	img    *image.Image
	blocks *bitmap.Blocks
	table  *inode.Table
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	img := image.OpenInMemory()

	blocks, err := bitmap.NewBlocks(img, true)
	require.NoError(t, err)
	inodes, err := bitmap.NewInodes(img, true)
	require.NoError(t, err)
	table := inode.NewTable(img, inodes)

	now := time.Unix(1000, 0)
	root := &inode.Record{Mode: inode.ModeDir | 0o755}
	require.NoError(t, table.Grow(root, image.BlockSize, blocks, now))
	require.NoError(t, table.Put(pathresolver.RootInode, root))

	return &fixture{img: img, blocks: blocks, table: table, now: now}
}

// mkdir creates a directory named name inside parent inode number parentInum
// and returns its new inode number.
func (f *fixture) mkdir(t *testing.T, parentInum int, name string) int {
	t.Helper()
	parent, err := f.table.Get(parentInum)
	require.NoError(t, err)

	i, rec, err := f.table.Alloc(0, 0, f.now)
	require.NoError(t, err)
	rec.Mode = inode.ModeDir | 0o755
	require.NoError(t, f.table.Grow(rec, image.BlockSize, f.blocks, f.now))
	require.NoError(t, f.table.Put(i, rec))

	require.NoError(t, directory.Put(f.img, f.table, f.blocks, parent, name, i, f.now))
	require.NoError(t, f.table.Put(parentInum, parent))
	return i
}

func (f *fixture) touch(t *testing.T, parentInum int, name string) int {
	t.Helper()
	parent, err := f.table.Get(parentInum)
	require.NoError(t, err)

	i, rec, err := f.table.Alloc(0, 0, f.now)
	require.NoError(t, err)
	rec.Mode = 0o100644
	require.NoError(t, f.table.Put(i, rec))

	require.NoError(t, directory.Put(f.img, f.table, f.blocks, parent, name, i, f.now))
	require.NoError(t, f.table.Put(parentInum, parent))
	return i
}

func TestLookup_Root(t *testing.T) {
	f := newFixture(t)
	i, err := pathresolver.Lookup(f.img, f.table, "/")
	require.NoError(t, err)
	assert.Equal(t, pathresolver.RootInode, i)
}

func TestLookup_NestedPath(t *testing.T) {
	f := newFixture(t)
	dirInum := f.mkdir(t, pathresolver.RootInode, "d")
	fileInum := f.touch(t, dirInum, "f")

	got, err := pathresolver.Lookup(f.img, f.table, "/d/f")
	require.NoError(t, err)
	assert.Equal(t, fileInum, got)
}

func TestLookup_HandlesDoubleAndTrailingSlashes(t *testing.T) {
	f := newFixture(t)
	dirInum := f.mkdir(t, pathresolver.RootInode, "d")
	fileInum := f.touch(t, dirInum, "f")

	got, err := pathresolver.Lookup(f.img, f.table, "//d//f/")
	require.NoError(t, err)
	assert.Equal(t, fileInum, got)
}

func TestLookup_MissingComponent(t *testing.T) {
	f := newFixture(t)
	_, err := pathresolver.Lookup(f.img, f.table, "/nope")
	assert.Error(t, err)
}

func TestLookup_NonDirectoryIntermediate(t *testing.T) {
	f := newFixture(t)
	f.touch(t, pathresolver.RootInode, "f")

	_, err := pathresolver.Lookup(f.img, f.table, "/f/g")
	assert.Error(t, err)
}

func TestLookupParent_Root(t *testing.T) {
	f := newFixture(t)
	i, err := pathresolver.LookupParent(f.img, f.table, "/")
	require.NoError(t, err)
	assert.Equal(t, pathresolver.RootInode, i)
}

func TestLookupParent_TopLevel(t *testing.T) {
	f := newFixture(t)
	i, err := pathresolver.LookupParent(f.img, f.table, "/foo")
	require.NoError(t, err)
	assert.Equal(t, pathresolver.RootInode, i)
}

func TestLookupParent_Nested(t *testing.T) {
	f := newFixture(t)
	dirInum := f.mkdir(t, pathresolver.RootInode, "d")

	i, err := pathresolver.LookupParent(f.img, f.table, "/d/f")
	require.NoError(t, err)
	assert.Equal(t, dirInum, i)
}

func TestBase(t *testing.T) {
	assert.Equal(t, "foo", pathresolver.Base("/a/b/foo"))
	assert.Equal(t, "foo", pathresolver.Base("foo"))
	assert.Equal(t, "", pathresolver.Base("/a/b/"))
}
