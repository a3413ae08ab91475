package image_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-microfs/microfs/image"
)

func TestOpen_CreatesFileOfExactSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")

	img, err := image.Open(path)
	require.NoError(t, err)
	defer img.Close()

	block, err := img.Block(0)
	require.NoError(t, err)
	assert.Len(t, block, image.BlockSize)
}

func TestBlock_OutOfRange(t *testing.T) {
	img := image.OpenInMemory()

	_, err := img.Block(-1)
	assert.Error(t, err)

	_, err = img.Block(image.TotalBlocks)
	assert.Error(t, err)
}

func TestBlock_WritesAreVisibleImmediately(t *testing.T) {
	img := image.OpenInMemory()

	block, err := img.Block(5)
	require.NoError(t, err)
	block[0] = 0xAB

	reread, err := img.Block(5)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), reread[0])
}

func TestZeroBlock(t *testing.T) {
	img := image.OpenInMemory()

	block, err := img.Block(3)
	require.NoError(t, err)
	for i := range block {
		block[i] = 0xFF
	}

	require.NoError(t, img.ZeroBlock(3))

	reread, err := img.Block(3)
	require.NoError(t, err)
	for _, b := range reread {
		assert.Equal(t, byte(0), b)
	}
}

func TestOpenInMemory_Close_NoOp(t *testing.T) {
	img := image.OpenInMemory()
	assert.NoError(t, img.Close())
}
