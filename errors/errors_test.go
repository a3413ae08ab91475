package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-microfs/microfs/errors"
)

func TestFSError_Error_DefaultMessage(t *testing.T) {
	err := errors.New(errors.NotFound)
	assert.Equal(t, "not found", err.Error())
}

func TestFSError_WithMessage_DoesNotMutateOriginal(t *testing.T) {
	original := errors.ErrNotFound
	decorated := original.WithMessage(`no such file: "/a"`)

	assert.NotEqual(t, original.Error(), decorated.Error())
	assert.Contains(t, decorated.Error(), `"/a"`)
	assert.Equal(t, "not found", original.Error(), "WithMessage must not mutate the receiver")
}

func TestFSError_Wrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("disk read failed")
	wrapped := errors.ErrNoSpace.Wrap(cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "disk read failed")
}

func TestFSError_Is_ComparesByKind(t *testing.T) {
	err := errors.ErrAlreadyExists.WithMessage(`"/x" already exists`)
	require.True(t, stderrors.Is(err, errors.ErrAlreadyExists))
	require.False(t, stderrors.Is(err, errors.ErrNotFound))
}

func TestFSError_Errno(t *testing.T) {
	cases := map[*errors.FSError]string{
		errors.ErrNotFound:        "no such file or directory",
		errors.ErrAlreadyExists:   "file exists",
		errors.ErrNoSpace:         "no space left on device",
		errors.ErrNotEmpty:        "directory not empty",
		errors.ErrNotDirectory:    "not a directory",
		errors.ErrNameTooLong:     "file name too long",
		errors.ErrInvalidArgument: "invalid argument",
	}

	for err, wantSubstring := range cases {
		assert.Contains(t, err.Errno().Error(), wantSubstring)
	}
}
