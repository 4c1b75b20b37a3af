package metadata

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	parts, err := SplitPath("/a//b/./c/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, parts)

	parts, err = SplitPath("/")
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = SplitPath("relative/path")
	assert.True(t, IsCode(err, ErrInvalidArgument))

	_, err = SplitPath("/a/../b")
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestSplitParent(t *testing.T) {
	parent, name, err := SplitParent("/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, parent)
	assert.Equal(t, "readme.md", name)

	_, _, err = SplitParent("/")
	assert.True(t, IsCode(err, ErrInvalidArgument))
}

func TestSplitStream(t *testing.T) {
	tests := []struct {
		in, path, stream string
	}{
		{"/a.txt", "/a.txt", ""},
		{"/a.txt:meta", "/a.txt", "meta"},
		{"/dir:x/a.txt", "/dir:x/a.txt", ""},
		{"/dir/a.txt:", "/dir/a.txt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, s := SplitStream(tt.in)
			assert.Equal(t, tt.path, p)
			assert.Equal(t, tt.stream, s)
		})
	}
}

func TestCaseSensitivity(t *testing.T) {
	assert.Equal(t, "README", CaseSensitive.Key("README"))
	assert.Equal(t, CaseInsensitive.Key("README"), CaseInsensitive.Key("readme"))
	assert.Equal(t, CaseInsensitivePreserving.Key("École"), CaseInsensitivePreserving.Key("éCOLE"))

	assert.Equal(t, "README", CaseInsensitivePreserving.Stored("README"))
	assert.Equal(t, "readme", CaseInsensitive.Stored("README"))

	assert.True(t, CaseInsensitivePreserving.Less("apple", "Banana"))
	assert.True(t, CaseSensitive.Less("Banana", "apple"))

	mode, err := ParseCaseSensitivity("")
	require.NoError(t, err)
	assert.Equal(t, CaseInsensitivePreserving, mode)
	_, err = ParseCaseSensitivity("sometimes")
	assert.Error(t, err)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("file.txt", true))
	assert.True(t, IsCode(ValidateName("", false), ErrInvalidName))
	assert.True(t, IsCode(ValidateName("..", false), ErrInvalidName))
	assert.True(t, IsCode(ValidateName("a/b", false), ErrInvalidName))
	assert.True(t, IsCode(ValidateName("a:b", true), ErrInvalidName))
	assert.NoError(t, ValidateName("a:b", false))

	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.True(t, IsCode(ValidateName(string(long), false), ErrNameTooLong))
}

func TestNameFromBytes(t *testing.T) {
	assert.Equal(t, "plain.txt", NameFromBytes([]byte("plain.txt")))
	assert.Equal(t, "café", NameFromBytes([]byte("café")))
	assert.Equal(t, "caf%E9%20x", NameFromBytes([]byte("caf\xe9 x")))

	encoded := NameFromBytes([]byte("a/\xff"))
	assert.Equal(t, "a%2F%FF", encoded)
	assert.NoError(t, ValidateName(encoded, true))
}

func TestStoreError(t *testing.T) {
	err := NewError(ErrNotFound, "/missing", "no such file")
	assert.Equal(t, "no such file: /missing", err.Error())

	wrapped := fmt.Errorf("open: %w", err)
	assert.True(t, IsCode(wrapped, ErrNotFound))
	assert.True(t, errors.Is(wrapped, &StoreError{Code: ErrNotFound}))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, 2, CodeOf(wrapped).Errno())

	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	cause := errors.New("disk full")
	se := WrapError(ErrResourceExhausted, "", cause, "spill failed")
	assert.ErrorIs(t, se, cause)
	assert.Equal(t, KindResourceExhausted, ErrTooManyOpenFiles.Kind())
	assert.Equal(t, KindPermissionDenied, ErrReadOnly.Kind())
	assert.Equal(t, "WouldBlock", ErrWouldBlock.String())
}
