package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/metadata"
)

func TestXattrs(t *testing.T) {
	e := newTestEngine(t)
	auth := proc(1)
	_, err := e.Create(auth, "/f", 0)
	require.NoError(t, err)

	require.NoError(t, e.XattrSet(auth, "/f", "user.b", []byte("2"), 0))
	require.NoError(t, e.XattrSet(auth, "/f", "user.a", []byte("1"), XattrCreate))

	v, err := e.XattrGet(auth, "/f", "user.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	list, err := e.XattrList(auth, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"user.a", "user.b"}, list)

	requireCode(t, e.XattrSet(auth, "/f", "user.a", []byte("x"), XattrCreate), metadata.ErrAlreadyExists)
	requireCode(t, e.XattrSet(auth, "/f", "user.c", []byte("x"), XattrReplace), metadata.ErrNotFound)
	require.NoError(t, e.XattrSet(auth, "/f", "user.a", []byte("one"), XattrReplace))

	v, err = e.XattrGet(auth, "/f", "user.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, e.XattrRemove(auth, "/f", "user.a"))
	requireCode(t, e.XattrRemove(auth, "/f", "user.a"), metadata.ErrNotFound)
	_, err = e.XattrGet(auth, "/f", "user.a")
	requireCode(t, err, metadata.ErrNotFound)

	t.Run("Limits", func(t *testing.T) {
		requireCode(t, e.XattrSet(auth, "/f", "", nil, 0), metadata.ErrInvalidArgument)
		requireCode(t, e.XattrSet(auth, "/f", strings.Repeat("k", metadata.MaxNameLen+1), nil, 0), metadata.ErrNameTooLong)
		requireCode(t, e.XattrSet(auth, "/f", "user.big", make([]byte, MaxXattrValueSize+1), 0), metadata.ErrInvalidArgument)
		require.NoError(t, e.XattrSet(auth, "/f", "user.max", make([]byte, MaxXattrValueSize), 0))
		requireCode(t, e.XattrSet(auth, "/f", "user.x", nil, XattrCreate|XattrReplace), metadata.ErrInvalidArgument)
		requireCode(t, e.XattrSet(auth, "/missing", "user.x", nil, 0), metadata.ErrNotFound)
	})

	t.Run("Directories", func(t *testing.T) {
		_, err := e.Mkdir(auth, "/d", 0)
		require.NoError(t, err)
		require.NoError(t, e.XattrSet(auth, "/d", "user.tag", []byte("dir"), 0))
		v, err := e.XattrGet(auth, "/d", "user.tag")
		require.NoError(t, err)
		assert.Equal(t, []byte("dir"), v)
	})
}

func TestXattrsFollowSnapshots(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	auth := proc(1)
	_, err := e.Create(auth, "/f", 0)
	require.NoError(t, err)
	require.NoError(t, e.XattrSet(auth, "/f", "user.v", []byte("old"), 0))

	snap, err := e.CreateSnapshot(auth, "")
	require.NoError(t, err)
	require.NoError(t, e.XattrSet(auth, "/f", "user.v", []byte("new"), 0))

	viewer := proc(2)
	require.NoError(t, e.BindProcessToSnapshot(ctx, viewer.PID, snap))
	v, err := e.XattrGet(viewer, "/f", "user.v")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)
}

func TestXattrsDisabled(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.EnableXattrs = false })
	auth := proc(1)
	_, err := e.Create(auth, "/f", 0)
	require.NoError(t, err)

	requireCode(t, e.XattrSet(auth, "/f", "user.a", nil, 0), metadata.ErrNotSupported)
	_, err = e.XattrGet(auth, "/f", "user.a")
	requireCode(t, err, metadata.ErrNotSupported)
	_, err = e.XattrList(auth, "/f")
	requireCode(t, err, metadata.ErrNotSupported)
	requireCode(t, e.XattrRemove(auth, "/f", "user.a"), metadata.ErrNotSupported)
}

func TestAlternateDataStreams(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	auth := proc(1)

	writeFile(t, e, auth, "/f", []byte("main"))
	writeFile(t, e, auth, "/f:meta", []byte("side data"))

	assert.Equal(t, "main", string(readFile(t, e, auth, "/f")))
	assert.Equal(t, "side data", string(readFile(t, e, auth, "/f:meta")))

	h, _, err := e.Open(auth, "/f", metadata.OpenOptions{Share: metadata.ShareAll, Stream: "meta"})
	require.NoError(t, err)
	assert.Equal(t, "side data", string(readHandle(t, e, auth, h)))
	require.NoError(t, e.Engine.Close(auth, h))

	streams, err := e.StreamsList(auth, "/f")
	require.NoError(t, err)
	assert.Equal(t, []metadata.StreamInfo{{Name: "", Size: 4}, {Name: "meta", Size: 9}}, streams)

	attr, err := e.Getattr(auth, "/f:meta")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), attr.Size)
	attr, err = e.Getattr(auth, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)

	_, _, err = e.Open(auth, "/f:nope", metadata.OpenOptions{})
	requireCode(t, err, metadata.ErrNotFound)
	_, err = e.Create(auth, "/f:meta", 0)
	requireCode(t, err, metadata.ErrAlreadyExists)

	t.Run("StreamsAreCopiedOnWrite", func(t *testing.T) {
		snap, err := e.CreateSnapshot(auth, "")
		require.NoError(t, err)
		writeFile(t, e, auth, "/f:meta", []byte("changed"))

		viewer := proc(2)
		require.NoError(t, e.BindProcessToSnapshot(ctx, viewer.PID, snap))
		assert.Equal(t, "side data", string(readFile(t, e, viewer, "/f:meta")))
		assert.Equal(t, "changed", string(readFile(t, e, auth, "/f:meta")))
	})

	t.Run("Remove", func(t *testing.T) {
		writeFile(t, e, auth, "/g", nil)
		writeFile(t, e, auth, "/g:tmp", []byte("t"))
		require.NoError(t, e.Unlink(auth, "/g:tmp"))

		streams, err := e.StreamsList(auth, "/g")
		require.NoError(t, err)
		assert.Equal(t, []metadata.StreamInfo{{Name: ""}}, streams)
		_, err = e.Getattr(auth, "/g:tmp")
		requireCode(t, err, metadata.ErrNotFound)
		requireCode(t, e.Unlink(auth, "/g:tmp"), metadata.ErrNotFound)
	})

	t.Run("RemoveWhileOpen", func(t *testing.T) {
		writeFile(t, e, auth, "/h", nil)
		writeFile(t, e, auth, "/h:tmp", []byte("still here"))

		h, _, err := e.Open(auth, "/h:tmp", metadata.OpenOptions{Share: metadata.ShareAll})
		require.NoError(t, err)
		require.NoError(t, e.Unlink(auth, "/h:tmp"))

		_, _, err = e.Open(auth, "/h:tmp", metadata.OpenOptions{Access: metadata.ReadWrite, Share: metadata.ShareAll, Create: true})
		requireCode(t, err, metadata.ErrBusy)
		assert.Equal(t, "still here", string(readHandle(t, e, auth, h)))

		before, err := e.Stats(ctx)
		require.NoError(t, err)
		require.NoError(t, e.Engine.Close(auth, h))
		after, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.ContentObjects-1, after.ContentObjects)

		writeFile(t, e, auth, "/h:tmp", []byte("again"))
		assert.Equal(t, "again", string(readFile(t, e, auth, "/h:tmp")))
	})

	t.Run("NodeRemovalReclaimsStreams", func(t *testing.T) {
		writeFile(t, e, auth, "/k", []byte("k"))
		writeFile(t, e, auth, "/k:a", []byte("a"))

		h, _, err := e.Open(auth, "/k:a", metadata.OpenOptions{Share: metadata.ShareAll})
		require.NoError(t, err)
		require.NoError(t, e.Unlink(auth, "/k"))
		assert.Equal(t, "a", string(readHandle(t, e, auth, h)))

		before, err := e.Stats(ctx)
		require.NoError(t, err)
		require.NoError(t, e.Engine.Close(auth, h))
		after, err := e.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.ContentObjects-2, after.ContentObjects)
	})

	t.Run("Directories", func(t *testing.T) {
		_, err := e.Mkdir(auth, "/dir", 0)
		require.NoError(t, err)
		_, err = e.StreamsList(auth, "/dir")
		requireCode(t, err, metadata.ErrIsDirectory)
		_, _, err = e.Open(auth, "/dir:s", metadata.OpenOptions{Create: true, Access: metadata.AccessWrite})
		requireCode(t, err, metadata.ErrIsDirectory)
	})
}

func TestAlternateDataStreamsDisabled(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.EnableADS = false })
	auth := proc(1)
	writeFile(t, e, auth, "/f", []byte("x"))

	_, err := e.StreamsList(auth, "/f")
	requireCode(t, err, metadata.ErrNotSupported)
	_, _, err = e.Open(auth, "/f", metadata.OpenOptions{Stream: "s"})
	requireCode(t, err, metadata.ErrNotSupported)

	// Without streams ':' is an ordinary name character.
	writeFile(t, e, auth, "/a:b", []byte("colon"))
	assert.Equal(t, "colon", string(readFile(t, e, auth, "/a:b")))
}
