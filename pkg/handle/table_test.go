package handle

import (
	"testing"

	"github.com/marmos91/agentfs/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fileA = Target{NodeKey: NodeKey{View: "main", Node: 2}}
	fileB = Target{NodeKey: NodeKey{View: "main", Node: 3}}
)

func open(t *testing.T, table *Table, target Target, access metadata.Access, share metadata.ShareMode) *Handle {
	t.Helper()
	h, err := table.Open(OpenRequest{Target: target, PID: 100, Access: access, Share: share})
	require.NoError(t, err)
	return h
}

func TestShareModeAdmission(t *testing.T) {
	tests := []struct {
		name        string
		firstAccess metadata.Access
		firstShare  metadata.ShareMode
		access      metadata.Access
		share       metadata.ShareMode
		admitted    bool
	}{
		{"posix callers share everything", metadata.ReadWrite, metadata.ShareAll, metadata.ReadWrite, metadata.ShareAll, true},
		{"readers sharing read", metadata.AccessRead, metadata.ShareRead, metadata.AccessRead, metadata.ShareRead, true},
		{"writer against read-only share", metadata.AccessRead, metadata.ShareRead, metadata.AccessWrite, metadata.ShareAll, false},
		{"new share excludes existing writer", metadata.AccessWrite, metadata.ShareAll, metadata.AccessRead, metadata.ShareRead, false},
		{"exclusive first opener", metadata.AccessRead, metadata.ShareNone, metadata.AccessRead, metadata.ShareAll, false},
		{"delete needs share delete", metadata.AccessRead, metadata.ShareRead | metadata.ShareWrite, metadata.AccessDelete, metadata.ShareAll, false},
		{"delete with share delete", metadata.AccessRead, metadata.ShareAll, metadata.AccessDelete, metadata.ShareAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(0)
			open(t, table, fileA, tt.firstAccess, tt.firstShare)

			_, err := table.Open(OpenRequest{Target: fileA, Access: tt.access, Share: tt.share})
			if tt.admitted {
				assert.NoError(t, err)
			} else {
				assert.True(t, metadata.IsCode(err, metadata.ErrWouldBlock), "got %v", err)
			}

			// Admission never spans nodes.
			_, err = table.Open(OpenRequest{Target: fileB, Access: tt.access, Share: tt.share})
			assert.NoError(t, err)
		})
	}
}

func TestAdmissionIsPerStream(t *testing.T) {
	table := NewTable(0)
	open(t, table, fileA, metadata.ReadWrite, metadata.ShareNone)

	stream := Target{NodeKey: fileA.NodeKey, Stream: "meta"}
	_, err := table.Open(OpenRequest{Target: stream, Access: metadata.ReadWrite, Share: metadata.ShareNone})
	assert.NoError(t, err)
	assert.Equal(t, 2, table.NodeHandles(fileA.NodeKey))
	assert.Equal(t, 1, table.StreamHandles(stream))
}

func TestMaxHandles(t *testing.T) {
	table := NewTable(2)
	open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)
	h := open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)

	_, err := table.Open(OpenRequest{Target: fileA, Access: metadata.AccessRead, Share: metadata.ShareAll})
	assert.True(t, metadata.IsCode(err, metadata.ErrTooManyOpenFiles))
	assert.Equal(t, metadata.KindResourceExhausted, metadata.KindOf(err))

	_, err = table.Close(h.ID)
	require.NoError(t, err)
	open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)
}

func TestCloseAccounting(t *testing.T) {
	table := NewTable(0)
	stream := Target{NodeKey: fileA.NodeKey, Stream: "meta"}

	h1 := open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)
	h2 := open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)
	h3 := open(t, table, stream, metadata.AccessRead, metadata.ShareAll)
	assert.Equal(t, 3, table.ViewHandles("main"))

	res, err := table.Close(h1.ID)
	require.NoError(t, err)
	assert.False(t, res.LastOnStream)
	assert.False(t, res.LastOnNode)

	res, err = table.Close(h2.ID)
	require.NoError(t, err)
	assert.True(t, res.LastOnStream)
	assert.False(t, res.LastOnNode)

	res, err = table.Close(h3.ID)
	require.NoError(t, err)
	assert.True(t, res.LastOnStream)
	assert.True(t, res.LastOnNode)
	assert.Same(t, h3, res.Handle)

	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, table.ViewHandles("main"))

	_, err = table.Close(h3.ID)
	assert.True(t, metadata.IsCode(err, metadata.ErrInvalidHandle))
	_, err = table.Get(h3.ID)
	assert.True(t, metadata.IsCode(err, metadata.ErrInvalidHandle))
}

func TestCheckDelete(t *testing.T) {
	table := NewTable(0)
	assert.NoError(t, table.CheckDelete(fileA.NodeKey))

	open(t, table, fileA, metadata.AccessRead, metadata.ShareAll)
	assert.NoError(t, table.CheckDelete(fileA.NodeKey))

	h := open(t, table, Target{NodeKey: fileA.NodeKey, Stream: "meta"}, metadata.AccessRead, metadata.ShareRead)
	err := table.CheckDelete(fileA.NodeKey)
	assert.True(t, metadata.IsCode(err, metadata.ErrWouldBlock))

	_, err = table.Close(h.ID)
	require.NoError(t, err)
	assert.NoError(t, table.CheckDelete(fileA.NodeKey))
}
