package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestControlEncodeDecode(t *testing.T) {
	encoded, err := execute(t, "", "control", "encode", "branch.create", "--name", "experiment", "--hex")
	require.NoError(t, err)

	decoded, err := execute(t, encoded, "control", "decode")
	require.NoError(t, err)
	assert.Contains(t, decoded, `"experiment"`)
	assert.Contains(t, decoded, "valid branch.create request")
}

func TestControlEncodeRejectsInvalidRequests(t *testing.T) {
	_, err := execute(t, "", "control", "encode", "branch.bind", "--hex", "--name", "", "--branch", "")
	assert.Error(t, err)

	_, err = execute(t, "", "control", "encode", "snapshot.create", "--hex", "--name", "a/b")
	assert.Error(t, err)
}

func TestControlDecodeRejectsGarbage(t *testing.T) {
	_, err := execute(t, "zz not cbor", "control", "decode")
	assert.Error(t, err)
}
