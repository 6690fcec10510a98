package csr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() string {
	return `{"interface": {"members": {"bus": {"annotations": ` + testAnnotations + `}}}}`
}

func TestLoadMetadata(t *testing.T) {
	a, err := LoadMetadata(strings.NewReader(testMetadata()))
	require.NoError(t, err)
	assert.Contains(t, a, MemoryMapSchema)
	assert.Contains(t, a, BusSchema)

	bd, err := a.Bus()
	require.NoError(t, err)
	assert.Equal(t, BusDesc{AddrWidth: 8, DataWidth: 8}, bd)

	m, err := NewMap(a)
	require.NoError(t, err)
	n, err := m.Root().Resolve("uart", "ctrl")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n.Offset())
}

func TestLoadMetadata_Malformed(t *testing.T) {
	_, err := LoadMetadata(strings.NewReader(`{"interface": {}}`))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = LoadMetadata(strings.NewReader(`{`))
	require.Error(t, err)
}

func TestLoadMetadataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soc.json")
	require.NoError(t, os.WriteFile(path, []byte(testMetadata()), 0o644))

	a, err := LoadMetadataFile(path)
	require.NoError(t, err)
	assert.Len(t, a, 2)

	_, err = LoadMetadataFile(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "*", FormatPath(nil))
	assert.Equal(t, "uart.ctrl", FormatPath([]string{"uart", "ctrl"}))
	assert.Equal(t, []string{"uart", "ctrl"}, ParsePath("uart.ctrl"))
	assert.Nil(t, ParsePath(""))

	err := &PathError{Path: []string{"x", "y"}}
	assert.EqualError(t, err, "x.y: path not found")
}
