package iommu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegFileMaskedUpdate(t *testing.T) {
	rf := NewRegFile(16)
	rf.SetReadOnlyMask(0, 4, 0x0000FF00) // bits [15:8] frozen
	rf.SetWriteClearMask(0, 4, 0x000000FF)
	rf.SetRaw(0, 4, 0x0000AB00)

	require.NoError(t, rf.Write(0, 4, 0xFFFFFFFF))
	v, err := rf.Read(0, 4)
	require.NoError(t, err)

	// bits [15:8] unchanged (read-only), bits [7:0] written-then-cleared
	// by the wc mask, bits [31:16] pass straight through.
	assert.Equal(t, uint64(0xFFFF0000|0x0000AB00), v)
}

func TestRegFileFullyWritableByDefault(t *testing.T) {
	rf := NewRegFile(8)
	require.NoError(t, rf.Write(0, 8, 0x1122334455667788))
	v, err := rf.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), v)
}

func TestRegFileAlignmentAndRange(t *testing.T) {
	rf := NewRegFile(8)

	_, err := rf.Read(1, 4)
	assert.Error(t, err)

	_, err = rf.Read(8, 4)
	assert.Error(t, err)

	_, err = rf.Read(0, 3)
	assert.Error(t, err)
}

func TestRegFileOr32And32(t *testing.T) {
	rf := NewRegFile(8)
	rf.or32(0, 0x01)
	rf.or32(0, 0x02)
	assert.Equal(t, uint32(0x03), rf.get32(0))

	rf.and32(0, ^uint32(0x01))
	assert.Equal(t, uint32(0x02), rf.get32(0))
}
