package iommu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIOMMU(t *testing.T, bus MemoryBus) *IOMMU {
	t.Helper()
	return New(DefaultConfig(), bus, nil, nil)
}

// baseField packs a PPN and log2(entries) into a queue base register.
func baseField(ppn uint64, log2Entries uint) uint64 {
	return (ppn << 10) | uint64(log2Entries)
}

func TestQueueEnableSetsActiveAndClearsBusy(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQB, 8, baseField(4, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQCSR, 4, uint64(qcsrEnable)))

	csr, err := io.HandleMMIORead(RegCQCSR, 4)
	require.NoError(t, err)
	assert.NotZero(t, csr&qcsrActive)
	assert.Zero(t, csr&qcsrBusy)
}

func TestCommandQueueIofenceAdvancesHeadAndSignalsFenceIP(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQB, 8, baseField(4, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQCSR, 4, uint64(qcsrEnable)))

	cmd := make([]byte, 16)
	cmd[0] = cqOpIOFENCE
	require.NoError(t, bus.WriteAt(ctx, TargetAS, 4*PageSize, cmd))

	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQT, 4, 1))

	head, err := io.HandleMMIORead(RegCQH, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head)

	csr, err := io.HandleMMIORead(RegCQCSR, 4)
	require.NoError(t, err)
	assert.NotZero(t, csr&qcsrFenceIP)
}

func TestCommandQueueIllegalOpcodeStopsWithoutAdvancing(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQB, 8, baseField(4, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQCSR, 4, uint64(qcsrEnable)))

	cmd := make([]byte, 16)
	cmd[0] = 0x7F // not a recognized opcode
	require.NoError(t, bus.WriteAt(ctx, TargetAS, 4*PageSize, cmd))

	require.NoError(t, io.HandleMMIOWrite(ctx, RegCQT, 4, 1))

	head, err := io.HandleMMIORead(RegCQH, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)

	csr, err := io.HandleMMIORead(RegCQCSR, 4)
	require.NoError(t, err)
	assert.NotZero(t, csr&qcsrCmdIll)
}

func TestFaultQueueOverflowRaisesOF(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQB, 8, baseField(5, 1))) // 2 entries
	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQCSR, 4, uint64(qcsrEnable)))

	io.fq.fault(ctx, FaultDDTInvalid, ttypeUAddrRd, 0x42, 0x1000, 0x1000)
	io.fq.fault(ctx, FaultDDTInvalid, ttypeUAddrRd, 0x42, 0x1000, 0x1000)
	io.fq.fault(ctx, FaultDDTInvalid, ttypeUAddrRd, 0x42, 0x1000, 0x1000)

	csr, err := io.HandleMMIORead(RegFQCSR, 4)
	require.NoError(t, err)
	assert.NotZero(t, csr&qcsrOverfl)
}
