package iommu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateBarePassThrough(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()
	require.NoError(t, io.HandleMMIOWrite(ctx, RegDDTP, 8, ddtpModeBare))

	res, err := io.Translate(ctx, 0x42, 0, 0xABCD000, PermRead)
	require.NoError(t, err)
	assert.Equal(t, TargetAS, res.AddrSpace)
	assert.Equal(t, uint64(0xABCD000), res.Addr)
}

func TestTranslateDdtInvalidEnqueuesFaultRecord(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQB, 8, baseField(6, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQCSR, 4, uint64(qcsrEnable)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegDDTP, 8, ddtpMode1LVL|(uint64(1)<<ddtpPPNShift)))

	_, err := io.Translate(ctx, 0x01, 0, 0x1000, PermRead)
	assert.Equal(t, FaultDDTInvalid, err)

	tail, rerr := io.HandleMMIORead(RegFQT, 4)
	require.NoError(t, rerr)
	assert.Equal(t, uint64(1), tail)

	rec, rerr := bus.ReadAt(ctx, TargetAS, 6*PageSize, 32)
	require.NoError(t, rerr)
	hdr := leUint64(rec[0:8])
	assert.Equal(t, uint64(FaultDDTInvalid), hdr&0xFFF)
	assert.Equal(t, uint64(ttypeUAddrRd), (hdr>>12)&0xF)
	assert.Equal(t, uint64(0x01), hdr>>16)
}

func TestTranslateDtfSuppressesNonFatalFault(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQB, 8, baseField(6, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQCSR, 4, uint64(qcsrEnable)))

	// Prime the cache with a DTF-set context, then force a fresh fault by
	// invalidating and re-deriving through bestEffortCtx's stale read.
	io.cache.insert(ctxKey{devid: 0x9, processID: 0}, &Ctx{TC: tcV | tcDTF})
	io.cache.invalidate(invalidateDevice, 0x9, 0)

	err := io.reportFault(ctx, 0x9, 0, FaultPDTInvalid, PermRead, 0x1000, 0x1000)
	assert.Equal(t, FaultPDTInvalid, err)

	tail, rerr := io.HandleMMIORead(RegFQT, 4)
	require.NoError(t, rerr)
	assert.Equal(t, uint64(0), tail) // suppressed: DTF set, fault is not always-fatal
}

func TestTranslateAlwaysFatalIgnoresDtf(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQB, 8, baseField(6, 4)))
	require.NoError(t, io.HandleMMIOWrite(ctx, RegFQCSR, 4, uint64(qcsrEnable)))

	io.cache.insert(ctxKey{devid: 0x9, processID: 0}, &Ctx{TC: tcV | tcDTF})
	io.cache.invalidate(invalidateDevice, 0x9, 0)

	err := io.reportFault(ctx, 0x9, 0, FaultMSIWrFault, PermRead, 0x1000, 0x1000)
	assert.Equal(t, FaultMSIWrFault, err)

	tail, rerr := io.HandleMMIORead(RegFQT, 4)
	require.NoError(t, rerr)
	assert.Equal(t, uint64(1), tail) // DTF never suppresses an always-fatal cause
}
