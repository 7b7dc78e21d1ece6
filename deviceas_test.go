package iommu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceASIsCreatedLazilyAndReused(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)

	d1 := io.DeviceAS(0, 0x08)
	d2 := io.DeviceAS(0, 0x08)
	assert.Same(t, d1, d2)

	d3 := io.DeviceAS(1, 0x08)
	assert.NotSame(t, d1, d3)
}

func TestDeviceASTranslatesThroughOwningIOMMU(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	require.NoError(t, io.HandleMMIOWrite(context.Background(), RegDDTP, 8, ddtpModeBare))

	d := io.DeviceAS(0, 0x08)
	res, err := d.Translate(context.Background(), 0, 0x1000, PermRead)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), res.Addr)
	assert.Equal(t, TargetAS, res.AddrSpace)
}

func TestDeviceASNotifierFlagTogglesOnRealTransition(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := newTestIOMMU(t, bus)
	d := io.DeviceAS(0, 0x08)

	assert.False(t, d.NotifierEnabled())
	d.SetNotifierEnabled(true)
	assert.True(t, d.NotifierEnabled())
	d.SetNotifierEnabled(true) // no-op, already enabled
	assert.True(t, d.NotifierEnabled())
}
