package iommu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPSRNotifiesOnRisingEdgeWhenWSIClear(t *testing.T) {
	bus := newFakeBus(1 << 20)
	var notified []uint8
	io := New(DefaultConfig(), bus, func(vector uint8) { notified = append(notified, vector) }, nil)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegIVEC, 8, 0x05)) // source 0 -> vector 5

	io.updateIPSR(ipsrCQIP, true)

	require.Len(t, notified, 1)
	assert.Equal(t, uint8(5), notified[0])
}

func TestIPSRDoesNotNotifyWithWSISet(t *testing.T) {
	bus := newFakeBus(1 << 20)
	var notified []uint8
	io := New(DefaultConfig(), bus, func(vector uint8) { notified = append(notified, vector) }, nil)
	ctx := context.Background()

	require.NoError(t, io.HandleMMIOWrite(ctx, RegFCTL, 4, uint64(fctlWSI)))

	io.updateIPSR(ipsrFQIP, true)

	assert.Empty(t, notified)
}

func TestIPSRWriteClearsBit(t *testing.T) {
	bus := newFakeBus(1 << 20)
	io := New(DefaultConfig(), bus, nil, nil)
	ctx := context.Background()

	io.updateIPSR(ipsrPQIP, true)
	v, _ := io.HandleMMIORead(RegIPSR, 4)
	require.NotZero(t, v&ipsrPQIP)

	require.NoError(t, io.HandleMMIOWrite(ctx, RegIPSR, 4, uint64(ipsrPQIP)))
	v, _ = io.HandleMMIORead(RegIPSR, 4)
	assert.Zero(t, v&ipsrPQIP)
}
