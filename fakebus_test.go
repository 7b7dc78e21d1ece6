package iommu

import (
	"context"
	"fmt"
)

// fakeBus is a flat-memory MemoryBus double used across the test suite.
// TargetAS and TrapAS are backed by independent byte slices so tests can
// assert on MSI-redirected writes without them colliding with ordinary
// memory traffic.
type fakeBus struct {
	target []byte
	trap   []byte
}

func newFakeBus(size int) *fakeBus {
	return &fakeBus{target: make([]byte, size), trap: make([]byte, size)}
}

func (b *fakeBus) backing(as AddrSpace) []byte {
	if as == TrapAS {
		return b.trap
	}
	return b.target
}

func (b *fakeBus) ReadAt(ctx context.Context, as AddrSpace, addr uint64, length int) ([]byte, error) {
	mem := b.backing(as)
	if addr+uint64(length) > uint64(len(mem)) {
		return nil, fmt.Errorf("fakeBus: read past end: addr=0x%x len=%d", addr, length)
	}
	out := make([]byte, length)
	copy(out, mem[addr:addr+uint64(length)])
	return out, nil
}

func (b *fakeBus) WriteAt(ctx context.Context, as AddrSpace, addr uint64, data []byte) error {
	mem := b.backing(as)
	if addr+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("fakeBus: write past end: addr=0x%x len=%d", addr, len(data))
	}
	copy(mem[addr:], data)
	return nil
}

func (b *fakeBus) putU64(as AddrSpace, addr uint64, v uint64) {
	buf := make([]byte, 8)
	putLEUint64(buf, v)
	_ = b.WriteAt(context.Background(), as, addr, buf)
}

func (b *fakeBus) putU32(as AddrSpace, addr uint64, v uint32) {
	buf := make([]byte, 4)
	putLEUint32(buf, v)
	_ = b.WriteAt(context.Background(), as, addr, buf)
}

func (b *fakeBus) getU32(as AddrSpace, addr uint64) uint32 {
	mem := b.backing(as)
	return leUint32(mem[addr : addr+4])
}

func (b *fakeBus) getU64(as AddrSpace, addr uint64) uint64 {
	mem := b.backing(as)
	return leUint64(mem[addr : addr+8])
}
