// (c) 2025 Zotley
// License: GPLv3 or later

// iommu.go - top-level wiring: register file, directory walker, cache,
// the three queue engines, device-address-space registry, and the
// memory bus the core translates against.
//
// A single object owns a register file, a worker-like engine per queue,
// and a coarse lock serializing control-plane operations that aren't
// already covered by a narrower lock.
package iommu

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// IOMMU is a complete software model of the register-mapped core:
// construct one with New, wire its MemoryBus to real or emulated
// system memory, and drive HandleMMIORead/HandleMMIOWrite the way a
// CPU would drive the device's MMIO window.
type IOMMU struct {
	cfg Config
	bus MemoryBus
	log *logrus.Logger

	regs *RegFile

	coreLock sync.Mutex // serializes control-plane actions not already locked narrower

	cache *ctxCache

	cq   *cmdQueue
	fq   *faultQueue
	pq   *pageReqQueue
	ipsr *ipsrUnit

	devicesMu sync.Mutex
	devices   map[uint16]*DeviceAS
}

// New constructs an IOMMU realized against cfg, translating through
// bus, and delivering interrupt notifications through notify while
// FCTL.WSI is clear (may be nil to discard them). log may be nil; a discard logger is used in
// that case.
func New(cfg Config, bus MemoryBus, notify func(vector uint8), log *logrus.Logger) *IOMMU {
	cfg = cfg.normalized()

	regs := NewRegFile(RegFileSize)
	regs.SetReadOnlyMask(RegCAP, 8, ^uint64(0))
	regs.SetRaw(RegCAP, 8, cfg.capability())

	regs.SetReadOnlyMask(RegFCTL, 4, uint64(fctlBE))

	regs.SetReadOnlyMask(RegDDTP, 8, ddtpBusyBit)

	regs.SetReadOnlyMask(RegCQH, 4, 0xFFFFFFFF)
	regs.SetReadOnlyMask(RegFQT, 4, 0xFFFFFFFF)
	regs.SetReadOnlyMask(RegPQT, 4, 0xFFFFFFFF)

	cqROBits := uint64(qcsrActive | qcsrBusy | qcsrMemFlt | qcsrCmdIll | qcsrCmdTo | qcsrFenceIP)
	regs.SetReadOnlyMask(RegCQCSR, 4, cqROBits)
	regs.SetWriteClearMask(RegCQCSR, 4, uint64(qcsrMemFlt|qcsrCmdIll|qcsrCmdTo|qcsrFenceIP))

	fqROBits := uint64(qcsrActive | qcsrBusy | qcsrMemFlt | qcsrOverfl)
	regs.SetReadOnlyMask(RegFQCSR, 4, fqROBits)
	regs.SetWriteClearMask(RegFQCSR, 4, uint64(qcsrMemFlt|qcsrOverfl))

	regs.SetReadOnlyMask(RegPQCSR, 4, fqROBits)
	regs.SetWriteClearMask(RegPQCSR, 4, uint64(qcsrMemFlt|qcsrOverfl))

	regs.SetReadOnlyMask(RegIPSR, 4, 0xFFFFFFFF)
	regs.SetWriteClearMask(RegIPSR, 4, uint64(ipsrCQIP|ipsrFQIP|ipsrPQIP))

	io := &IOMMU{
		cfg:     cfg,
		bus:     bus,
		log:     logOrNop(log),
		regs:    regs,
		devices: make(map[uint16]*DeviceAS),
	}

	io.cache = newCtxCache(cfg.ContextCacheSize)

	io.ipsr = &ipsrUnit{
		regs:   regs,
		notify: notify,
		ivecOf: RegIVEC,
		fctlOf: RegFCTL,
	}

	io.cq = &cmdQueue{
		queueCSR: queueCSR{regs: regs, csrOff: RegCQCSR, headOff: RegCQH, tailOff: RegCQT, baseOff: RegCQB, hasCmdErr: true},
		bus:      bus,
		cache:    io.cache,
		ipsr:     io.ipsr,
		io:       io,
	}
	io.fq = &faultQueue{
		queueCSR: queueCSR{regs: regs, csrOff: RegFQCSR, headOff: RegFQH, tailOff: RegFQT, baseOff: RegFQB},
		bus:      bus,
		io:       io,
	}
	io.pq = &pageReqQueue{
		queueCSR: queueCSR{regs: regs, csrOff: RegPQCSR, headOff: RegPQH, tailOff: RegPQT, baseOff: RegPQB},
		bus:      bus,
		io:       io,
	}

	io.ipsr.pendingCQ = func() bool {
		return io.regs.get32(RegCQCSR)&(qcsrFenceIP|qcsrMemFlt|qcsrCmdIll|qcsrCmdTo) != 0
	}
	io.ipsr.pendingFQ = func() bool { return io.regs.get32(RegFQCSR)&(qcsrMemFlt|qcsrOverfl) != 0 }
	io.ipsr.pendingPQ = func() bool { return io.regs.get32(RegPQCSR)&(qcsrMemFlt|qcsrOverfl) != 0 }

	return io
}

// updateIPSR is the entry point queue engines use to raise their
// source's IPSR bit.
func (io *IOMMU) updateIPSR(bit uint32, set bool) {
	io.ipsr.updateIPSR(bit, set)
}

// InvalidateAll clears the valid bit of every cached translation
// context, so the next lookup of each one walks the directory again.
func (io *IOMMU) InvalidateAll() {
	io.cache.invalidate(invalidateAll, 0, 0)
}
