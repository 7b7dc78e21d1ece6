// (c) 2025 Zotley
// License: GPLv3 or later

// msi.go - MSI/MRIF redirector.
//
// Structured as a chain of (TranslateResult, error) steps rather than a
// single-exit goto funnel: each step either advances or returns the
// specific MsiFaultCause, converted to a FaultCause, that stops the
// chain.
//
// redirectMSI is invoked on the deferred trap-AS write, not inline
// during Translate: at Translate time the endpoint's write data does
// not exist yet, and both the BASIC-mode forwarded write and the
// MRIF-mode pending-bit update are keyed off that data.
package iommu

import "context"

// MSI PTE bit layout. pte0 holds the V/C bits and a two-bit mode
// selector; the remaining bits are dual-purpose depending on mode: in
// BASIC mode they hold a physical page number at bit 10 and above, in
// MRIF mode they hold the notification MRIF base address shifted down
// by 9 rather than 10. pte1 carries the notification identity.
const (
	pteV    = uint64(1) << 0
	pteCBit = uint64(1) << 1 // must be zero

	pteModeShift = 2
	pteModeMask  = 0x3
	pteModeBasic = 0
	pteModeMRIF  = 1

	pte0PPNExtractShift      = 10 // BASIC mode: PPN lives above bit 10
	pte0MrifAddrExtractShift = 9  // MRIF mode: base address lives above bit 9

	pte1NIDLowMask    = 0x3FF
	pte1NIDMSBBitPos  = 11 // where the MSB bit lives within pte1
	pte1NIDReconShift = 10 // n190 = NID | (NID_MSB << 10)
	pte1NPPNShift     = 12

	mrifDataMax        = 2047
	mrifPendingWordGap = 8 // enable bits live at pendingAddr+8
)

func pteValid(pte0 uint64) bool { return pte0&pteV != 0 }
func pteCSet(pte0 uint64) bool  { return pte0&pteCBit != 0 }
func pteModeOf(pte0 uint64) int { return int((pte0 >> pteModeShift) & pteModeMask) }

// pte0PPN extracts the redirected physical page number in BASIC mode;
// the caller multiplies by PageSize to recover a byte address.
func pte0PPN(pte0 uint64) uint64 { return pte0 >> pte0PPNExtractShift }

// pte0MrifAddr extracts the MRIF notification-structure base address in
// MRIF mode, already page-fragment aligned.
func pte0MrifAddr(pte0 uint64) uint64 {
	return (pte0 >> pte0MrifAddrExtractShift) << pte0MrifAddrExtractShift
}

// pte1NID reconstructs the 11-bit notification identifier from its
// split fields in pte1: the low 10 bits and the MSB at bit 11.
func pte1NID(pte1 uint64) uint32 {
	low := uint32(pte1) & pte1NIDLowMask
	msb := uint32(pte1>>pte1NIDMSBBitPos) & 1
	return low | msb<<pte1NIDReconShift
}

// pte1NPPN extracts the notification-write target PPN from pte1.
func pte1NPPN(pte1 uint64) uint64 { return pte1 >> pte1NPPNShift }

// WriteTrapAS performs the deferred write an endpoint makes into
// trap_as after Translate redirected it there: it re-derives the
// device's context, walks the MSI page table for gpa, and either
// forwards data to the BASIC-mode target page or drives the MRIF
// pending/enable/notification sequence.
func (io *IOMMU) WriteTrapAS(ctx context.Context, devid, processID uint32, gpa uint64, data uint32) error {
	c, err := io.fetchCtx(ctx, devid, processID)
	if err != nil {
		return io.reportFault(ctx, devid, processID, err, PermWrite, gpa, gpa)
	}

	if _, err := io.redirectMSI(ctx, c, gpa, data); err != nil {
		return io.reportFault(ctx, devid, processID, err, PermWrite, gpa, gpa)
	}
	return nil
}

// redirectMSI resolves a trap-AS write matching a device's MSI window:
// intn indexes an MSI page table rooted at c.msiPPN(), and the
// resulting PTE either forwards data to a physical page (BASIC) or
// drives a pending-bit update plus notification write (MRIF).
func (io *IOMMU) redirectMSI(ctx context.Context, c *Ctx, gpa uint64, data uint32) (TranslateResult, error) {
	if !msiCheck(gpa, c.MSIAddrMask, c.MSIAddrPattern) {
		return TranslateResult{}, msiLoadFault.faultCause()
	}

	intn := pext(gpa>>12, c.MSIAddrMask>>12)
	if intn >= 256 {
		return TranslateResult{}, msiLoadFault.faultCause()
	}

	pteAddr := c.msiPPN()*PageSize + intn*16
	rec, err := io.bus.ReadAt(ctx, TargetAS, pteAddr, 16)
	if err != nil {
		if be, ok := err.(*BusError); ok && be.Kind == BusDecodeError {
			return TranslateResult{}, msiPTCorrupted.faultCause()
		}
		return TranslateResult{}, msiLoadFault.faultCause()
	}
	if len(rec) != 16 {
		return TranslateResult{}, msiPTCorrupted.faultCause()
	}
	pte0 := leUint64(rec[0:8])
	pte1 := leUint64(rec[8:16])

	if !pteValid(pte0) || pteCSet(pte0) {
		return TranslateResult{}, msiInvalid.faultCause()
	}

	switch pteModeOf(pte0) {
	case pteModeBasic:
		ppn := pte0PPN(pte0)
		addr := ppn*PageSize + (gpa & pageMask)
		buf := make([]byte, 4)
		putLEUint32(buf, data)
		if err := io.bus.WriteAt(ctx, TargetAS, addr, buf); err != nil {
			return TranslateResult{}, msiWrFault.faultCause()
		}
		return TranslateResult{AddrSpace: TrapAS, Addr: addr, Perm: PermWrite}, nil

	case pteModeMRIF:
		return io.redirectMRIF(ctx, pte0, pte1, gpa, data)

	default:
		return TranslateResult{}, msiMisconfigured.faultCause()
	}
}

// redirectMRIF performs the MRIF pending-bit update for data, then, if
// the corresponding enable bit is set, composes the notification ID
// from pte1 and writes it to the notification page.
func (io *IOMMU) redirectMRIF(ctx context.Context, pte0, pte1, gpa uint64, data uint32) (TranslateResult, error) {
	if data > mrifDataMax || gpa&0x3 != 0 {
		return TranslateResult{}, msiMisconfigured.faultCause()
	}

	mrifBase := pte0MrifAddr(pte0)
	pendingAddr := mrifBase | ((uint64(data) & 0x7C0) >> 3)

	word, err := readLE64(ctx, io.bus, TargetAS, pendingAddr)
	if err != nil {
		return TranslateResult{}, msiWrFault.faultCause()
	}
	bit := uint64(1) << (data & 0x3F)
	word |= bit
	buf := make([]byte, 8)
	putLEUint64(buf, word)
	if err := io.bus.WriteAt(ctx, TargetAS, pendingAddr, buf); err != nil {
		return TranslateResult{}, msiWrFault.faultCause()
	}

	enable, err := readLE64(ctx, io.bus, TargetAS, pendingAddr+mrifPendingWordGap)
	if err != nil {
		return TranslateResult{}, msiWrFault.faultCause()
	}
	if enable&bit == 0 {
		return TranslateResult{AddrSpace: TrapAS, Addr: pendingAddr, Perm: PermWrite}, nil
	}

	n190 := pte1NID(pte1)
	nppn := pte1NPPN(pte1)
	notifyBuf := make([]byte, 4)
	putLEUint32(notifyBuf, n190)
	addr := nppn * PageSize
	if err := io.bus.WriteAt(ctx, TargetAS, addr, notifyBuf); err != nil {
		return TranslateResult{}, msiWrFault.faultCause()
	}
	return TranslateResult{AddrSpace: TrapAS, Addr: addr, Perm: PermWrite}, nil
}
