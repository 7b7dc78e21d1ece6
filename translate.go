// translate.go - the translation engine.
//
// This core implements no stage-1/stage-2 page walk of its own:
// requests either pass through untranslated or are redirected to the
// MSI trap address space. The interesting work is
// classifying which of those two outcomes applies, and funneling every
// failure into a single typed (FaultCause, ttype) pair rather than a
// scattered set of ad hoc error paths.
package iommu

import "context"

// Perm is the access type requested of a translation.
type Perm int

const (
	PermNone Perm = iota
	PermRead
	PermWrite
	PermReadWrite
)

// TranslateResult is the outcome of a successful Translate call.
type TranslateResult struct {
	AddrSpace AddrSpace
	Addr      uint64
	Perm      Perm
}

// Translate resolves iova for (devid, processID) under perm. On
// success it reports where the access should actually land: ordinary
// memory traffic resolves into TargetAS at the same address (identity
// pass-through), while a write matching the device's MSI pattern is
// redirected into TrapAS — the caller writes there, and WriteTrapAS
// walks the MSI page table and performs the real redirect once the
// write's data exists.
func (io *IOMMU) Translate(ctx context.Context, devid, processID uint32, iova uint64, perm Perm) (TranslateResult, error) {
	c, err := io.fetchCtx(ctx, devid, processID)
	if err != nil {
		return TranslateResult{}, io.reportFault(ctx, devid, processID, err, perm, iova, iova)
	}

	isWrite := perm == PermWrite || perm == PermReadWrite
	if isWrite && c.msiMode() == msiptpModeFlat && msiCheck(iova, c.MSIAddrMask, c.MSIAddrPattern) {
		io.log.WithField("devid", devid).Debug("iommu: translation redirected to trap address space")
		return TranslateResult{AddrSpace: TrapAS, Addr: iova, Perm: perm}, nil
	}

	io.log.WithField("devid", devid).Debug("iommu: translation resolved by identity pass-through")
	return TranslateResult{AddrSpace: TargetAS, Addr: iova, Perm: PermReadWrite}, nil
}

// fetchCtx resolves the cached/looked-up Ctx for (devid, processID),
// snapshotting DDTP under regs_lock before handing off to the directory
// walker so the walk sees a consistent mode+PPN pair.
func (io *IOMMU) fetchCtx(ctx context.Context, devid, processID uint32) (*Ctx, error) {
	return io.cache.getOrFetch(ctx, devid, processID, func(ctx context.Context, devid, processID uint32) (*Ctx, error) {
		ddtp := io.regs.get64(RegDDTP)
		mode := ddtp & ddtpModeMask
		ppn := ddtp >> ddtpPPNShift
		extDC := io.cfg.EnableMSIFlat || io.cfg.EnableMSIMrif
		return ddtFetch(ctx, io.bus, mode, ppn, extDC, io.cfg, devid, processID)
	})
}

// reportFault classifies a translation failure: it decides whether
// tc.DTF may suppress the fault record, whether an automatic page
// request should be raised instead, and otherwise enqueues a Fault
// Queue record with a ttype derived from the requested permission.
// iova/translatedAddr become the record's iotval/iotval2 fields.
func (io *IOMMU) reportFault(ctx context.Context, devid, processID uint32, err error, perm Perm, iova, translatedAddr uint64) error {
	fc, ok := err.(FaultCause)
	if !ok {
		return err
	}

	ttype := uint32(ttypeUAddrRd)
	if perm == PermWrite || perm == PermReadWrite {
		ttype = ttypeUAddrWr
	}

	if fc == FaultInternalDPError {
		io.log.WithField("devid", devid).Error("iommu: internal data-path error")
	}

	suppressed := false
	if c := io.bestEffortCtx(devid, processID); c != nil {
		if c.dtf() && !fc.alwaysFatal() {
			suppressed = true
		}
		if !suppressed && c.autoPR() && perm == PermNone {
			io.pq.pri(ctx, devid, processID, c.pdtv(), ttype, iova)
			return fc
		}
	}

	if !suppressed {
		io.log.WithField("cause", fc).WithField("devid", devid).Warn("iommu: translation fault")
		io.fq.fault(ctx, fc, ttype, devid, iova, translatedAddr)
	}
	return fc
}

// bestEffortCtx returns a stale cached context (even an invalidated
// one) purely to read its DTF/auto-PR bits when the current fetch
// itself failed; it never triggers a new fetch.
func (io *IOMMU) bestEffortCtx(devid, processID uint32) *Ctx {
	m := io.cache.snapshot()
	if v, ok := m[ctxKey{devid, processID}]; ok {
		return v
	}
	return nil
}

// msiCheck reports whether gpa falls within the device's programmed
// MSI address window: the bits of gpa's page number outside addrMask's
// set bits must match the corresponding bits of addrPattern. The
// interrupt-file-number bound (intn < 256) is a separate check made by
// the redirector itself (4.5), not part of this predicate.
func msiCheck(gpa, addrMask, addrPattern uint64) bool {
	ppn := gpa >> 12
	maskPPN := addrMask >> 12
	patternPPN := addrPattern >> 12
	return (ppn^patternPPN)&^maskPPN == 0
}

// pext gathers the bits of x selected by mask into the low-order bits
// of the result, preserving their relative order (parallel-bits-extract).
func pext(x, mask uint64) uint64 {
	var result uint64
	var bit uint
	for mask != 0 {
		lsb := mask & (^mask + 1)
		if x&lsb != 0 {
			result |= 1 << bit
		}
		mask &^= lsb
		bit++
	}
	return result
}
