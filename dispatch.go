// dispatch.go - MMIO register dispatcher.
//
// Decode the offset, read-modify-write through the masked-update
// register file, then run whatever side effect that register triggers.
package iommu

import "context"

// HandleMMIORead services a read of the IOMMU's register window.
func (io *IOMMU) HandleMMIORead(offset, width int) (uint64, error) {
	v, err := io.regs.Read(offset, width)
	if err != nil {
		return 0, err
	}
	switch offset {
	case RegCQT:
		v &= io.cq.ptrMask()
	case RegFQH:
		v &= io.fq.ptrMask()
	case RegPQH:
		v &= io.pq.ptrMask()
	}
	return v, nil
}

// HandleMMIOWrite services a write to the IOMMU's register window,
// applying the masked-update rule and then running any action the
// written register triggers.
func (io *IOMMU) HandleMMIOWrite(ctx context.Context, offset, width int, data uint64) error {
	io.log.WithField("offset", offset).WithField("width", width).Debug("iommu: MMIO write dispatched")
	switch offset {
	case RegDDTP, RegDDTP + 4:
		return io.writeDDTP(offset, data, width)
	case RegIPSR:
		return io.writeIPSR(data, width)
	case RegCQT:
		return io.writeQueuePtr(ctx, &io.cq.queueCSR, offset, width, data)
	case RegFQH:
		return io.writeQueuePtr(ctx, &io.fq.queueCSR, offset, width, data)
	case RegPQH:
		return io.writeQueuePtr(ctx, &io.pq.queueCSR, offset, width, data)
	default:
		if err := io.regs.Write(offset, width, data); err != nil {
			return err
		}
		io.runSideEffect(ctx, offset)
		return nil
	}
}

// writeQueuePtr lands a driver write to a software-owned queue pointer
// (CQT, FQH, PQH). Bits above the queue's configured log2size are
// cleared before the write so those bits always read back as zero, per
// the pointer registers' high-bits-reserved rule.
func (io *IOMMU) writeQueuePtr(ctx context.Context, q *queueCSR, offset, width int, data uint64) error {
	data &= q.ptrMask()
	if err := io.regs.Write(offset, width, data); err != nil {
		return err
	}
	io.runSideEffect(ctx, offset)
	return nil
}

// writeDDTP enforces the DDTP legal-transition rule: {OFF,BARE} may
// move to any mode; any leveled mode may only move to
// {OFF,BARE}. An illegal transition is silently discarded (the register
// keeps its old value) rather than rejected with an error, matching
// real MMIO semantics where software gets no synchronous feedback.
//
// DDTP is a single 8-byte register software may address as a whole or
// as two 4-byte halves (offset or offset+4); MODE and BUSY live only in
// the low half, so a write to the high half never changes MODE. It is
// therefore accepted only while MODE is OFF or BARE, like any other
// write that leaves a leveled mode in place.
func (io *IOMMU) writeDDTP(offset int, data uint64, width int) error {
	io.coreLock.Lock()
	defer io.coreLock.Unlock()

	oldMode := io.regs.get64(RegDDTP) & ddtpModeMask

	newMode := oldMode
	if offset == RegDDTP {
		newMode = data & ddtpModeMask
	}

	legal := oldMode == ddtpModeOff || oldMode == ddtpModeBare ||
		newMode == ddtpModeOff || newMode == ddtpModeBare

	if !legal {
		return nil
	}

	io.regs.or32(RegDDTP, uint32(ddtpBusyBit))
	defer io.regs.and32(RegDDTP, ^uint32(ddtpBusyBit))

	masked := data
	if offset == RegDDTP {
		if newMode > ddtpMode3LVL {
			newMode = oldMode
		}
		masked = (data &^ ddtpModeMask) | newMode
		masked &^= ddtpBusyBit
	}
	return io.regs.Write(offset, width, masked)
}

// writeIPSR applies the W1C write and then re-derives every bit that
// was targeted for clearing, so a source that is still pending
// re-latches in the same write.
func (io *IOMMU) writeIPSR(data uint64, width int) error {
	clearedMask := uint32(data) & (ipsrCQIP | ipsrFQIP | ipsrPQIP)
	if err := io.regs.Write(RegIPSR, width, data); err != nil {
		return err
	}
	io.ipsr.recheckAfterClear(clearedMask)
	return nil
}

// runSideEffect handles the registers whose write completes through
// the ordinary masked-update path but still triggers queue-engine
// activity once the new value has landed.
func (io *IOMMU) runSideEffect(ctx context.Context, offset int) {
	switch offset {
	case RegCQT:
		io.cq.processTail(ctx)
	case RegCQCSR:
		io.coreLock.Lock()
		io.cq.processControl()
		io.coreLock.Unlock()
	case RegFQCSR:
		io.coreLock.Lock()
		io.fq.processControl()
		io.coreLock.Unlock()
	case RegPQCSR:
		io.coreLock.Lock()
		io.pq.processControl()
		io.coreLock.Unlock()
	}
}
