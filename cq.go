// cq.go - Command Queue consumer.
//
// Sixteen-byte command words: byte 0 opcode, byte 1 the opcode's
// sub-function, bytes [4:8] a device ID operand where the opcode needs
// one, bytes [8:16] an address or process-ID operand.
package iommu

import "context"

const (
	cqOpIOFENCE  = 1
	cqOpIOTINVAL = 2
	cqOpIODIR    = 3

	cqFuncVMA  = 0
	cqFuncGVMA = 1

	cqFuncInvalDDT = 0
	cqFuncInvalPDT = 1

	cqIofenceAV    = 1 << 0 // dword0 byte 2: address-valid flag
	cqIotinvalPSCV = 1 << 0 // dword0 byte 2: process-scope valid (GVMA only)
	cqIodirDV      = 1 << 0 // dword0 byte 2: device-ID valid
)

// cmdQueue drives command-queue consumption: every tail advance (a
// CQT write) processes entries up to the new tail, one at a time, in
// program order.
type cmdQueue struct {
	queueCSR
	bus   MemoryBus
	cache *ctxCache
	ipsr  *ipsrUnit
	io    *IOMMU
}

// processTail runs after a CQT write: it consumes entries from the
// current head up to tail, stopping immediately on the first command
// error or memory fault. The queue never advances past a failing entry.
func (q *cmdQueue) processTail(ctx context.Context) {
	if !q.isEnabled() {
		return
	}
	if q.errorLatched() {
		return
	}

	entries := q.sizeEntries()
	if entries == 0 {
		return
	}
	mask := entries - 1

	head := uint64(q.regs.get32(q.headOff))
	tail := uint64(q.regs.get32(q.tailOff))

	for head != tail {
		addr := q.basePPN()*PageSize + (head&mask)*16
		rec, err := q.bus.ReadAt(ctx, TargetAS, addr, 16)
		if err != nil || len(rec) != 16 {
			q.raise(qcsrMemFlt)
			q.notifyIfIE()
			return
		}

		if execErr := q.execute(ctx, rec); execErr != nil {
			q.raise(qcsrCmdIll)
			q.notifyIfIE()
			return
		}

		head = (head + 1) & mask
		q.regs.set32(q.headOff, uint32(head))
	}
}

func (q *cmdQueue) execute(ctx context.Context, rec []byte) error {
	opcode := rec[0]
	fn := rec[1]
	devid := leUint32(rec[4:8])

	switch opcode {
	case cqOpIOFENCE:
		av := rec[2]&cqIofenceAV != 0
		data := leUint32(rec[4:8])
		completionAddr := leUint64(rec[8:16])
		if av {
			buf := make([]byte, 4)
			putLEUint32(buf, data)
			if err := q.bus.WriteAt(ctx, TargetAS, completionAddr, buf); err != nil {
				return err
			}
		}
		q.raise(qcsrFenceIP)
		return nil

	case cqOpIOTINVAL:
		switch fn {
		case cqFuncVMA:
			return nil // no real I/O TLB to invalidate; accepted as a no-op
		case cqFuncGVMA:
			if rec[2]&cqIotinvalPSCV != 0 {
				return &RegAccessError{Reason: "IOTINVAL.GVMA with PSCV set is illegal"}
			}
			return nil
		default:
			return &RegAccessError{Reason: "unknown IOTINVAL sub-function"}
		}

	case cqOpIODIR:
		dv := rec[2]&cqIodirDV != 0
		switch fn {
		case cqFuncInvalDDT:
			if !dv {
				q.cache.invalidate(invalidateAll, 0, 0)
				if q.io != nil {
					q.io.log.Debug("iommu: IODIR.INVAL_DDT invalidated all contexts")
				}
				return nil
			}
			q.cache.invalidate(invalidateDevice, devid, 0)
			if q.io != nil {
				q.io.log.WithField("devid", devid).Debug("iommu: IODIR.INVAL_DDT invalidated device context")
			}
			return nil
		case cqFuncInvalPDT:
			if !dv {
				return &RegAccessError{Reason: "IODIR.INVAL_PDT requires DV"}
			}
			processID := leUint32(rec[8:12])
			q.cache.invalidate(invalidateDeviceProcess, devid, processID)
			if q.io != nil {
				q.io.log.WithField("devid", devid).WithField("pid", processID).Debug("iommu: IODIR.INVAL_PDT invalidated device/process context")
			}
			return nil
		default:
			return &RegAccessError{Reason: "unknown IODIR sub-function"}
		}

	default:
		return &RegAccessError{Reason: "unknown command opcode"}
	}
}

func (q *cmdQueue) notifyIfIE() {
	if q.ieEnabled() {
		q.io.updateIPSR(ipsrCQIP, true)
	}
}
