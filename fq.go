// fq.go - Fault Queue producer.
//
// Thirty-two-byte fault records: hdr (8 bytes: cause in the low 12
// bits, ttype in bits [15:12], DID in bits [47:16]), iotval (8 bytes,
// the faulting address), iotval2 (8 bytes, the translated address
// passed by the caller), reserved (8 bytes).
package iommu

import "context"

// faultQueue is the FQON/overflow-guarded record producer feeding
// software's Fault Queue.
type faultQueue struct {
	queueCSR
	bus MemoryBus
	io  *IOMMU
}

// fault appends a fault record for cause/ttype/devid, or raises FQOF
// if the queue is full. A disabled or already-errored queue silently
// drops the record, matching hardware that stops producing once
// software has not drained the backlog. iova and translatedAddr become
// the record's iotval/iotval2 fields.
func (q *faultQueue) fault(ctx context.Context, cause FaultCause, ttype uint32, devid uint32, iova, translatedAddr uint64) {
	if !q.isEnabled() || q.errorLatched() {
		return
	}

	entries := q.sizeEntries()
	if entries == 0 {
		return
	}
	mask := entries - 1

	head := uint64(q.regs.get32(q.headOff))
	tail := uint64(q.regs.get32(q.tailOff))

	if (tail+1)&mask == head&mask {
		q.raise(qcsrOverfl)
		q.notifyIfIE()
		return
	}

	rec := make([]byte, 32)
	hdr := uint64(cause)&0xFFF | (uint64(ttype)&0xF)<<12 | (uint64(devid)&0xFFFFFFFF)<<16
	putLEUint64(rec[0:8], hdr)
	putLEUint64(rec[8:16], iova)
	putLEUint64(rec[16:24], translatedAddr)

	addr := q.basePPN()*PageSize + (tail&mask)*32
	if err := q.bus.WriteAt(ctx, TargetAS, addr, rec); err != nil {
		q.raise(qcsrMemFlt)
		q.notifyIfIE()
		if q.io != nil {
			q.io.log.WithError(err).Warn("iommu: fault queue write failed")
		}
		return
	}

	q.regs.set32(q.tailOff, uint32((tail+1)&mask))
	q.notifyIfIE()
	if q.io != nil {
		q.io.log.WithField("cause", cause).Warn("iommu: fault queue record enqueued")
	}
}

func (q *faultQueue) notifyIfIE() {
	if q.ieEnabled() {
		q.io.updateIPSR(ipsrFQIP, true)
	}
}
