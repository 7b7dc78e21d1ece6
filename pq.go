// pq.go - Page Request Queue producer.
//
// Sixteen-byte page-request records: hdr (8 bytes: ttype in the low 4
// bits, DID in bits [55:32]), payload (8 bytes: the requested page
// address). Structurally the same producer as fq.go, kept as a
// separate type because its overflow/interrupt bits live in a
// different CSR (PQCSR) and its record layout is half the size.
package iommu

import "context"

// Page-request header bit layout: ttype in the low 4 bits, a
// process-valid flag, a 20-bit PID field (the full process_id width), and
// the 24-bit device ID above that. Payload carries the page-aligned
// IOVA with the message flag in its low bit.
const (
	priTtypeMask = 0xF
	priPV        = uint64(1) << 4
	priPIDShift  = 5
	priPIDMask   = uint64(0xFFFFF)
	priDIDShift  = 32

	priPayloadM = uint64(1) << 0 // M: the record is a page-request message
)

type pageReqQueue struct {
	queueCSR
	bus MemoryBus
	io  *IOMMU
}

// pri enqueues a page-request record on behalf of the automatic
// page-request-on-fault path (translate.go) or an endpoint's own ATS
// page-request message. havePID is set when the originating context
// has PDTV enabled, per spec's "{PID if PDTV, DID, payload = iova_page
// | M}".
func (q *pageReqQueue) pri(ctx context.Context, devid, processID uint32, havePID bool, ttype uint32, iova uint64) {
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

	rec := make([]byte, 16)
	hdr := uint64(ttype) & priTtypeMask
	if havePID {
		hdr |= priPV | (uint64(processID)&priPIDMask)<<priPIDShift
	}
	hdr |= (uint64(devid) & 0xFFFFFF) << priDIDShift
	payload := iova&^pageMask | priPayloadM

	putLEUint64(rec[0:8], hdr)
	putLEUint64(rec[8:16], payload)

	addr := q.basePPN()*PageSize + (tail&mask)*16
	if err := q.bus.WriteAt(ctx, TargetAS, addr, rec); err != nil {
		q.raise(qcsrMemFlt)
		q.notifyIfIE()
		return
	}

	q.regs.set32(q.tailOff, uint32((tail+1)&mask))
	q.notifyIfIE()
}

func (q *pageReqQueue) notifyIfIE() {
	if q.ieEnabled() {
		q.io.updateIPSR(ipsrPQIP, true)
	}
}
