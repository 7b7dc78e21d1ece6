// ctx.go - the translation context materialized from a DDT+PDT walk.
package iommu

// Translation-control (tc) bit layout.
const (
	tcV        = uint64(1) << 0  // context valid
	tcPDTV     = uint64(1) << 1  // process tables enabled
	tcDTF      = uint64(1) << 2  // suppress (non-fatal) faults
	tcPRPR     = uint64(1) << 3  // page-request "privileged request" mode
	tcENPRI    = uint64(1) << 4  // page requests enabled for this device
	tcT2GPA    = uint64(1) << 5  // two-stage GPA translation requested
	tcSBE      = uint64(1) << 6  // swap byte endianness; must be 0
	tcAutoPR   = uint64(1) << 32 // private extension: auto page-request on ATS fault
	tcReserved = ^(tcV | tcPDTV | tcDTF | tcPRPR | tcENPRI | tcT2GPA | tcSBE | tcAutoPR)
)

// Translation-attributes (ta) bit layout. Only V is defined; all other
// bits are reserved-must-be-zero in this core (no ASID-based sharing).
const (
	taV        = uint64(1) << 0
	taReserved = ^taV
)

// MSI page-table-pointer (msiptp) bit layout.
const (
	msiptpModeOff  = 0
	msiptpModeFlat = 1
	msiptpModeMask = 0xF
	msiptpPPNShift = 10
)

// Ctx is the per-{device_id, process_id} translation context snapshot.
// It is created by ctx_fetch on a cache miss and never mutated after
// insertion: invalidation replaces it in the cache with a clone whose
// tc V bit is clear.
type Ctx struct {
	DeviceID  uint32
	ProcessID uint32

	TC             uint64 // translation control
	TA             uint64 // translation attributes (from the DC; replaced by the leaf process context's when PDTV is set)
	FSC            uint64 // first-stage/PDT-root context: PPN of the process directory table
	MSIPTP         uint64 // MSI page-table pointer + mode
	MSIAddrMask    uint64
	MSIAddrPattern uint64
}

func (c *Ctx) valid() bool { return c.TC&tcV != 0 }

func (c *Ctx) pdtv() bool    { return c.TC&tcPDTV != 0 }
func (c *Ctx) dtf() bool     { return c.TC&tcDTF != 0 }
func (c *Ctx) prpr() bool    { return c.TC&tcPRPR != 0 }
func (c *Ctx) enPRI() bool   { return c.TC&tcENPRI != 0 }
func (c *Ctx) t2gpa() bool   { return c.TC&tcT2GPA != 0 }
func (c *Ctx) sbe() bool     { return c.TC&tcSBE != 0 }
func (c *Ctx) autoPR() bool  { return c.TC&tcAutoPR != 0 }
func (c *Ctx) msiMode() int  { return int(c.MSIPTP & msiptpModeMask) }
func (c *Ctx) msiPPN() uint64 { return c.MSIPTP >> msiptpPPNShift }

// clone returns an independent copy, used when invalidation must mutate
// a context without racing a concurrent reader holding the cache's old
// snapshot.
func (c *Ctx) clone() *Ctx {
	cp := *c
	return &cp
}

// bareCtx synthesizes the pass-through context used when DDTP.MODE ==
// BARE.
func bareCtx(devid, pid uint32) *Ctx {
	return &Ctx{DeviceID: devid, ProcessID: pid, TC: tcV}
}

// dcLayout describes where each field lives in a device-context record,
// which differs between the 32-byte base format and the 64-byte
// extended (MSI-capable) format.
type dcLayout struct {
	size int
}

func dcLayoutFor(extended bool) dcLayout {
	if extended {
		return dcLayout{size: 64}
	}
	return dcLayout{size: 32}
}

// decodeDC unpacks a device-context record into ctx. Offsets:
// tc(0,8) ta(8,8) fsc/iohgatp(16,8) reserved(24,8); extended records add
// msiptp(32,8) msi_addr_mask(40,8) msi_addr_pattern(48,8) reserved(56,8).
func decodeDC(rec []byte, extended bool, ctx *Ctx) error {
	if len(rec) < 32 || (extended && len(rec) < 64) {
		return FaultDDTCorrupted
	}
	ctx.TC = leUint64(rec[0:8])
	ctx.TA = leUint64(rec[8:16])
	ctx.FSC = leUint64(rec[16:24])
	if leUint64(rec[24:32]) != 0 {
		return FaultDDTMisconfigured
	}
	if extended {
		ctx.MSIPTP = leUint64(rec[32:40])
		ctx.MSIAddrMask = leUint64(rec[40:48])
		ctx.MSIAddrPattern = leUint64(rec[48:56])
		if leUint64(rec[56:64]) != 0 {
			return FaultDDTMisconfigured
		}
	} else {
		ctx.MSIPTP = 0
		ctx.MSIAddrMask = 0
		ctx.MSIAddrPattern = 0
	}
	return nil
}

// decodePC unpacks a 16-byte process-context record: ta(0,8) fsc(8,8).
func decodePC(rec []byte, ctx *Ctx) error {
	if len(rec) < 16 {
		return FaultPDTMisconfigured
	}
	ctx.TA = leUint64(rec[0:8])
	return nil
}
