// registers.go - MMIO register address map for the IOMMU core.
//
// A single file centralizing every offset and bit constant instead of
// scattering magic numbers through the logic files.
package iommu

const (
	PageSize = 1 << 12
	pageMask = PageSize - 1

	// RegFileSize is the size of the MMIO window, up to the MSI-config
	// boundary.
	RegFileSize = 0x100
)

// Register offsets, all little-endian.
const (
	RegCAP  = 0x00 // q, RO capabilities
	RegFCTL = 0x08 // l, feature control
	RegDDTP = 0x10 // q, PPN+MODE, BUSY latch

	RegCQB = 0x18 // q, command queue base (PPN + log2size)
	RegCQH = 0x20 // l, command queue head
	RegCQT = 0x24 // l, command queue tail

	RegFQB = 0x28
	RegFQH = 0x30
	RegFQT = 0x34

	RegPQB = 0x38
	RegPQH = 0x40
	RegPQT = 0x44

	RegCQCSR = 0x48 // l
	RegFQCSR = 0x4C
	RegPQCSR = 0x50

	RegIPSR = 0x54 // l, W1C
	RegIVEC = 0x58 // q
)

// CAP bit layout.
const (
	capVersionMask  = 0xFF
	capMSIFlatBit   = 1 << 8
	capMSIMrifBit   = 1 << 9
	capT2GPABit     = 1 << 30
	capPASIDWidthSh = 16 // 5-bit field, bits [20:16]
	capPASIDWidthMa = 0x1F
	capPAWidthSh    = 32 // 6-bit field, bits [37:32]
	capPAWidthMa    = 0x3F

	coreVersion = 1
)

// DDTP mode values.
const (
	ddtpModeOff  = 0
	ddtpModeBare = 1
	ddtpMode1LVL = 2
	ddtpMode2LVL = 3
	ddtpMode3LVL = 4

	ddtpModeMask = 0xF
	ddtpBusyBit  = uint64(1) << 4
	ddtpPPNShift = 10
)

// Queue control/status register bit layout, shared by CQCSR/FQCSR/PQCSR.
const (
	qcsrEnable  = uint32(1) << 0
	qcsrIE      = uint32(1) << 1
	qcsrActive  = uint32(1) << 16
	qcsrBusy    = uint32(1) << 17
	qcsrMemFlt  = uint32(1) << 24
	qcsrCmdIll  = uint32(1) << 25 // CQ only
	qcsrCmdTo   = uint32(1) << 26 // CQ only
	qcsrFenceIP = uint32(1) << 27 // CQ only
	qcsrOverfl  = uint32(1) << 25 // FQ/PQ: OF shares CQ_ILL's bit position in their own CSR
)

// IPSR bits — one per queue source.
const (
	ipsrCQIP = uint32(1) << 0
	ipsrFQIP = uint32(1) << 1
	ipsrPQIP = uint32(1) << 2
)

// FCTL bits.
const (
	fctlWSI = uint32(1) << 0
	fctlBE  = uint32(1) << 1 // must stay clear: no big-endian MMIO support
)

// ttype values used in fault records.
const (
	ttypeUAddrRd = 1
	ttypeUAddrWr = 2
)
