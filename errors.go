package iommu

import "fmt"

// FaultCause is a translation/configuration fault code, returned
// uninterpreted by the directory walker and translation engine; the
// caller maps it onto a fault-queue record.
type FaultCause uint32

const (
	FaultNone FaultCause = iota
	FaultDMADisabled
	FaultDDTLoadFault
	FaultDDTInvalid
	FaultDDTMisconfigured
	FaultDDTCorrupted
	FaultPDTLoadFault
	FaultPDTInvalid
	FaultPDTMisconfigured
	FaultTTypeBlocked
	FaultInternalDPError
	FaultMSILoadFault
	FaultMSIPTCorrupted
	FaultMSIInvalid
	FaultMSIMisconfigured
	FaultMSIWrFault
)

var faultNames = map[FaultCause]string{
	FaultNone:             "none",
	FaultDMADisabled:      "DMA_DISABLED",
	FaultDDTLoadFault:     "DDT_LOAD_FAULT",
	FaultDDTInvalid:       "DDT_INVALID",
	FaultDDTMisconfigured: "DDT_MISCONFIGURED",
	FaultDDTCorrupted:     "DDT_CORRUPTED",
	FaultPDTLoadFault:     "PDT_LOAD_FAULT",
	FaultPDTInvalid:       "PDT_INVALID",
	FaultPDTMisconfigured: "PDT_MISCONFIGURED",
	FaultTTypeBlocked:     "TTYPE_BLOCKED",
	FaultInternalDPError:  "INTERNAL_DP_ERROR",
	FaultMSILoadFault:     "MSI_LOAD_FAULT",
	FaultMSIPTCorrupted:   "MSI_PT_CORRUPTED",
	FaultMSIInvalid:       "MSI_INVALID",
	FaultMSIMisconfigured: "MSI_MISCONFIGURED",
	FaultMSIWrFault:       "MSI_WR_FAULT",
}

func (f FaultCause) String() string {
	if s, ok := faultNames[f]; ok {
		return s
	}
	return fmt.Sprintf("FaultCause(%d)", uint32(f))
}

func (f FaultCause) Error() string { return f.String() }

// alwaysFatal reports whether tc.DTF must not suppress this fault's
// enqueue onto the Fault Queue (spec: DTF never suppresses these).
func (f FaultCause) alwaysFatal() bool {
	switch f {
	case FaultDMADisabled, FaultDDTLoadFault, FaultDDTInvalid, FaultDDTMisconfigured,
		FaultDDTCorrupted, FaultInternalDPError, FaultMSIWrFault:
		return true
	default:
		return false
	}
}

// BusKind distinguishes a decode error (address maps to nothing) from a
// genuine bus error (mapped but the access failed) on a MemoryBus call.
type BusKind int

const (
	BusDecodeError BusKind = iota
	BusError2
)

// BusError is returned by MemoryBus implementations on failed accesses.
type BusError struct {
	Kind BusKind
	Addr uint64
	Err  error
}

func (e *BusError) Error() string {
	kind := "decode"
	if e.Kind == BusError2 {
		kind = "bus"
	}
	if e.Err != nil {
		return fmt.Sprintf("iommu: %s error at 0x%x: %v", kind, e.Addr, e.Err)
	}
	return fmt.Sprintf("iommu: %s error at 0x%x", kind, e.Addr)
}

func (e *BusError) Unwrap() error { return e.Err }

// MsiFaultCause enumerates the terminal outcomes of the MSI/MRIF
// redirector. Each maps onto a FaultCause for the Fault Queue record.
type MsiFaultCause int

const (
	msiOK MsiFaultCause = iota
	msiLoadFault
	msiPTCorrupted
	msiInvalid
	msiMisconfigured
	msiWrFault
)

func (c MsiFaultCause) faultCause() FaultCause {
	switch c {
	case msiLoadFault:
		return FaultMSILoadFault
	case msiPTCorrupted:
		return FaultMSIPTCorrupted
	case msiInvalid:
		return FaultMSIInvalid
	case msiMisconfigured:
		return FaultMSIMisconfigured
	case msiWrFault:
		return FaultMSIWrFault
	default:
		return FaultNone
	}
}

// RegAccessError is returned by RegFile.Read/Write for misaligned or
// out-of-range accesses.
type RegAccessError struct {
	Offset uint32
	Width  int
	Reason string
}

func (e *RegAccessError) Error() string {
	return fmt.Sprintf("iommu: register access at offset 0x%x width %d: %s", e.Offset, e.Width, e.Reason)
}
