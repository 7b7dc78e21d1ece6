// dirwalk.go - the DDT/PDT directory walk that materializes a Ctx.
//
// Explicit loop state carried in local variables instead of goto, one
// case per step of the walk rather than a single monolithic state
// machine.
package iommu

import "context"

// table-entry bit layout, shared by DDT and PDT non-leaf entries.
const (
	entValid    = uint64(1) << 0
	entReserved = 0x3FE // bits [9:1]
	entPPNShift = 10
)

func entryPPN(raw uint64) uint64 { return raw >> entPPNShift }

// walkDepth returns the number of intermediate (non-leaf) DDT levels for
// a DDTP mode, or -1 if the mode takes no directory walk at all.
func walkDepth(mode uint64) int {
	switch mode {
	case ddtpMode1LVL:
		return 0
	case ddtpMode2LVL:
		return 1
	case ddtpMode3LVL:
		return 2
	default:
		return -1
	}
}

// ddtFetch performs the full ctx_fetch algorithm: it walks the
// device-directory table rooted at ddtpPPN to the leaf device context
// for devid, optionally continues into the process-directory table
// when PDTV is set, and returns the resulting Ctx.
//
// extDC selects the 64-byte extended device-context format (required
// when MSI_FLAT is enabled); ddtpMode/ddtpPPN come from a DDTP snapshot
// taken under regs_lock by the caller.
func ddtFetch(ctx context.Context, bus MemoryBus, ddtpMode uint64, ddtpPPN uint64, extDC bool, cfg Config, devid, processID uint32) (*Ctx, error) {
	switch ddtpMode {
	case ddtpModeOff:
		return nil, FaultDMADisabled
	case ddtpModeBare:
		return bareCtx(devid, processID), nil
	}

	depth := walkDepth(ddtpMode)
	if depth < 0 {
		return nil, FaultDDTMisconfigured
	}

	// ext is 1 for the 32-byte base DC format (one extra devid bit in
	// the leaf index, since it packs more DCs per leaf page) and 0 for
	// the 64-byte extended (MSI-capable) format.
	ext := 1
	if extDC {
		ext = 0
	}

	// devid-width overflow check: the walk can only address devid
	// values that fit the configured depth and DC format.
	maxShift := uint(depth)*9 + 6
	if ext != 0 && depth != 2 {
		maxShift++
	}
	if maxShift < 32 && devid >= uint32(1)<<maxShift {
		return nil, FaultDDTInvalid
	}

	nodePPN := ddtpPPN
	for level := depth; level >= 1; level-- {
		shift := uint(level-1)*9 + 6 + uint(ext)
		idx := (devid >> shift) & 0x1FF
		raw, err := readLE64(ctx, bus, TargetAS, nodePPN*PageSize+uint64(idx)*8)
		if err != nil {
			return nil, FaultDDTLoadFault
		}
		if raw&entValid == 0 {
			return nil, FaultDDTInvalid
		}
		if raw&entReserved != 0 {
			return nil, FaultDDTMisconfigured
		}
		nodePPN = entryPPN(raw)
	}

	// Leaf device-context fetch. The leaf table holds one DC per
	// remaining low-order devid bits not consumed by the intermediate
	// levels above, sized so every leaf table occupies exactly one page
	// regardless of DC format (32B base / 64B extended).
	leafBits := 6 + uint(ext)
	leafIdx := devid & ((uint32(1) << leafBits) - 1)
	layout := dcLayoutFor(extDC)
	dcAddr := nodePPN*PageSize + uint64(leafIdx)*uint64(layout.size)

	rec, err := bus.ReadAt(ctx, TargetAS, dcAddr, layout.size)
	if err != nil {
		return nil, FaultDDTLoadFault
	}

	c := &Ctx{DeviceID: devid, ProcessID: processID}
	if err := decodeDC(rec, extDC, c); err != nil {
		return nil, err
	}
	if !c.valid() {
		return nil, FaultDDTInvalid
	}
	if c.TC&tcReserved != 0 {
		return nil, FaultDDTMisconfigured
	}
	if c.TA&taReserved != 0 {
		return nil, FaultDDTMisconfigured
	}
	if err := validateDC(c, cfg); err != nil {
		return nil, err
	}

	if !c.pdtv() {
		if processID != 0 {
			return nil, FaultTTypeBlocked
		}
		return c, nil
	}

	return pdtFetch(ctx, bus, c, depth, processID)
}

// validateDC applies the device-context validation rules (spec §4.2
// step 5) beyond the bare reserved-bits check already done by the
// caller: PRPR requires EN_PRI, T2GPA requires the capability be
// advertised, a flat-MSI-capable core only accepts MSI OFF/FLAT modes,
// and big-endian byte swapping is never supported.
func validateDC(c *Ctx, cfg Config) error {
	if c.prpr() && !c.enPRI() {
		return FaultDDTMisconfigured
	}
	if c.t2gpa() && !cfg.EnableT2GPA {
		return FaultDDTMisconfigured
	}
	if cfg.EnableMSIFlat {
		switch c.msiMode() {
		case msiptpModeOff, msiptpModeFlat:
		default:
			return FaultDDTMisconfigured
		}
	}
	if c.sbe() {
		return FaultDDTMisconfigured
	}
	return nil
}

// pdtFetch walks the process-directory table referenced by dc.FSC's PPN
// field, reusing the DDT walk's depth as the PDT's intermediate-level
// count: both trees are sized against the same devid/process_id
// address-width budget, so reusing depth keeps the walk symmetric and
// the leaf table exactly one page.
func pdtFetch(ctx context.Context, bus MemoryBus, dc *Ctx, depth int, processID uint32) (*Ctx, error) {
	nodePPN := entryPPN(dc.FSC)

	for level := depth; level >= 1; level-- {
		shift := uint(level-1)*9 + 8
		idx := (processID >> shift) & 0x1FF
		raw, err := readLE64(ctx, bus, TargetAS, nodePPN*PageSize+uint64(idx)*8)
		if err != nil {
			return nil, FaultPDTLoadFault
		}
		if raw&entValid == 0 {
			return nil, FaultPDTInvalid
		}
		if raw&entReserved != 0 {
			return nil, FaultPDTMisconfigured
		}
		nodePPN = entryPPN(raw)
	}

	leafIdx := processID & 0xFF // PD8: 8-bit leaf index
	pcAddr := nodePPN*PageSize + uint64(leafIdx)*16

	rec, err := bus.ReadAt(ctx, TargetAS, pcAddr, 16)
	if err != nil {
		return nil, FaultPDTLoadFault
	}

	out := dc.clone()
	if err := decodePC(rec, out); err != nil {
		return nil, err
	}
	if out.TA&taV == 0 {
		return nil, FaultPDTInvalid
	}
	if out.TA&taReserved != 0 {
		return nil, FaultPDTMisconfigured
	}
	out.ProcessID = processID
	return out, nil
}
