// regfile.go - the register file backing the MMIO window.
//
// A flat byte slice guarded by a lock, read and written at fixed
// widths. This register file adds parallel ro/wc shadow masks so every
// field's read-only and write-1-to-clear bits are configured once at
// construction rather than special-cased per offset; the I/O-region
// callback table lives one layer up, in dispatch.go.
package iommu

import (
	"encoding/binary"
	"sync"
)

// RegFile is the masked-update register file implementing the law
// next = ((rw & ro) | (data &^ ro)) &^ (data & wc).
type RegFile struct {
	mu sync.Mutex // regs_lock: critical section is O(width)

	rw []byte // current values
	ro []byte // 1 = bit is read-only (software writes do not change it)
	wc []byte // 1 = bit is cleared by writing 1
}

// NewRegFile allocates a register file of the given size, with every bit
// writable and no write-1-to-clear bits by default; callers narrow
// individual fields with SetReadOnlyMask/SetWriteClearMask.
func NewRegFile(size int) *RegFile {
	return &RegFile{
		rw: make([]byte, size),
		ro: make([]byte, size),
		wc: make([]byte, size),
	}
}

// SetReadOnlyMask marks bits at offset (width bytes) as read-only (not
// writable by software) by setting the corresponding ro bits.
func (rf *RegFile) SetReadOnlyMask(offset, width int, mask uint64) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	for i := 0; i < width; i++ {
		rf.ro[offset+i] |= byte(mask >> (8 * i))
	}
}

// SetWriteClearMask marks bits at offset (width bytes) as write-1-to-clear.
func (rf *RegFile) SetWriteClearMask(offset, width int, mask uint64) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	for i := 0; i < width; i++ {
		rf.wc[offset+i] |= byte(mask >> (8 * i))
	}
}

// SetRaw seeds the current value at offset without going through the
// masked-update rule (construction time only, e.g. CAP).
func (rf *RegFile) SetRaw(offset int, width int, value uint64) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	for i := 0; i < width; i++ {
		rf.rw[offset+i] = byte(value >> (8 * i))
	}
}

func widthOK(width int) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}

// Read returns the raw rw bytes at offset, little-endian, at the given
// width. Offset must be width-aligned and offset+width must not exceed
// the register file's size.
func (rf *RegFile) Read(offset, width int) (uint64, error) {
	if !widthOK(width) {
		return 0, &RegAccessError{Offset: uint32(offset), Width: width, Reason: "unsupported width"}
	}
	if offset%width != 0 {
		return 0, &RegAccessError{Offset: uint32(offset), Width: width, Reason: "misaligned"}
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if offset < 0 || offset+width > len(rf.rw) {
		return 0, &RegAccessError{Offset: uint32(offset), Width: width, Reason: "out of range"}
	}
	return leRead(rf.rw[offset:offset+width], width), nil
}

// Write applies the masked-update rule to the width bytes at offset,
// under the register file's lock.
func (rf *RegFile) Write(offset, width int, data uint64) error {
	if !widthOK(width) {
		return &RegAccessError{Offset: uint32(offset), Width: width, Reason: "unsupported width"}
	}
	if offset%width != 0 {
		return &RegAccessError{Offset: uint32(offset), Width: width, Reason: "misaligned"}
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if offset < 0 || offset+width > len(rf.rw) {
		return &RegAccessError{Offset: uint32(offset), Width: width, Reason: "out of range"}
	}
	old := leRead(rf.rw[offset:offset+width], width)
	ro := leRead(rf.ro[offset:offset+width], width)
	wc := leRead(rf.wc[offset:offset+width], width)
	next := ((old & ro) | (data &^ ro)) &^ (data & wc)
	leWrite(rf.rw[offset:offset+width], width, next)
	return nil
}

// or32 atomically ORs bits into a 4-byte register, bypassing the masked
// update rule — used by the dispatcher to latch a BUSY bit before an
// action runs.
func (rf *RegFile) or32(offset int, bits uint32) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	v := binary.LittleEndian.Uint32(rf.rw[offset : offset+4])
	binary.LittleEndian.PutUint32(rf.rw[offset:offset+4], v|bits)
}

// and32 atomically ANDs bits out of a 4-byte register (e.g. clearing BUSY
// when a processor completes).
func (rf *RegFile) and32(offset int, mask uint32) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	v := binary.LittleEndian.Uint32(rf.rw[offset : offset+4])
	binary.LittleEndian.PutUint32(rf.rw[offset:offset+4], v&mask)
}

func (rf *RegFile) get32(offset int) uint32 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return binary.LittleEndian.Uint32(rf.rw[offset : offset+4])
}

func (rf *RegFile) get64(offset int) uint64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return binary.LittleEndian.Uint64(rf.rw[offset : offset+8])
}

func (rf *RegFile) set32(offset int, v uint32) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	binary.LittleEndian.PutUint32(rf.rw[offset:offset+4], v)
}

func (rf *RegFile) set64(offset int, v uint64) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	binary.LittleEndian.PutUint64(rf.rw[offset:offset+8], v)
}

func leRead(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func leWrite(b []byte, width int, v uint64) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
