// deviceas.go - per-device address-space facade.
//
// One DeviceAS exists per requester ID that has ever been looked up
// through this core; it is the object an endpoint's DMA model actually
// calls, keeping the bus+devid+process-ID plumbing out of client code.
package iommu

import (
	"context"
	"sync"
)

// requesterID packs a PCI-style bus number and device/function into
// the 16-bit identifier used as the DeviceAS registry key.
func requesterID(bus uint8, devfn uint8) uint16 {
	return uint16(bus)<<8 | uint16(devfn)
}

// DeviceAS is the translation endpoint exposed to whatever models a
// single DMA-capable device.
type DeviceAS struct {
	io              *IOMMU
	requesterID     uint16
	mu              sync.Mutex
	notifierEnabled bool
}

// deviceFor returns the DeviceAS for requesterID, creating it lazily on
// first use rather than requiring pre-registration.
func (io *IOMMU) deviceFor(rid uint16) *DeviceAS {
	io.devicesMu.Lock()
	defer io.devicesMu.Unlock()

	if d, ok := io.devices[rid]; ok {
		return d
	}
	d := &DeviceAS{io: io, requesterID: rid}
	io.devices[rid] = d
	return d
}

// DeviceAS returns the facade for the device at (bus, devfn).
func (io *IOMMU) DeviceAS(bus, devfn uint8) *DeviceAS {
	return io.deviceFor(requesterID(bus, devfn))
}

// Translate resolves iova on behalf of this device, using requesterID
// as the devid presented to the directory walk.
func (d *DeviceAS) Translate(ctx context.Context, processID uint32, iova uint64, perm Perm) (TranslateResult, error) {
	return d.io.Translate(ctx, uint32(d.requesterID), processID, iova, perm)
}

// WriteTrapAS performs this device's deferred write into the trap
// address space after a prior Translate redirected it there.
func (d *DeviceAS) WriteTrapAS(ctx context.Context, processID uint32, gpa uint64, data uint32) error {
	return d.io.WriteTrapAS(ctx, uint32(d.requesterID), processID, gpa, data)
}

// SetNotifierEnabled toggles whether page-request completion
// notifications are delivered for this device, invoking
// notifierFlagChanged on a real transition.
func (d *DeviceAS) SetNotifierEnabled(enabled bool) {
	d.mu.Lock()
	old := d.notifierEnabled
	d.notifierEnabled = enabled
	d.mu.Unlock()

	if old != enabled {
		d.notifierFlagChanged(old, enabled)
	}
}

func (d *DeviceAS) NotifierEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifierEnabled
}

// notifierFlagChanged is a seam for hooking device-level page-request
// delivery on or off; this core has no further side effect today.
func (d *DeviceAS) notifierFlagChanged(old, new bool) {}
