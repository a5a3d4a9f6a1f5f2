package mmio

import (
	"fmt"

	"github.com/riscv-sim/virtio-core/virtio"
	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// Bus owns every virtio-mmio device attached to the simulated platform and
// routes addresses into the one whose window contains them (§4.5, §6
// "Bus interface"). It is consumed directly by the CPU simulator's store
// path; HandleMMIO is the single entry point that path calls.
type Bus struct {
	devices []*Device
}

// NewBus creates an empty bus. Devices are attached with Attach.
func NewBus() *Bus {
	return &Bus{}
}

// Attach wires handler onto the bus at addr, with the given IRQ line,
// backed by mem and driving sink for interrupts. It returns the *Device so
// callers can generate its device-tree node.
func (b *Bus) Attach(handler virtio.DeviceHandler, mem virtq.Memory, addr uint64, irq int, sink InterruptSink) *Device {
	d := NewDevice(handler, mem, addr, irq, sink)
	b.devices = append(b.devices, d)
	return d
}

// deviceAt returns the device whose window contains addr, or nil.
func (b *Bus) deviceAt(addr uint64) *Device {
	for _, d := range b.devices {
		if addr >= d.Addr && addr < d.Addr+d.Size {
			return d
		}
	}
	return nil
}

// HandleMMIO implements the bus interface's load/store (§6): isWrite
// selects a store of data into addr, or a load of len(data) bytes from
// addr written back into data. It returns false if no device claims addr
// or the access length is unsupported, matching the "bad access is
// silently ignored" rule of §7.
func (b *Bus) HandleMMIO(addr uint64, data []byte, isWrite bool) bool {
	d := b.deviceAt(addr)
	if d == nil {
		return false
	}

	off := addr - d.Addr

	if isWrite {
		return d.Store(off, data) == nil
	}

	buf, err := d.Load(off, len(data))
	if err != nil {
		return false
	}

	copy(data, buf)
	return true
}

// DeviceTreeNode renders the device-tree fragment (§6) describing d,
// assuming a PLIC interrupt controller labelled "PLIC".
func DeviceTreeNode(d *Device) string {
	regHi := uint32(d.Addr >> 32)
	regLo := uint32(d.Addr)
	sizeHi := uint32(d.Size >> 32)
	sizeLo := uint32(d.Size)

	return fmt.Sprintf(
		"virtio@%x { compatible = \"virtio,mmio\"; interrupt-parent = <&PLIC>; "+
			"interrupts = <%d>; reg = <%#x %#x %#x %#x>; };",
		d.Addr, d.IRQ, regHi, regLo, sizeHi, sizeLo,
	)
}
