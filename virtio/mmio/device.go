package mmio

import (
	"github.com/riscv-sim/virtio-core/virtio"
	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// InterruptSink is the interrupt line a device drives (§6, "Interrupt
// sink"). SetLevel is called with 1 whenever int_status transitions from
// zero to non-zero, and with 0 when an INTERRUPT_ACK write clears it back
// to zero.
type InterruptSink interface {
	SetLevel(irq int, level int)
}

// Device is one virtio-mmio device: the register file described by §4.2,
// plus the MaxQueue virtqueues it owns. It is driven synchronously from
// the CPU simulator's store path (§5) — there is no internal goroutine and
// no lock, since the simulator guarantees only one access is in flight at
// a time.
type Device struct {
	Handler virtio.DeviceHandler
	Mem     virtq.Memory
	IRQ     int
	Addr    uint64
	Size    uint64
	Sink    InterruptSink

	status            uint32
	intStatus         uint32
	deviceFeaturesSel uint32
	driverFeaturesSel uint32
	driverFeatures    uint64
	queueSel          uint32

	queues [virtio.MaxQueue]virtq.QueueState
}

// NewDevice constructs a device bound to handler, at the given MMIO base
// address and IRQ line, backed by mem and driving sink.
func NewDevice(handler virtio.DeviceHandler, mem virtq.Memory, addr uint64, irq int, sink InterruptSink) *Device {
	d := &Device{
		Handler: handler,
		Mem:     mem,
		IRQ:     irq,
		Addr:    addr,
		Size:    0x1000,
		Sink:    sink,
	}
	d.resetQueues()
	return d
}

func (d *Device) resetQueues() {
	for i := range d.queues {
		d.queues[i].Reset(virtio.MaxQueueNum)
	}
}

// queue returns a *virtq.Queue bound to this device's queueIdx-th
// QueueState, wired so Consume raises this device's interrupt line.
func (d *Device) queue(queueIdx int) *virtq.Queue {
	qs := &d.queues[queueIdx]
	return &virtq.Queue{
		State: qs,
		Mem:   d.Mem,
		Notify: func() {
			d.raiseInterrupt(intStatusUsedBuffer)
		},
	}
}

func (d *Device) raiseInterrupt(bits uint32) {
	was := d.intStatus
	d.intStatus |= bits
	if was == 0 && d.intStatus != 0 && d.Sink != nil {
		d.Sink.SetLevel(d.IRQ, 1)
	}
}

// reset implements virtio_reset: restores every queue, clears status,
// int_status, queue_sel, and device_features_sel, and drops the interrupt
// line (§4.2, §8 "After STATUS <- 0").
func (d *Device) reset() {
	d.status = 0
	d.intStatus = 0
	d.deviceFeaturesSel = 0
	d.driverFeaturesSel = 0
	d.driverFeatures = 0
	d.queueSel = 0
	d.resetQueues()

	if d.Sink != nil {
		d.Sink.SetLevel(d.IRQ, 0)
	}
}

// ReadReg implements the control-register read switch (§4.2) for 4-byte
// reads. Narrower control-register reads never reach it: the façade's
// loadSized returns 0 for them, per §4.5's "treat as value 0 / no-op"
// rule. Config space (offset >= 0x100) is handled separately.
func (d *Device) ReadReg(off int) uint32 {
	switch off {
	case regMagicValue:
		return virtio.MagicValue
	case regVersion:
		return virtio.Version
	case regDeviceID:
		return uint32(d.Handler.DeviceID())
	case regVendorID:
		return virtio.VendorID
	case regDeviceFeatures:
		switch d.deviceFeaturesSel {
		case 0:
			return uint32(d.Handler.Features())
		case 1:
			return 1 // constant 1: VirtIO version 1 (§3, §4.2)
		default:
			return 0
		}
	case regDeviceFeaturesSel:
		return d.deviceFeaturesSel
	case regQueueSel:
		return d.queueSel
	case regQueueNumMax:
		return virtio.MaxQueueNum
	case regQueueNum:
		return d.curQueue().Num
	case regQueueReady:
		if d.queueSel < virtio.MaxQueue && d.queues[d.queueSel].Ready {
			return 1
		}
		return 0
	case regInterruptStatus:
		return d.intStatus
	case regStatus:
		return d.status
	case regQueueDescLow:
		return uint32(d.curQueue().DescAddr)
	case regQueueDescHigh:
		return uint32(d.curQueue().DescAddr >> 32)
	case regQueueAvailLow:
		return uint32(d.curQueue().AvailAddr)
	case regQueueAvailHigh:
		return uint32(d.curQueue().AvailAddr >> 32)
	case regQueueUsedLow:
		return uint32(d.curQueue().UsedAddr)
	case regQueueUsedHigh:
		return uint32(d.curQueue().UsedAddr >> 32)
	case regConfigGeneration:
		return 0
	default:
		return 0
	}
}

// curQueue returns the QueueState selected by QUEUE_SEL, or a throwaway
// zero state if the selector is out of range (register writes targeting
// an invalid selector are silently ignored per §7).
func (d *Device) curQueue() *virtq.QueueState {
	if d.queueSel >= virtio.MaxQueue {
		return &virtq.QueueState{}
	}
	return &d.queues[d.queueSel]
}

// WriteReg implements the control-register write switch (§4.2).
func (d *Device) WriteReg(off int, val uint32) {
	switch off {
	case regDeviceFeaturesSel:
		d.deviceFeaturesSel = val
	case regDriverFeatures:
		d.setDriverFeatures(d.driverFeaturesSel, val)
	case regDriverFeaturesSel:
		d.driverFeaturesSel = val
	case regQueueSel:
		if val < virtio.MaxQueue {
			d.queueSel = val
		}
	case regQueueNum:
		if val != 0 && val&(val-1) == 0 {
			d.curQueue().Num = val
		}
	case regQueueReady:
		d.curQueue().Ready = val&1 != 0
	case regQueueNotify:
		if val < virtio.MaxQueue {
			d.notify(int(val))
		}
	case regInterruptACK:
		d.intStatus &^= val
		if d.intStatus == 0 && d.Sink != nil {
			d.Sink.SetLevel(d.IRQ, 0)
		}
	case regStatus:
		d.writeStatus(val)
	case regQueueDescLow:
		d.curQueue().DescAddr = setLow32(d.curQueue().DescAddr, val)
	case regQueueDescHigh:
		d.curQueue().DescAddr = setHigh32(d.curQueue().DescAddr, val)
	case regQueueAvailLow:
		d.curQueue().AvailAddr = setLow32(d.curQueue().AvailAddr, val)
	case regQueueAvailHigh:
		d.curQueue().AvailAddr = setHigh32(d.curQueue().AvailAddr, val)
	case regQueueUsedLow:
		d.curQueue().UsedAddr = setLow32(d.curQueue().UsedAddr, val)
	case regQueueUsedHigh:
		d.curQueue().UsedAddr = setHigh32(d.curQueue().UsedAddr, val)
	}
}

func (d *Device) setDriverFeatures(sel, val uint32) {
	switch sel {
	case 0:
		d.driverFeatures = d.driverFeatures&0xffffffff00000000 | uint64(val)
	case 1:
		d.driverFeatures = d.driverFeatures&0x00000000ffffffff | uint64(val)<<32
	}
}

func (d *Device) writeStatus(val uint32) {
	if val == 0 {
		d.reset()
		return
	}

	wasDriverOK := d.status&statusDriverOK != 0
	d.status = val

	if !wasDriverOK && val&statusDriverOK != 0 {
		// best-effort: a handler that rejects the negotiated feature set
		// has no guest-visible error channel to report through (§7).
		_ = d.Handler.Ready(d.driverFeatures)
	}
}

// notify implements queue_notify (§4.1): it runs the virtqueue's dispatch
// loop inline, handing each available chain to the device handler.
func (d *Device) notify(queueIdx int) {
	if queueIdx >= virtio.MaxQueue || !d.queues[queueIdx].Ready {
		return
	}

	q := d.queue(queueIdx)
	q.RunNotify(func(descIdx uint16, readSize, writeSize int) int {
		return d.Handler.RecvRequest(q, queueIdx, descIdx, readSize, writeSize)
	})
}

func setLow32(cur uint64, val uint32) uint64 {
	return cur&0xffffffff00000000 | uint64(val)
}

func setHigh32(cur uint64, val uint32) uint64 {
	return cur&0x00000000ffffffff | uint64(val)<<32
}
