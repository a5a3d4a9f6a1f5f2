// Package mmio implements the virtio-mmio register file (§4.2): the
// control-register switch, feature/queue negotiation, status-driven reset,
// and the bus-level load/store façade (§4.5) that drives it from a CPU
// simulator's MMIO store path. It knows the wire format of the registers
// but nothing about block or 9P specifically — those live behind
// virtio.DeviceHandler.
package mmio

// Register offsets within a device's MMIO window (§4.2).
const (
	regMagicValue        = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regInterruptStatus   = 0x060
	regInterruptACK      = 0x064
	regStatus            = 0x070
	regQueueDescLow      = 0x080
	regQueueDescHigh     = 0x084
	regQueueAvailLow     = 0x090
	regQueueAvailHigh    = 0x094
	regQueueUsedLow      = 0x0a0
	regQueueUsedHigh     = 0x0a4
	regConfigGeneration  = 0x0fc
	regConfigStart       = 0x100
)

// Interrupt status bits reported at INTERRUPT_STATUS / cleared via
// INTERRUPT_ACK (§4.2). Only bit0 (used buffer notification) is produced
// by this module; bit1 (config change) is never raised since neither
// device's config space changes after startup.
const (
	intStatusUsedBuffer = 1 << 0
)

// Status register bits (§4.2). Written by the driver to walk the device
// through init; a write of 0 triggers a full reset.
const (
	statusAcknowledge = 1 << 0
	statusDriver      = 1 << 1
	statusDriverOK    = 1 << 2
	statusFeaturesOK  = 1 << 3
	statusNeedsReset  = 1 << 6
	statusFailed      = 1 << 7
)
