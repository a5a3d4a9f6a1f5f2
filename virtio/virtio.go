// Package virtio defines the device-facing contract shared by the
// virtio-mmio devices in this module: the block device (virtio/block) and
// the 9P filesystem device (virtio/p9). The mmio package drives devices
// through this interface; it knows nothing about block or 9P specifically.
package virtio

import (
	"fmt"

	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// DeviceHandler is implemented by a concrete virtio device (block, 9P, ...).
// The mmio register file calls these methods in response to guest MMIO
// accesses; RecvRequest is called by the virtqueue engine's RunNotify loop
// when the guest has made new descriptor chains available.
type DeviceHandler interface {

	// DeviceID identifies the device type reported at the DEVICE_ID register.
	DeviceID() DeviceID

	// Features returns the device-specific feature bits advertised at
	// DEV_FEATURES when device_features_sel selects the low word.
	Features() uint64

	// Ready is called with the driver-selected feature bits when the driver
	// sets DRIVER_OK in STATUS (on the transition from clear to set). The
	// returned error is discarded: the register file has no guest-visible
	// channel to report it through.
	Ready(negotiatedFeatures uint64) error

	// RecvRequest handles one descriptor chain made available on queueIdx.
	// It returns <0 to stop the RunNotify dispatch loop without advancing
	// last_avail_idx (back-pressure), or >=0 to advance and continue.
	RecvRequest(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int

	// ReadConfig reads len(p) bytes of device-specific config space at
	// byte offset off.
	ReadConfig(p []byte, off int)

	// WriteConfig writes len(p) bytes of device-specific config space at
	// byte offset off. Both devices in this module have read-only config
	// spaces, so their implementations are no-ops.
	WriteConfig(p []byte, off int)
}

// DeviceID identifies the type of a virtio device, as reported at the
// DEVICE_ID MMIO register.
type DeviceID uint32

const (
	InvalidDeviceID = DeviceID(0)
	BlockDeviceID   = DeviceID(2)
	P9DeviceID      = DeviceID(9)
)

func (id DeviceID) String() string {
	switch id {
	case InvalidDeviceID:
		return "invalid"
	case BlockDeviceID:
		return "block"
	case P9DeviceID:
		return "9p"
	default:
		return fmt.Sprintf("DeviceID(%d)", uint32(id))
	}
}

// MMIO-visible constants (§4.2).
const (
	MagicValue = 0x74726976 // "virt"
	Version    = 0x2
	VendorID   = 0xffff
)

// MaxQueue is the number of queues a device may have (§3); MaxQueueNum is
// the largest per-queue descriptor ring size (QUEUE_NUM_MAX).
const (
	MaxQueue    = 8
	MaxQueueNum = 16
)

// Device-specific feature bits. The 9P device always advertises
// 9P_MOUNT_TAG (§4.4). The block device advertises VIRTIO_BLK_F_RO when its
// ReadOnly field is set (NewFromArgs sets it for mode=ro) and no feature
// bits otherwise.
const (
	P9FMountTag = 1 << 0
	BlkFRO      = 1 << 5
)
