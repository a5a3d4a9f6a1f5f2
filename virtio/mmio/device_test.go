package mmio

import (
	"testing"

	"github.com/riscv-sim/virtio-core/internal/simmem"
	"github.com/riscv-sim/virtio-core/virtio"
	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// fakeHandler is a minimal virtio.DeviceHandler used to exercise the
// register file without pulling in a real device package.
type fakeHandler struct {
	id       virtio.DeviceID
	features uint64
	recv     func(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int
	readyErr error
	config   []byte
}

func (h *fakeHandler) DeviceID() virtio.DeviceID { return h.id }
func (h *fakeHandler) Features() uint64          { return h.features }
func (h *fakeHandler) Ready(uint64) error         { return h.readyErr }

func (h *fakeHandler) RecvRequest(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int {
	if h.recv != nil {
		return h.recv(q, queueIdx, descIdx, readSize, writeSize)
	}
	return 0
}

func (h *fakeHandler) ReadConfig(p []byte, off int) {
	for i := range p {
		if off+i < len(h.config) {
			p[i] = h.config[off+i]
		}
	}
}

func (h *fakeHandler) WriteConfig(p []byte, off int) {}

type fakeSink struct {
	levels map[int]int
}

func (s *fakeSink) SetLevel(irq, level int) {
	if s.levels == nil {
		s.levels = map[int]int{}
	}
	s.levels[irq] = level
}

func newTestBus(h virtio.DeviceHandler) (*Bus, *Device, *fakeSink, simmem.Memory) {
	mem := make(simmem.Memory, 0x10000)
	sink := &fakeSink{}
	b := NewBus()
	d := b.Attach(h, mem, 0x40011000, 2, sink)
	return b, d, sink, mem
}

func load4(b *Bus, addr uint64) uint32 {
	var buf [4]byte
	b.HandleMMIO(addr, buf[:], false)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func store4(b *Bus, addr uint64, v uint32) {
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	b.HandleMMIO(addr, buf, true)
}

func TestMagicVersionProbe(t *testing.T) {
	h := &fakeHandler{id: virtio.P9DeviceID}
	b, _, _, _ := newTestBus(h)

	if got := load4(b, 0x40011000); got != virtio.MagicValue {
		t.Fatalf("MAGIC = %#x, want %#x", got, virtio.MagicValue)
	}
	if got := load4(b, 0x40011004); got != virtio.Version {
		t.Fatalf("VERSION = %d, want %d", got, virtio.Version)
	}
	if got := load4(b, 0x40011008); got != uint32(virtio.P9DeviceID) {
		t.Fatalf("DEVICE_ID = %d, want %d", got, virtio.P9DeviceID)
	}
}

func TestFeatureNegotiation(t *testing.T) {
	h := &fakeHandler{id: virtio.P9DeviceID, features: virtio.P9FMountTag}
	b, _, _, _ := newTestBus(h)

	store4(b, 0x40011014, 1) // DEV_FEATURES_SEL = 1
	if got := load4(b, 0x40011010); got != 1 {
		t.Fatalf("DEV_FEATURES (sel=1) = %d, want 1", got)
	}

	store4(b, 0x40011014, 0)
	if got := load4(b, 0x40011010); got != uint32(virtio.P9FMountTag) {
		t.Fatalf("DEV_FEATURES (sel=0) = %d, want %d", got, virtio.P9FMountTag)
	}
}

func TestQueueNumMustBePowerOfTwo(t *testing.T) {
	h := &fakeHandler{id: virtio.BlockDeviceID}
	b, d, _, _ := newTestBus(h)

	store4(b, 0x40011030, 0) // QUEUE_SEL = 0
	store4(b, 0x40011038, 3) // rejected: not a power of two

	if d.queues[0].Num != virtio.MaxQueueNum {
		t.Fatalf("queue_num = %d, want unchanged default %d", d.queues[0].Num, virtio.MaxQueueNum)
	}

	store4(b, 0x40011038, 8)
	if d.queues[0].Num != 8 {
		t.Fatalf("queue_num = %d, want 8", d.queues[0].Num)
	}
}

func TestStatusResetRestoresInitialState(t *testing.T) {
	h := &fakeHandler{id: virtio.BlockDeviceID}
	b, d, sink, _ := newTestBus(h)

	store4(b, 0x40011030, 0)
	store4(b, 0x40011038, 4)
	store4(b, 0x40011044, 1) // QUEUE_READY = 1
	store4(b, 0x40011070, statusAcknowledge|statusDriver)
	d.intStatus = intStatusUsedBuffer
	sink.SetLevel(2, 1)

	store4(b, 0x40011070, 0) // STATUS = 0: full reset

	if d.status != 0 {
		t.Fatalf("status = %d, want 0", d.status)
	}
	if d.intStatus != 0 {
		t.Fatalf("int_status = %d, want 0", d.intStatus)
	}
	if d.queues[0].Ready {
		t.Fatal("queue 0 still ready after reset")
	}
	if d.queues[0].Num != virtio.MaxQueueNum {
		t.Fatalf("queue_num = %d, want %d", d.queues[0].Num, virtio.MaxQueueNum)
	}
	if sink.levels[2] != 0 {
		t.Fatalf("irq level = %d, want 0 after reset", sink.levels[2])
	}
}

func TestQueueNotifyDispatchesToHandler(t *testing.T) {
	var gotQueueIdx int
	var gotDescIdx uint16

	h := &fakeHandler{
		id: virtio.BlockDeviceID,
		recv: func(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int {
			gotQueueIdx, gotDescIdx = queueIdx, descIdx
			q.Consume(descIdx, readSize+writeSize)
			return 0
		},
	}

	b, _, sink, mem := newTestBus(h)

	store4(b, 0x40011030, 0)
	store4(b, 0x40011038, 4)
	store4(b, 0x40011044, 1)

	const descAddr, availAddr, usedAddr = 0x1000, 0x2000, 0x3000
	store4(b, 0x40011080, descAddr)
	store4(b, 0x40011090, availAddr)
	store4(b, 0x400110a0, usedAddr)

	mem.PutU64(descAddr, 0x5000)
	mem.PutU32(descAddr+8, 16)
	mem.PutU16(descAddr+12, 0)
	mem.PutU16(descAddr+14, 0)
	mem.PutU16(availAddr+4, 0)
	mem.PutU16(availAddr+2, 1)

	store4(b, 0x40011050, 0) // QUEUE_NOTIFY = 0

	if gotQueueIdx != 0 || gotDescIdx != 0 {
		t.Fatalf("recv called with queueIdx=%d descIdx=%d, want 0,0", gotQueueIdx, gotDescIdx)
	}
	if got := mem.U16(usedAddr + 2); got != 1 {
		t.Fatalf("used.idx = %d, want 1", got)
	}
	if sink.levels[2] != 1 {
		t.Fatalf("irq level = %d, want 1 (interrupt raised)", sink.levels[2])
	}
	if got := load4(b, 0x40011060); got != intStatusUsedBuffer {
		t.Fatalf("INTERRUPT_STATUS = %d, want %d", got, intStatusUsedBuffer)
	}

	store4(b, 0x40011064, intStatusUsedBuffer) // INTERRUPT_ACK
	if sink.levels[2] != 0 {
		t.Fatalf("irq level = %d, want 0 after ack", sink.levels[2])
	}
}

func TestDeviceTreeNode(t *testing.T) {
	h := &fakeHandler{id: virtio.P9DeviceID}
	_, d, _, _ := newTestBus(h)

	got := DeviceTreeNode(d)
	want := `virtio@40011000 { compatible = "virtio,mmio"; interrupt-parent = <&PLIC>; interrupts = <2>; reg = <0x0 0x40011000 0x0 0x1000>; };`
	if got != want {
		t.Fatalf("DeviceTreeNode =\n%s\nwant\n%s", got, want)
	}
}

func TestUnmappedAddressRejected(t *testing.T) {
	h := &fakeHandler{id: virtio.BlockDeviceID}
	b, _, _, _ := newTestBus(h)

	var buf [4]byte
	if b.HandleMMIO(0xdeadbeef, buf[:], false) {
		t.Fatal("HandleMMIO succeeded for an address no device claims")
	}
}
