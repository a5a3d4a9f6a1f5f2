package virtq

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/riscv-sim/virtio-core/internal/simmem"
)

const (
	testDescAddr  = 0x1000
	testAvailAddr = 0x2000
	testUsedAddr  = 0x3000
	testDataAddr  = 0x4000
)

func newTestMem() simmem.Memory {
	return make(simmem.Memory, 0x8000)
}

func putDesc(mem simmem.Memory, idx uint16, addr uint64, length uint32, flags, next uint16) {
	base := testDescAddr + uint64(idx)*16
	mem.PutU64(base, addr)
	mem.PutU32(base+8, length)
	mem.PutU16(base+12, flags)
	mem.PutU16(base+14, next)
}

func putAvail(mem simmem.Memory, idx int, descIdx uint16) {
	mem.PutU16(testAvailAddr+4+uint64(idx)*2, descIdx)
}

func setAvailIdx(mem simmem.Memory, idx uint16) {
	mem.PutU16(testAvailAddr+2, idx)
}

func newTestQueue(mem simmem.Memory, num uint32) *Queue {
	return &Queue{
		State: &QueueState{
			Ready:     true,
			Num:       num,
			DescAddr:  testDescAddr,
			AvailAddr: testAvailAddr,
			UsedAddr:  testUsedAddr,
		},
		Mem: mem,
	}
}

func TestRunNotify(t *testing.T) {
	t.Run("nothing available", func(t *testing.T) {
		mem := newTestMem()
		q := newTestQueue(mem, 4)

		called := false
		q.RunNotify(func(uint16, int, int) int {
			called = true
			return 0
		})

		if called {
			t.Fatal("recv called with nothing available")
		}
	})

	t.Run("one available", func(t *testing.T) {
		mem := newTestMem()
		q := newTestQueue(mem, 4)

		putDesc(mem, 0, testDataAddr, 12, 0, 0)
		putAvail(mem, 0, 0)
		setAvailIdx(mem, 1)

		var gotDesc uint16
		var gotRead, gotWrite int
		n := 0

		q.RunNotify(func(descIdx uint16, readSize, writeSize int) int {
			gotDesc, gotRead, gotWrite = descIdx, readSize, writeSize
			n++
			return 0
		})

		if n != 1 {
			t.Fatalf("recv called %d times, want 1", n)
		}
		if gotDesc != 0 || gotRead != 12 || gotWrite != 0 {
			t.Fatalf("got desc=%d read=%d write=%d, want desc=0 read=12 write=0", gotDesc, gotRead, gotWrite)
		}
		if q.State.LastAvailIdx != 1 {
			t.Fatalf("last_avail_idx = %d, want 1", q.State.LastAvailIdx)
		}
	})

	t.Run("chained read then write", func(t *testing.T) {
		mem := newTestMem()
		q := newTestQueue(mem, 4)

		putDesc(mem, 0, testDataAddr, 8, DescFNext, 1)
		putDesc(mem, 1, testDataAddr+0x100, 16, DescFWrite, 0)
		putAvail(mem, 0, 0)
		setAvailIdx(mem, 1)

		var gotRead, gotWrite int
		q.RunNotify(func(_ uint16, readSize, writeSize int) int {
			gotRead, gotWrite = readSize, writeSize
			return 0
		})

		if gotRead != 8 || gotWrite != 16 {
			t.Fatalf("read=%d write=%d, want read=8 write=16", gotRead, gotWrite)
		}
	})

	t.Run("negative return stops without advancing", func(t *testing.T) {
		mem := newTestMem()
		q := newTestQueue(mem, 4)

		putDesc(mem, 0, testDataAddr, 4, 0, 0)
		putAvail(mem, 0, 0)
		setAvailIdx(mem, 1)

		q.RunNotify(func(uint16, int, int) int { return -1 })

		if q.State.LastAvailIdx != 0 {
			t.Fatalf("last_avail_idx = %d, want 0 (dispatch should not have advanced)", q.State.LastAvailIdx)
		}
	})

	t.Run("manual recv suppresses dispatch", func(t *testing.T) {
		mem := newTestMem()
		q := newTestQueue(mem, 4)
		q.State.ManualRecv = true

		putDesc(mem, 0, testDataAddr, 4, 0, 0)
		putAvail(mem, 0, 0)
		setAvailIdx(mem, 1)

		called := false
		q.RunNotify(func(uint16, int, int) int {
			called = true
			return 0
		})

		if called {
			t.Fatal("recv called despite manual_recv")
		}
	})
}

func TestCopyFromCopyToRoundTrip(t *testing.T) {
	mem := newTestMem()
	q := newTestQueue(mem, 4)

	// one read-only descriptor followed by one writable descriptor
	putDesc(mem, 0, testDataAddr, 8, DescFNext, 1)
	putDesc(mem, 1, testDataAddr+0x100, 8, DescFWrite, 0)

	want := []byte("greeting")
	mem.PutU64(testDataAddr, 0) // clear
	copy(mem[testDataAddr:testDataAddr+8], want)

	got := make([]byte, 8)
	if err := q.CopyFrom(0, 0, 8, got); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("CopyFrom mismatch (-want +got):\n%s", diff)
	}

	reply := []byte("response")
	if err := q.CopyTo(0, 0, reply); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}

	gotReply := make([]byte, 8)
	copy(gotReply, mem[testDataAddr+0x100:testDataAddr+0x108])
	if diff := cmp.Diff(reply, gotReply); diff != "" {
		t.Fatalf("CopyTo mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyFromShortChain(t *testing.T) {
	mem := newTestMem()
	q := newTestQueue(mem, 4)

	putDesc(mem, 0, testDataAddr, 4, 0, 0)

	buf := make([]byte, 8)
	if err := q.CopyFrom(0, 0, 8, buf); err != ErrShortChain {
		t.Fatalf("err = %v, want ErrShortChain", err)
	}
}

func TestMeasureDirectionMismatch(t *testing.T) {
	mem := newTestMem()
	q := newTestQueue(mem, 4)

	// writable descriptor followed by a read-only one: invalid chain shape
	putDesc(mem, 0, testDataAddr, 4, DescFNext|DescFWrite, 1)
	putDesc(mem, 1, testDataAddr+0x100, 4, 0, 0)

	if _, _, err := q.Measure(0); err != ErrDirection {
		t.Fatalf("err = %v, want ErrDirection", err)
	}
}

func TestConsumeAdvancesUsedRing(t *testing.T) {
	mem := newTestMem()
	q := newTestQueue(mem, 4)

	notified := 0
	q.Notify = func() { notified++ }

	q.Consume(3, 42)

	if got := mem.U16(testUsedAddr + 2); got != 1 {
		t.Fatalf("used.idx = %d, want 1", got)
	}
	if got := mem.U32(testUsedAddr + 4); got != 3 {
		t.Fatalf("used.ring[0].id = %d, want 3", got)
	}
	if got := mem.U32(testUsedAddr + 8); got != 42 {
		t.Fatalf("used.ring[0].len = %d, want 42", got)
	}
	if notified != 1 {
		t.Fatalf("notify called %d times, want 1", notified)
	}
}
