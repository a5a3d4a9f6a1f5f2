package virtq

import "errors"

// QueueState is the per-queue configuration the MMIO register file owns
// (§3). Num must always be a power of two; masking with Num-1 is the
// canonical index-wrap, mirroring the ring layouts this engine walks.
type QueueState struct {
	Ready bool

	Num uint32 // power of two, <= virtio.MaxQueueNum

	DescAddr  uint64
	AvailAddr uint64
	UsedAddr  uint64

	LastAvailIdx uint16

	// ManualRecv suppresses automatic RecvRequest dispatch from RunNotify.
	ManualRecv bool
}

// Reset restores the queue to its post-STATUS-reset state (§4.2).
func (qs *QueueState) Reset(maxQueueNum uint32) {
	*qs = QueueState{Num: maxQueueNum}
}

var (
	// ErrShortChain is returned when a descriptor chain ends before the
	// requested offset+n bytes are available.
	ErrShortChain = errors.New("virtq: descriptor chain too short")

	// ErrDirection is returned when a descriptor's WRITE flag disagrees
	// with the direction being walked, or when a chain's writable suffix
	// is followed by a non-writable descriptor.
	ErrDirection = errors.New("virtq: descriptor direction mismatch")

	// ErrQueueNotReady names a queue that hasn't had QUEUE_READY written.
	// No operation in this package returns it; the mmio register file
	// skips dispatch for such queues instead.
	ErrQueueNotReady = errors.New("virtq: queue not ready")
)

// Queue binds a QueueState to the guest-memory accessor and interrupt
// notifier needed to actually walk it. Device logic receives a *Queue (not
// a *QueueState) in RecvRequest so it can perform the four engine
// operations §4.1 names: CopyFrom, CopyTo, Measure, and Consume.
type Queue struct {
	State *QueueState
	Mem   Memory

	// Notify is called by Consume after it posts the used-ring entry. It
	// is the device's hook to raise int_status.bit0 and drive the
	// interrupt line; nil is allowed (e.g. in tests) and is treated as a
	// no-op.
	Notify func()
}

// CopyFrom copies n bytes starting at byte offset off of the read-only
// prefix of the descriptor chain headed by descIdx into buf (§4.1,
// copy_from_queue). Every descriptor touched must have WRITE=0.
func (q *Queue) CopyFrom(descIdx uint16, off, n int, buf []byte) error {
	return q.walk(descIdx, off, buf[:n], false)
}

// CopyTo copies len(buf) bytes into the writable suffix of the descriptor
// chain headed by descIdx, starting at byte offset off within that suffix
// (§4.1, copy_to_queue). Read-only descriptors are skipped first; every
// descriptor touched afterward must have WRITE=1.
func (q *Queue) CopyTo(descIdx uint16, off int, buf []byte) error {
	return q.walk(descIdx, off, buf, true)
}

// walk implements memcpy_to_from_queue: for toQueue, it first skips
// descriptors until it finds one with WRITE=1, then requires WRITE=1 for
// the rest of the walk; for !toQueue it requires WRITE=0 throughout.
func (q *Queue) walk(descIdx uint16, off int, buf []byte, toQueue bool) error {
	if len(buf) == 0 {
		return nil
	}

	qs := q.State
	wantWrite := uint16(0)
	if toQueue {
		wantWrite = DescFWrite
	}

	desc, err := getDesc(q.Mem, qs.DescAddr, descIdx)
	if err != nil {
		return err
	}

	if toQueue {
		for desc.Flags&DescFWrite != wantWrite {
			if desc.Flags&DescFNext == 0 {
				return ErrDirection
			}

			descIdx = desc.Next
			if desc, err = getDesc(q.Mem, qs.DescAddr, descIdx); err != nil {
				return err
			}
		}
	}

	// advance to the descriptor containing byte offset off
	for {
		if desc.Flags&DescFWrite != wantWrite {
			return ErrDirection
		}

		if uint32(off) < desc.Len {
			break
		}

		if desc.Flags&DescFNext == 0 {
			return ErrShortChain
		}

		descIdx = desc.Next
		off -= int(desc.Len)
		if desc, err = getDesc(q.Mem, qs.DescAddr, descIdx); err != nil {
			return err
		}
	}

	for {
		l := len(buf)
		if avail := int(desc.Len) - off; avail < l {
			l = avail
		}

		if toQueue {
			if err := copyToMem(q.Mem, desc.Addr+uint64(off), buf[:l]); err != nil {
				return err
			}
		} else {
			if err := copyFromMem(q.Mem, buf[:l], desc.Addr+uint64(off), l); err != nil {
				return err
			}
		}

		buf = buf[l:]
		if len(buf) == 0 {
			return nil
		}

		off += l
		if off != int(desc.Len) {
			// l < avail only happens when buf ran out, which we already returned on
			return ErrShortChain
		}

		if desc.Flags&DescFNext == 0 {
			return ErrShortChain
		}

		descIdx = desc.Next
		off = 0
		if desc, err = getDesc(q.Mem, qs.DescAddr, descIdx); err != nil {
			return err
		}

		if desc.Flags&DescFWrite != wantWrite {
			return ErrDirection
		}
	}
}

// Measure sums the lengths of the descriptor chain headed by descIdx,
// split into its read-only prefix and writable suffix (§4.1,
// measure_chain). It fails if a writable descriptor is followed by a
// non-writable one within the same chain.
func (q *Queue) Measure(descIdx uint16) (readSize, writeSize int, err error) {
	qs := q.State

	desc, err := getDesc(q.Mem, qs.DescAddr, descIdx)
	if err != nil {
		return 0, 0, err
	}

	for desc.Flags&DescFWrite == 0 {
		readSize += int(desc.Len)

		if desc.Flags&DescFNext == 0 {
			return readSize, 0, nil
		}

		descIdx = desc.Next
		if desc, err = getDesc(q.Mem, qs.DescAddr, descIdx); err != nil {
			return 0, 0, err
		}
	}

	for {
		if desc.Flags&DescFWrite == 0 {
			return 0, 0, ErrDirection
		}

		writeSize += int(desc.Len)

		if desc.Flags&DescFNext == 0 {
			return readSize, writeSize, nil
		}

		descIdx = desc.Next
		if desc, err = getDesc(q.Mem, qs.DescAddr, descIdx); err != nil {
			return 0, 0, err
		}
	}
}

// Consume posts a used-ring entry for descIdx with the given consumed
// byte count, advances the used-ring index, and calls Notify, through
// which the owning device raises int_status.bit0 (§4.1, consume). Exactly
// one used-ring entry is produced per call.
func (q *Queue) Consume(descIdx uint16, descLen int) {
	qs := q.State

	idxAddr := qs.UsedAddr + 2
	idx := load16(q.Mem, idxAddr)
	store16(q.Mem, idxAddr, idx+1)

	entryAddr := qs.UsedAddr + 4 + uint64(idx&uint16(qs.Num-1))*8
	store32(q.Mem, entryAddr, uint32(descIdx))
	store32(q.Mem, entryAddr+4, uint32(descLen))

	if q.Notify != nil {
		q.Notify()
	}
}

// Recv is called by RunNotify for every available descriptor chain. It
// returns <0 to stop dispatch without advancing last_avail_idx, or >=0 to
// advance and continue (§4.1).
type Recv func(descIdx uint16, readSize, writeSize int) int

// RunNotify implements queue_notify: for every avail-ring index strictly
// between State.LastAvailIdx and the avail ring's current idx, it measures
// the chain and invokes recv. A negative return aborts the loop without
// advancing LastAvailIdx. ManualRecv skips dispatch entirely.
func (q *Queue) RunNotify(recv Recv) {
	qs := q.State
	if qs.ManualRecv || qs.Num == 0 {
		return
	}

	availIdx := load16(q.Mem, qs.AvailAddr+2)

	for qs.LastAvailIdx != availIdx {
		slot := qs.LastAvailIdx & uint16(qs.Num-1)
		descIdx := load16(q.Mem, qs.AvailAddr+4+uint64(slot)*2)

		readSize, writeSize, err := q.Measure(descIdx)
		if err == nil {
			if recv(descIdx, readSize, writeSize) < 0 {
				break
			}
		}

		qs.LastAvailIdx++
	}
}
