package block

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"github.com/riscv-sim/virtio-core/virtio"
	"github.com/riscv-sim/virtio-core/virtio/virtq"
)

// Request types (§4.3).
const (
	blkTIn    = 0
	blkTOut   = 1
	blkTFlush = 4
)

// Status byte values written to the last byte of the writable region.
const (
	blkSOK     = 0
	blkSIOErr  = 1
	blkSUnsupp = 2
)

const reqHeaderSize = 16

// Device is a virtio block device bound to an Image (§4.3).
type Device struct {
	Image    Image
	ReadOnly bool

	// reqInProgress mirrors the source's req_in_progress guard. Every
	// Image in this package completes synchronously, so it is never
	// actually left set across a RecvRequest call; it exists so a future
	// asynchronous Image can reuse RecvRequest unchanged (§5).
	reqInProgress bool
}

// NewFromArgs builds a Device from CLI-style key=value arguments: img=<path>
// (required) and mode=ro|snapshot|rw (default rw) (§6, "CLI surface").
func NewFromArgs(args []string) (*Device, error) {
	var imgPath string
	mode := ModeRW

	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}

		switch key {
		case "img":
			imgPath = val
		case "mode":
			m, err := ParseMode(val)
			if err != nil {
				return nil, err
			}
			mode = m
		}
	}

	if imgPath == "" {
		return nil, fmt.Errorf("block: missing required img= argument")
	}

	img, err := OpenFileImage(imgPath, mode)
	if err != nil {
		return nil, err
	}

	return &Device{Image: img, ReadOnly: mode == ModeRO}, nil
}

func (d *Device) DeviceID() virtio.DeviceID { return virtio.BlockDeviceID }

func (d *Device) Features() uint64 {
	if d.ReadOnly {
		return virtio.BlkFRO
	}
	return 0
}

func (d *Device) Ready(negotiatedFeatures uint64) error { return nil }

// ReadConfig reports the 8-byte little-endian sector count (§4.3).
func (d *Device) ReadConfig(p []byte, off int) {
	var cfg [8]byte
	binary.LittleEndian.PutUint64(cfg[:], uint64(d.Image.SectorCount()))

	for i := range p {
		if off+i < len(cfg) {
			p[i] = cfg[off+i]
		}
	}
}

func (d *Device) WriteConfig(p []byte, off int) {}

// RecvRequest implements virtio_block_recv_request (§4.3).
func (d *Device) RecvRequest(q *virtq.Queue, queueIdx int, descIdx uint16, readSize, writeSize int) int {
	if d.reqInProgress {
		return -1
	}

	var hdr [reqHeaderSize]byte
	if err := q.CopyFrom(descIdx, 0, reqHeaderSize, hdr[:]); err != nil {
		// malformed chain: the source does not consume it either (§7, §9)
		return 0
	}

	reqType := binary.LittleEndian.Uint32(hdr[0:4])
	sectorNum := int64(binary.LittleEndian.Uint64(hdr[8:16]))

	switch reqType {
	case blkTIn:
		d.recvIn(q, descIdx, sectorNum, writeSize)
	case blkTOut:
		d.recvOut(q, descIdx, sectorNum, readSize)
	default:
		// FLUSH and unknown types: respond UNSUPP rather than leaving the
		// chain stuck on the ring (§9, preferred fix for the open question).
		d.complete(q, descIdx, []byte{blkSUnsupp})
	}

	return 0
}

func (d *Device) recvIn(q *virtq.Queue, descIdx uint16, sectorNum int64, writeSize int) {
	if writeSize < 1 {
		d.complete(q, descIdx, []byte{blkSUnsupp})
		return
	}

	buf := make([]byte, writeSize)
	n := (writeSize - 1) / SectorSize

	ret := d.Image.ReadAsync(sectorNum, buf[:writeSize-1], n, nil)

	status := byte(blkSOK)
	if ret < 0 {
		status = blkSIOErr
	}
	buf[writeSize-1] = status

	d.complete(q, descIdx, buf)
}

func (d *Device) recvOut(q *virtq.Queue, descIdx uint16, sectorNum int64, readSize int) {
	dataLen := readSize - reqHeaderSize
	if dataLen < 0 || dataLen%SectorSize != 0 {
		d.complete(q, descIdx, []byte{blkSUnsupp})
		return
	}

	buf := make([]byte, dataLen)
	if err := q.CopyFrom(descIdx, reqHeaderSize, dataLen, buf); err != nil {
		return
	}

	ret := d.Image.WriteAsync(sectorNum, buf, dataLen/SectorSize, nil)

	status := byte(blkSOK)
	if ret < 0 {
		status = blkSIOErr
	}

	d.complete(q, descIdx, []byte{status})
}

func (d *Device) complete(q *virtq.Queue, descIdx uint16, buf []byte) {
	if err := q.CopyTo(descIdx, 0, buf); err != nil {
		slog.Error("block io error", "err", err)
		return
	}

	q.Consume(descIdx, len(buf))
}
