package mmio

import "fmt"

// Load implements the bus-level façade (§4.5): a read of off within this
// device's window, of the given byte length. Lengths outside {1,2,4,8}
// fail; 8 is decomposed into two 4-byte register reads, low word first,
// packed little-endian.
func (d *Device) Load(off uint64, length int) ([]byte, error) {
	switch length {
	case 1, 2, 4:
		return d.loadSized(off, length), nil
	case 8:
		lo := d.loadSized(off, 4)
		hi := d.loadSized(off+4, 4)
		return append(lo, hi...), nil
	default:
		return nil, fmt.Errorf("mmio: load of length %d not supported", length)
	}
}

// Store implements the bus-level façade's store half, symmetric with Load.
func (d *Device) Store(off uint64, buf []byte) error {
	switch len(buf) {
	case 1, 2, 4:
		d.storeSized(off, buf)
		return nil
	case 8:
		d.storeSized(off, buf[0:4])
		d.storeSized(off+4, buf[4:8])
		return nil
	default:
		return fmt.Errorf("mmio: store of length %d not supported", len(buf))
	}
}

// loadSized dispatches a read of off to the control-register switch or to
// config space, per §4.2's "size_log2==2 only for control registers; 1/2/4
// for config space" rule.
func (d *Device) loadSized(off uint64, length int) []byte {
	if off >= regConfigStart {
		buf := make([]byte, length)
		d.Handler.ReadConfig(buf, int(off-regConfigStart))
		return buf
	}

	if length != 4 {
		return make([]byte, length)
	}

	v := d.ReadReg(int(off))
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (d *Device) storeSized(off uint64, buf []byte) {
	if off >= regConfigStart {
		d.Handler.WriteConfig(buf, int(off-regConfigStart))
		return
	}

	if len(buf) != 4 {
		return
	}

	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	d.WriteReg(int(off), v)
}
