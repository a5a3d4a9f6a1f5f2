// Package simmem provides a flat-byte-slice implementation of
// virtq.Memory for use in tests across this module's packages.
package simmem

import "fmt"

// Memory is a flat byte slice addressed from 0, implementing virtq.Memory.
type Memory []byte

// At returns a slice aliasing mem[addr:addr+len], erroring if any part of
// the requested range falls outside the backing slice.
func (mem Memory) At(addr uint64, length int) ([]byte, error) {
	if addr > uint64(len(mem)) || uint64(length) > uint64(len(mem))-addr {
		return nil, fmt.Errorf("simmem: access at %#x, len %d out of range (size %d)", addr, length, len(mem))
	}

	return mem[addr : addr+uint64(length)], nil
}

// PutU16 writes a little-endian u16 at addr.
func (mem Memory) PutU16(addr uint64, v uint16) {
	mem[addr] = byte(v)
	mem[addr+1] = byte(v >> 8)
}

// PutU32 writes a little-endian u32 at addr.
func (mem Memory) PutU32(addr uint64, v uint32) {
	mem[addr] = byte(v)
	mem[addr+1] = byte(v >> 8)
	mem[addr+2] = byte(v >> 16)
	mem[addr+3] = byte(v >> 24)
}

// PutU64 writes a little-endian u64 at addr.
func (mem Memory) PutU64(addr uint64, v uint64) {
	for i := 0; i < 8; i++ {
		mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

// U16 reads a little-endian u16 at addr.
func (mem Memory) U16(addr uint64) uint16 {
	return uint16(mem[addr]) | uint16(mem[addr+1])<<8
}

// U32 reads a little-endian u32 at addr.
func (mem Memory) U32(addr uint64) uint32 {
	return uint32(mem[addr]) | uint32(mem[addr+1])<<8 | uint32(mem[addr+2])<<16 | uint32(mem[addr+3])<<24
}
