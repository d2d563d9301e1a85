package vat

import (
	"encoding/binary"
	"errors"
	"memflow/core/mem"
)

// countingMemory wraps a PhysicalMemory and records every read address.
type countingMemory struct {
	mem.PhysicalMemory
	reads []mem.PhysicalAddress
}

func (m *countingMemory) PhysRead(addr mem.PhysicalAddress, buf []byte) error {
	m.reads = append(m.reads, addr)
	return m.PhysicalMemory.PhysRead(addr, buf)
}

// failingMemory fails every access.
type failingMemory struct{}

var errDeviceGone = errors.New("device gone")

func (failingMemory) PhysRead(mem.PhysicalAddress, []byte) error  { return errDeviceGone }
func (failingMemory) PhysWrite(mem.PhysicalAddress, []byte) error { return errDeviceGone }

// tableImage is a physical memory image used to assemble page tables.
type tableImage []byte

func newTableImage(size mem.Size) tableImage {
	return make(tableImage, size)
}

func (img tableImage) put32(addr mem.Address, v uint32) {
	binary.LittleEndian.PutUint32(img[addr:], v)
}

func (img tableImage) put64(addr mem.Address, v uint64) {
	binary.LittleEndian.PutUint64(img[addr:], v)
}

func (img tableImage) memory() *countingMemory {
	return &countingMemory{PhysicalMemory: mem.NewBufferMemory(img)}
}

const (
	flagsRWU = uint64(FlagPresent | FlagRW | FlagUserAccessible)
	flagsRW  = uint64(FlagPresent | FlagRW)
)
