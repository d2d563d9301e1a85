package mem

import (
	"fmt"
	"memflow/core"
)

var (
	// ErrOutOfRange is returned by BufferMemory for accesses that do not
	// fit inside its image.
	ErrOutOfRange = &core.Error{Module: "mem", Kind: core.KindBackend, Message: "physical access out of range"}

	// ErrReadOnly is returned by backends that refuse writes.
	ErrReadOnly = &core.Error{Module: "mem", Kind: core.KindBackend, Message: "physical memory is read-only"}
)

// PhysicalMemory is implemented by backends that provide byte-range access
// to the physical address space of the inspected machine.
type PhysicalMemory interface {
	// PhysRead reads len(buf) bytes starting at addr into buf.
	PhysRead(addr PhysicalAddress, buf []byte) error

	// PhysWrite writes data starting at addr.
	PhysWrite(addr PhysicalAddress, data []byte) error
}

// BufferMemory is a PhysicalMemory implementation backed by an in-memory
// image of the physical address space. Offset zero of the image maps to
// physical address zero.
type BufferMemory struct {
	data     []byte
	readOnly bool
}

// NewBufferMemory returns a writable BufferMemory that wraps data without
// copying it.
func NewBufferMemory(data []byte) *BufferMemory {
	return &BufferMemory{data: data}
}

// NewReadOnlyBufferMemory returns a BufferMemory that rejects writes.
func NewReadOnlyBufferMemory(data []byte) *BufferMemory {
	return &BufferMemory{data: data, readOnly: true}
}

// Size returns the size of the wrapped image.
func (m *BufferMemory) Size() Size {
	return Size(len(m.data))
}

// Bytes returns the wrapped image.
func (m *BufferMemory) Bytes() []byte {
	return m.data
}

// PhysRead implements PhysicalMemory.
func (m *BufferMemory) PhysRead(addr PhysicalAddress, buf []byte) error {
	start, err := m.bounds(addr.Address, len(buf))
	if err != nil {
		return err
	}

	copy(buf, m.data[start:])
	return nil
}

// PhysWrite implements PhysicalMemory.
func (m *BufferMemory) PhysWrite(addr PhysicalAddress, data []byte) error {
	if m.readOnly {
		return ErrReadOnly
	}

	start, err := m.bounds(addr.Address, len(data))
	if err != nil {
		return err
	}

	copy(m.data[start:], data)
	return nil
}

func (m *BufferMemory) bounds(addr Address, length int) (uint64, error) {
	start, end := uint64(addr), uint64(addr)+uint64(length)
	if end < start || end > uint64(len(m.data)) {
		return 0, core.Wrap(ErrOutOfRange, fmt.Errorf("range [%s, 0x%x) exceeds image size 0x%x", addr, end, len(m.data)))
	}
	return start, nil
}
