package virt

import (
	"encoding/binary"
	"errors"
	"memflow/core/arch"
	"memflow/core/mem"
	"memflow/core/vat"
)

const (
	testDTB    = mem.Address(0x1000)
	pteFlagsRW = 0x3
	pteLargeRW = 0x83
	imageSize  = 4 * mem.Mb
	largePhys  = mem.Address(0x20_0000)
	unmappedVA = mem.Address(0x13000)
)

// testMappings maps the virtual pages 0x10000-0x14fff to physical pages; the
// first two are physically adjacent and 0x13000 is left unmapped.
var testMappings = map[mem.Address]mem.Address{
	0x10000: 0x8000,
	0x11000: 0x9000,
	0x12000: 0x6000,
	0x14000: 0xa000,
}

// newTestImage builds a 4M x64 physical memory image with a PML4 at 0x1000,
// a PDPT at 0x2000, a PD at 0x3000 and a PT at 0x4000. PD entry 1 maps the
// 2M page at 0x200000 onto itself.
func newTestImage() []byte {
	img := make([]byte, imageSize)
	put := func(addr mem.Address, v uint64) {
		binary.LittleEndian.PutUint64(img[addr:], v)
	}

	put(0x1000, 0x2000|pteFlagsRW)
	put(0x2000, 0x3000|pteFlagsRW)
	put(0x3000, 0x4000|pteFlagsRW)
	put(0x3000+1*8, uint64(largePhys)|pteLargeRW)
	for virtAddr, physAddr := range testMappings {
		put(0x4000+mem.Address(virtAddr>>12)*8, uint64(physAddr)|pteFlagsRW)
	}

	return img
}

// recordingMemory wraps a PhysicalMemory, records accesses and fails those
// that touch failRange.
type recordingMemory struct {
	inner     mem.PhysicalMemory
	reads     []physAccess
	writes    []physAccess
	failStart mem.Address
	failEnd   mem.Address
}

type physAccess struct {
	addr mem.PhysicalAddress
	size int
}

var errBadRAM = errors.New("bad ram")

func newRecordingMemory(img []byte) *recordingMemory {
	return &recordingMemory{inner: mem.NewBufferMemory(img)}
}

func (m *recordingMemory) failing(addr mem.Address, size int) bool {
	end := addr.Add(mem.Size(size))
	return m.failEnd > m.failStart && addr < m.failEnd && end > m.failStart
}

func (m *recordingMemory) PhysRead(addr mem.PhysicalAddress, buf []byte) error {
	m.reads = append(m.reads, physAccess{addr, len(buf)})
	if m.failing(addr.Address, len(buf)) {
		return errBadRAM
	}
	return m.inner.PhysRead(addr, buf)
}

func (m *recordingMemory) PhysWrite(addr mem.PhysicalAddress, data []byte) error {
	m.writes = append(m.writes, physAccess{addr, len(data)})
	if m.failing(addr.Address, len(data)) {
		return errBadRAM
	}
	return m.inner.PhysWrite(addr, data)
}

// dataReads returns the reads that did not target the page tables.
func (m *recordingMemory) dataReads() []physAccess {
	var out []physAccess
	for _, r := range m.reads {
		if r.addr.Address >= 0x1000 && r.addr.Address < 0x5000 {
			continue
		}
		out = append(out, r)
	}
	return out
}

func newTestEngine() (*VirtualFromPhysical[*recordingMemory, *vat.TranslateArch], []byte, *recordingMemory) {
	img := newTestImage()
	pmem := newRecordingMemory(img)
	return New(pmem, arch.X64, arch.X64, testDTB), img, pmem
}
