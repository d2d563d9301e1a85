package virt

import (
	"memflow/core/arch"
	"memflow/core/mem"
	"memflow/core/vat"
	"slices"
)

// VirtualFromPhysical implements VirtualMemory on top of a physical memory
// backend and a page table walker, bound to a single translation context
// (system architecture, process architecture and DTB).
//
// A VirtualFromPhysical is not safe for concurrent use. Callers that need
// concurrency should create one instance per goroutine, sharing a backend
// that is itself safe for concurrent access.
type VirtualFromPhysical[P mem.PhysicalMemory, V vat.VirtualTranslate] struct {
	physMem  P
	vat      V
	sysArch  arch.Architecture
	procArch arch.Architecture
	dtb      mem.Address
}

var _ VirtualMemory = (*VirtualFromPhysical[mem.PhysicalMemory, *vat.TranslateArch])(nil)

// New returns a VirtualFromPhysical that walks the page tables of sysArch.
func New[P mem.PhysicalMemory](physMem P, sysArch, procArch arch.Architecture, dtb mem.Address) *VirtualFromPhysical[P, *vat.TranslateArch] {
	return WithVat(physMem, sysArch, procArch, dtb, vat.NewTranslateArch(sysArch))
}

// WithProcessInfo returns a VirtualFromPhysical for the translation context
// exposed by info.
func WithProcessInfo[P mem.PhysicalMemory](physMem P, info OsProcessInfo) *VirtualFromPhysical[P, *vat.TranslateArch] {
	return New(physMem, info.SysArch(), info.ProcArch(), info.DTB())
}

// WithVat returns a VirtualFromPhysical that uses the supplied translator
// (e.g. a vat.Cache) instead of a plain page table walker.
func WithVat[P mem.PhysicalMemory, V vat.VirtualTranslate](physMem P, sysArch, procArch arch.Architecture, dtb mem.Address, translator V) *VirtualFromPhysical[P, V] {
	return &VirtualFromPhysical[P, V]{
		physMem:  physMem,
		vat:      translator,
		sysArch:  sysArch,
		procArch: procArch,
		dtb:      dtb,
	}
}

// SysArch returns the architecture whose page tables are walked.
func (v *VirtualFromPhysical[P, V]) SysArch() arch.Architecture { return v.sysArch }

// ProcArch returns the architecture used for pointer reads.
func (v *VirtualFromPhysical[P, V]) ProcArch() arch.Architecture { return v.procArch }

// DTB returns the directory table base used for translations.
func (v *VirtualFromPhysical[P, V]) DTB() mem.Address { return v.dtb }

// Vat returns the translator.
func (v *VirtualFromPhysical[P, V]) Vat() V { return v.vat }

// PhysMem returns the physical memory backend.
func (v *VirtualFromPhysical[P, V]) PhysMem() P { return v.physMem }

// PageInfo implements VirtualMemory.
func (v *VirtualFromPhysical[P, V]) PageInfo(addr mem.Address) (mem.Page, error) {
	_, page, err := v.vat.VirtToPhys(v.physMem, v.dtb, addr)
	return page, err
}

// ReadBatch reads all requests. See ReadRawIter.
func (v *VirtualFromPhysical[P, V]) ReadBatch(reqs ...ReadRequest) BatchResult {
	return v.ReadRawIter(slices.Values(reqs))
}

// WriteBatch writes all requests. See WriteRawIter.
func (v *VirtualFromPhysical[P, V]) WriteBatch(reqs ...WriteRequest) BatchResult {
	return v.WriteRawIter(slices.Values(reqs))
}

// ReadInto fills buf with the contents of the virtual memory at addr.
func (v *VirtualFromPhysical[P, V]) ReadInto(addr mem.Address, buf []byte) error {
	return v.ReadBatch(ReadRequest{Addr: addr, Buf: buf}).Failed(0)
}

// Read returns length bytes of virtual memory starting at addr.
func (v *VirtualFromPhysical[P, V]) Read(addr mem.Address, length mem.Size) ([]byte, error) {
	buf := make([]byte, length)
	if err := v.ReadInto(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write writes data to the virtual memory at addr.
func (v *VirtualFromPhysical[P, V]) Write(addr mem.Address, data []byte) error {
	return v.WriteBatch(WriteRequest{Addr: addr, Data: data}).Failed(0)
}

// ReadUint32 reads a 32-bit value at addr.
func (v *VirtualFromPhysical[P, V]) ReadUint32(addr mem.Address) (uint32, error) {
	var buf [4]byte
	if err := v.ReadInto(addr, buf[:]); err != nil {
		return 0, err
	}
	return v.procArch.ByteOrder().Uint32(buf[:]), nil
}

// ReadUint64 reads a 64-bit value at addr.
func (v *VirtualFromPhysical[P, V]) ReadUint64(addr mem.Address) (uint64, error) {
	var buf [8]byte
	if err := v.ReadInto(addr, buf[:]); err != nil {
		return 0, err
	}
	return v.procArch.ByteOrder().Uint64(buf[:]), nil
}

// ReadAddr implements VirtualMemory. The pointer width is taken from the
// process architecture; 32-bit pointers are zero-extended.
func (v *VirtualFromPhysical[P, V]) ReadAddr(addr mem.Address) (mem.Address, error) {
	switch v.procArch.Bits() {
	case 64:
		return v.ReadAddr64(addr)
	case 32:
		return v.ReadAddr32(addr)
	default:
		return mem.Null, ErrInvalidAddressSize
	}
}

// ReadAddr32 reads a 32-bit pointer at addr.
func (v *VirtualFromPhysical[P, V]) ReadAddr32(addr mem.Address) (mem.Address, error) {
	ptr, err := v.ReadUint32(addr)
	return mem.Address(ptr), err
}

// ReadAddr64 reads a 64-bit pointer at addr.
func (v *VirtualFromPhysical[P, V]) ReadAddr64(addr mem.Address) (mem.Address, error) {
	ptr, err := v.ReadUint64(addr)
	return mem.Address(ptr), err
}
