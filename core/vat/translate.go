// Package vat implements virtual address translation by walking x86 page
// tables (32-bit, 32-bit PAE and 64-bit long mode) through a physical
// memory backend.
package vat

import (
	"memflow/core/arch"
	"memflow/core/mem"
)

// VirtualTranslate is implemented by types that can translate a virtual
// address into a physical one for a given directory table base.
type VirtualTranslate interface {
	// VirtToPhys translates virtAddr using the page tables rooted at dtb.
	// Translation failures are reported with core.KindNotPresent; failed
	// reads of page table entries with core.KindBackend.
	VirtToPhys(pmem mem.PhysicalMemory, dtb, virtAddr mem.Address) (mem.PhysicalAddress, mem.Page, error)
}

// formatFor returns the page table format for the given architecture or nil
// if the architecture is not supported.
func formatFor(a arch.Architecture) *pagingFormat {
	switch a {
	case arch.X86:
		return &x86Format
	case arch.X86PAE:
		return &x86PAEFormat
	case arch.X64:
		return &x64Format
	}
	return nil
}

// TranslateArch is a VirtualTranslate implementation that walks the page
// table format of a single architecture. The format is selected once when
// the TranslateArch is created.
type TranslateArch struct {
	arch   arch.Architecture
	format *pagingFormat
}

// NewTranslateArch returns a TranslateArch for the given architecture. A
// TranslateArch for an unsupported architecture fails every translation
// with ErrUnsupportedArch.
func NewTranslateArch(a arch.Architecture) *TranslateArch {
	return &TranslateArch{arch: a, format: formatFor(a)}
}

// Arch returns the architecture whose page tables are walked.
func (t *TranslateArch) Arch() arch.Architecture {
	return t.arch
}

// VirtToPhys implements VirtualTranslate.
func (t *TranslateArch) VirtToPhys(pmem mem.PhysicalMemory, dtb, virtAddr mem.Address) (mem.PhysicalAddress, mem.Page, error) {
	if t.format == nil {
		return mem.PhysicalAddress{}, mem.Page{}, ErrUnsupportedArch
	}
	return translate(pmem, t.format, dtb, virtAddr)
}

// Translate returns the physical address and page that correspond to the
// supplied virtual address using the page tables of the given architecture.
func Translate(pmem mem.PhysicalMemory, a arch.Architecture, dtb, virtAddr mem.Address) (mem.PhysicalAddress, mem.Page, error) {
	return NewTranslateArch(a).VirtToPhys(pmem, dtb, virtAddr)
}

// translate walks the page tables described by f and calculates the
// physical address by taking the page base and appending the offset from
// the virtual address at the resolved page granularity.
func translate(pmem mem.PhysicalMemory, f *pagingFormat, dtb, virtAddr mem.Address) (mem.PhysicalAddress, mem.Page, error) {
	if !f.validDTB(dtb) {
		return mem.PhysicalAddress{}, mem.Page{}, ErrInvalidDTB
	}

	if !f.validAddress(virtAddr) {
		return mem.PhysicalAddress{}, mem.Page{}, ErrInvalidAddress
	}

	var (
		page = mem.Page{
			Size:  mem.PageSize4K,
			Flags: mem.PagePresent | mem.PageWritable | mem.PageUser,
		}
		walkErr   error
		lastLevel = uint8(len(f.levels) - 1)
	)

	err := walk(pmem, f, dtb, virtAddr, func(levelIndex uint8, level pageLevel, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			walkErr = ErrNotPresent
			return false
		}

		if !level.ignoreFlags {
			if !pte.HasFlags(FlagRW) {
				page.Flags &^= mem.PageWritable
			}
			if !pte.HasFlags(FlagUserAccessible) {
				page.Flags &^= mem.PageUser
			}
			if pte.HasFlags(FlagNoExecute) {
				page.Flags |= mem.PageNoExecute
			}
		}

		switch {
		case level.largePage != 0 && pte.HasFlags(FlagHugePage):
			page.Size = level.largePage
			page.Base = f.largePageBase(pte, level.largePage)
			return false
		case levelIndex == lastLevel:
			page.Base = pte.Address(f.baseMask)
		}

		return true
	})

	if err != nil {
		return mem.PhysicalAddress{}, mem.Page{}, err
	}
	if walkErr != nil {
		return mem.PhysicalAddress{}, mem.Page{}, walkErr
	}

	return page.Address(virtAddr.PageOffset(page.Size)), page, nil
}
