package vat

import (
	"memflow/core"
	"memflow/core/mem"
)

var (
	// ErrNotPresent is returned when the walk reaches a page table entry
	// whose present bit is clear.
	ErrNotPresent = &core.Error{Module: "vat", Kind: core.KindNotPresent, Message: "page not present"}

	// ErrInvalidDTB is returned for a NULL directory table base or one that
	// is not aligned to the root table of the page table format.
	ErrInvalidDTB = &core.Error{Module: "vat", Kind: core.KindNotPresent, Message: "invalid directory table base"}

	// ErrInvalidAddress is returned for virtual addresses that cannot be
	// represented by the page table format (e.g. non-canonical x64
	// addresses or addresses above 4G on 32-bit formats).
	ErrInvalidAddress = &core.Error{Module: "vat", Kind: core.KindNotPresent, Message: "virtual address outside of the address space"}

	// ErrPageTableRead is returned when the physical memory backend fails
	// to read a page table entry.
	ErrPageTableRead = &core.Error{Module: "vat", Kind: core.KindBackend, Message: "failed to read page table entry"}

	// ErrUnsupportedArch is returned by translators constructed for an
	// architecture without a page table format.
	ErrUnsupportedArch = &core.Error{Module: "vat", Kind: core.KindUnsupported, Message: "unsupported architecture"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry. The flag positions are shared by all supported formats; 32-bit
// entries simply never have FlagNoExecute set.
type PageTableEntryFlag uint64

const (
	// FlagPresent is set when the entry maps a table or page.
	FlagPresent PageTableEntryFlag = 1 << 0

	// FlagRW allows writes to the mapped region.
	FlagRW PageTableEntryFlag = 1 << 1

	// FlagUserAccessible allows user-mode access to the mapped region.
	FlagUserAccessible PageTableEntryFlag = 1 << 2

	// FlagHugePage is set on directory entries that map a large page
	// instead of pointing to the next table.
	FlagHugePage PageTableEntryFlag = 1 << 7

	// FlagNoExecute forbids instruction fetches from the mapped region.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// pageTableEntry holds a raw page table entry. 32-bit entries are stored
// zero-extended.
type pageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// Address returns the physical address encoded in the entry's base field.
func (pte pageTableEntry) Address(mask uint64) mem.Address {
	return mem.Address(uint64(pte) & mask)
}
