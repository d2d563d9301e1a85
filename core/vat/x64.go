package vat

import "memflow/core/mem"

// x64Format describes 4-level long mode paging: PML4, PDPT, PD and PT with
// 512 64-bit entries each. PDPT entries with the PS bit set map 1G pages and
// PD entries with the PS bit set map 2M pages. Virtual addresses must be
// canonical 48-bit addresses.
var x64Format = pagingFormat{
	levels: []pageLevel{
		{shift: 39, bits: 9},
		{shift: 30, bits: 9, largePage: mem.PageSize1G},
		{shift: 21, bits: 9, largePage: mem.PageSize2M},
		{shift: 12, bits: 9},
	},
	entrySize:     8,
	baseMask:      0x000f_ffff_ffff_f000,
	dtbAlign:      mem.PageSize4K,
	maxDTB:        0x000f_ffff_ffff_f000,
	vaBits:        48,
	canonical:     true,
	largePageBase: alignedLargePageBase,
}

// alignedLargePageBase decodes the base of a 64-bit large page entry by
// masking the entry's base field down to the page size. This also drops the
// PAT bit (bit 12) of large page entries.
func alignedLargePageBase(entry pageTableEntry, size mem.Size) mem.Address {
	return mem.Address(uint64(entry)&0x000f_ffff_ffff_f000) &^ mem.Address(size-1)
}
