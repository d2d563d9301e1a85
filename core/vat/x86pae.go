package vat

import "memflow/core/mem"

// x86PAEFormat describes 32-bit paging with the physical address extension:
// a 4-entry page directory pointer table followed by a page directory and a
// page table of 512 64-bit entries each. The PDPT is 32-byte aligned and its
// entries only define the present bit; page directory entries with the PS
// bit set map 2M pages.
var x86PAEFormat = pagingFormat{
	levels: []pageLevel{
		{shift: 30, bits: 2, ignoreFlags: true},
		{shift: 21, bits: 9, largePage: mem.PageSize2M},
		{shift: 12, bits: 9},
	},
	entrySize:     8,
	baseMask:      0x000f_ffff_ffff_f000,
	dtbAlign:      32,
	maxDTB:        0xffff_ffe0,
	vaBits:        32,
	largePageBase: alignedLargePageBase,
}
