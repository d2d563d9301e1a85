package vat

import "memflow/core/mem"

// x86Format describes 32-bit paging without PAE: a page directory and a page
// table of 1024 32-bit entries each. Page directory entries with the PS bit
// set map 4M pages.
var x86Format = pagingFormat{
	levels: []pageLevel{
		{shift: 22, bits: 10, largePage: mem.PageSize4M},
		{shift: 12, bits: 10},
	},
	entrySize:     4,
	baseMask:      0xffff_f000,
	dtbAlign:      mem.PageSize4K,
	maxDTB:        0xffff_f000,
	vaBits:        32,
	largePageBase: x86LargePageBase,
}

// x86LargePageBase decodes the base of a 4M page. Bits 22-31 of the entry
// hold bits 22-31 of the page address; with PSE-36 bits 13-20 of the entry
// supply physical address bits 32-39.
func x86LargePageBase(entry pageTableEntry, _ mem.Size) mem.Address {
	low := uint64(entry) & 0xffc0_0000
	high := (uint64(entry) >> 13) & 0xff
	return mem.Address(low | high<<32)
}
