package vat

import (
	"encoding/binary"
	"memflow/core"
	"memflow/core/mem"
)

// pageLevel describes a single level of a page table format.
type pageLevel struct {
	// The index of this level's table is found in bits
	// [shift, shift+bits) of the virtual address.
	shift uint8
	bits  uint8

	// The size of the page mapped by an entry of this level when its
	// FlagHugePage bit is set. A zero value means that the bit is not
	// honoured at this level.
	largePage mem.Size

	// Set for levels whose RW/US/NX bits are reserved and must not
	// influence the effective page flags.
	ignoreFlags bool
}

// pagingFormat describes a page table format. Each supported architecture
// has exactly one format; the walk algorithm itself is shared.
type pagingFormat struct {
	levels []pageLevel

	// The size of each entry in bytes.
	entrySize mem.Size

	// The bits of an entry that hold the base of the next table or of a
	// 4K page.
	baseMask uint64

	// The alignment of the root table and the highest DTB value the
	// format can load.
	dtbAlign mem.Size
	maxDTB   mem.Address

	// The number of meaningful virtual address bits. When canonical is
	// set, the bits above vaBits must be a sign-extension of bit vaBits-1;
	// otherwise they must be zero.
	vaBits    uint8
	canonical bool

	// largePageBase decodes the base address of a large page entry.
	largePageBase func(entry pageTableEntry, size mem.Size) mem.Address
}

// validDTB returns true if dtb can be loaded as the root of this format.
func (f *pagingFormat) validDTB(dtb mem.Address) bool {
	return !dtb.IsNull() && dtb <= f.maxDTB && dtb.IsAligned(f.dtbAlign)
}

// validAddress returns true if virtAddr can be represented by this format.
func (f *pagingFormat) validAddress(virtAddr mem.Address) bool {
	high := uint64(virtAddr) >> f.vaBits
	if !f.canonical {
		return high == 0
	}

	signBit := (uint64(virtAddr) >> (f.vaBits - 1)) & 1
	return high == signBit*(^uint64(0)>>f.vaBits)
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level index, the level descriptor and
// the page table entry as its arguments. If the function returns false,
// then the page walk is aborted.
type pageTableWalker func(levelIndex uint8, level pageLevel, pte pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table pointed to by dtb. It calls the supplied walkFn with the page
// table entry that corresponds to each page table level. The next table is
// located through the entry's base field; walkFn is responsible for
// stopping the walk on non-present or large page entries.
//
// Only backend failures are reported by walk; the caller is expected to
// have validated dtb and virtAddr.
func walk(pmem mem.PhysicalMemory, f *pagingFormat, dtb, virtAddr mem.Address, walkFn pageTableWalker) error {
	var (
		tableAddr, entryAddr mem.Address
		entryIndex           uint64
		entry                pageTableEntry
		buf                  [8]byte
		raw                  = buf[:f.entrySize]
	)

	tableAddr = dtb
	for levelIndex, level := range f.levels {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (uint64(virtAddr) >> level.shift) & ((1 << level.bits) - 1)
		entryAddr = tableAddr.Add(mem.Size(entryIndex) * f.entrySize)

		// Page tables always live in 4K pages
		if err := pmem.PhysRead(mem.PhysicalAddress{Address: entryAddr, PageSize: mem.PageSize4K}, raw); err != nil {
			return core.Wrap(ErrPageTableRead, err)
		}

		if f.entrySize == 4 {
			entry = pageTableEntry(binary.LittleEndian.Uint32(raw))
		} else {
			entry = pageTableEntry(binary.LittleEndian.Uint64(raw))
		}

		if !walkFn(uint8(levelIndex), level, entry) {
			return nil
		}

		tableAddr = entry.Address(f.baseMask)
	}

	return nil
}
