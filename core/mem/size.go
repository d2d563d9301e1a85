package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert an address to a page number (shift right by
	// PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the base page size of all supported page table
	// formats.
	PageSize = Size(1 << PageShift)
)

// Page size classes that a page table walk can resolve to.
const (
	PageSize4K = 4 * Kb
	PageSize2M = 2 * Mb
	PageSize4M = 4 * Mb
	PageSize1G = Gb
)
