package mem

import "fmt"

// Address describes a virtual or physical memory address. Addresses are
// stored as 64-bit values regardless of the width of the inspected system
// and all arithmetic on them wraps around.
type Address uint64

// Null is the reserved "no address" value. As a physical address it also
// refers to offset zero of the physical address space.
const Null = Address(0)

// IsNull returns true if this is the Null address.
func (a Address) IsNull() bool {
	return a == Null
}

// Add returns the address offset by the given number of bytes.
func (a Address) Add(offset Size) Address {
	return a + Address(offset)
}

// AlignDown rounds the address down to the nearest multiple of align which
// must be a power of two.
func (a Address) AlignDown(align Size) Address {
	return a &^ Address(align-1)
}

// AlignUp rounds the address up to the nearest multiple of align which must
// be a power of two.
func (a Address) AlignUp(align Size) Address {
	return (a + Address(align-1)) &^ Address(align-1)
}

// IsAligned returns true if the address is a multiple of align.
func (a Address) IsAligned(align Size) bool {
	return a&Address(align-1) == 0
}

// PageOffset returns the offset of the address inside a page of the given
// size.
func (a Address) PageOffset(pageSize Size) Size {
	return Size(a & Address(pageSize-1))
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// PhysicalAddress is a physical Address tagged with the size of the page it
// was resolved through. Only page table walks produce tagged addresses; a
// PageSize of zero means that the page size is unknown.
type PhysicalAddress struct {
	Address  Address
	PageSize Size
}

// PhysicalAddressFrom returns an untagged physical address. It is used for
// raw physical accesses that did not go through a page table walk.
func PhysicalAddressFrom(addr Address) PhysicalAddress {
	return PhysicalAddress{Address: addr}
}

// HasPageSize returns true if the page size for this address is known.
func (pa PhysicalAddress) HasPageSize() bool {
	return pa.PageSize != 0
}

// PageBase returns the base address of the page containing this address or
// the address itself if the page size is unknown.
func (pa PhysicalAddress) PageBase() Address {
	if !pa.HasPageSize() {
		return pa.Address
	}
	return pa.Address.AlignDown(pa.PageSize)
}

// String implements fmt.Stringer.
func (pa PhysicalAddress) String() string {
	return pa.Address.String()
}
