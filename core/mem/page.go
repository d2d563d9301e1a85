package mem

import "strings"

// PageFlags describes the access flags of a translated page.
type PageFlags uint8

const (
	// PagePresent is set for every page produced by a successful walk.
	PagePresent PageFlags = 1 << iota

	// PageWritable is set if every entry along the walk allows writes.
	PageWritable

	// PageUser is set if every entry along the walk allows user-mode
	// access.
	PageUser

	// PageNoExecute is set if any entry along the walk forbids
	// instruction fetches.
	PageNoExecute
)

// Has returns true if all of the input flags are set.
func (f PageFlags) Has(flags PageFlags) bool {
	return f&flags == flags
}

// String implements fmt.Stringer.
func (f PageFlags) String() string {
	var names []string
	for _, flag := range []struct {
		flag PageFlags
		name string
	}{
		{PagePresent, "present"},
		{PageWritable, "writable"},
		{PageUser, "user"},
		{PageNoExecute, "nx"},
	} {
		if f.Has(flag.flag) {
			names = append(names, flag.name)
		}
	}
	return strings.Join(names, "|")
}

// Page describes the physical page backing a translated virtual address.
type Page struct {
	// The physical address of the first byte of the page.
	Base Address

	// The page size class (4K, 2M, 4M or 1G).
	Size Size

	// The effective page flags.
	Flags PageFlags
}

// Contains returns true if the physical address lies within this page.
func (p Page) Contains(addr Address) bool {
	return addr >= p.Base && addr-p.Base < Address(p.Size)
}

// Address returns the tagged physical address at the given offset inside
// the page.
func (p Page) Address(offset Size) PhysicalAddress {
	return PhysicalAddress{Address: p.Base.Add(offset), PageSize: p.Size}
}
