// Package arch describes the CPU architectures and page table formats that
// memflow can translate addresses for.
package arch

import (
	"encoding/binary"
	"memflow/core"
	"memflow/core/mem"
	"strings"
)

// ErrUnknownArchitecture is returned by Parse for unrecognized names.
var ErrUnknownArchitecture = &core.Error{Module: "arch", Kind: core.KindUnsupported, Message: "unknown architecture"}

// Architecture identifies a CPU mode together with the page table format it
// uses. The set of architectures is closed; the zero value is invalid.
type Architecture uint8

const (
	// X86 is 32-bit protected mode with 2-level, 32-bit page tables.
	X86 Architecture = iota + 1

	// X86PAE is 32-bit protected mode with 3-level, 64-bit PAE page
	// tables.
	X86PAE

	// X64 is long mode with 4-level, 64-bit page tables.
	X64
)

type descriptor struct {
	name      string
	bits      uint8
	entrySize mem.Size
	levels    uint8
}

var descriptors = [...]descriptor{
	X86:    {name: "x86", bits: 32, entrySize: 4, levels: 2},
	X86PAE: {name: "x86_pae", bits: 32, entrySize: 8, levels: 3},
	X64:    {name: "x64", bits: 64, entrySize: 8, levels: 4},
}

func (a Architecture) descriptor() descriptor {
	if !a.Valid() {
		return descriptor{name: "unknown"}
	}
	return descriptors[a]
}

// Valid returns true if a is one of the supported architectures.
func (a Architecture) Valid() bool {
	return a >= X86 && a <= X64
}

// Bits returns the pointer width in bits or 0 for invalid values.
func (a Architecture) Bits() uint8 {
	return a.descriptor().bits
}

// PointerSize returns the pointer width in bytes.
func (a Architecture) PointerSize() mem.Size {
	return mem.Size(a.Bits() / 8)
}

// EntrySize returns the size of a page table entry in bytes.
func (a Architecture) EntrySize() mem.Size {
	return a.descriptor().entrySize
}

// Levels returns the number of page table levels walked for a 4K page.
func (a Architecture) Levels() uint8 {
	return a.descriptor().levels
}

// PageSize returns the base page size.
func (a Architecture) PageSize() mem.Size {
	return mem.PageSize
}

// ByteOrder returns the byte order used for page table entries and
// pointers.
func (a Architecture) ByteOrder() binary.ByteOrder {
	return binary.LittleEndian
}

// String implements fmt.Stringer.
func (a Architecture) String() string {
	return a.descriptor().name
}

// Parse returns the Architecture with the given name. Besides the names
// returned by String, a few common aliases are accepted.
func Parse(name string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "x86", "i386", "x86_32":
		return X86, nil
	case "x86_pae", "x86pae", "pae":
		return X86PAE, nil
	case "x64", "x86_64", "amd64":
		return X64, nil
	}
	return 0, ErrUnknownArchitecture
}
