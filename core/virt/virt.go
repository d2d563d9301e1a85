// Package virt provides access to the virtual memory of an inspected
// machine by translating virtual addresses through its page tables and
// performing the resulting I/O against a physical memory backend.
package virt

import (
	"iter"
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
)

// ErrInvalidAddressSize is returned when a pointer is read for a process
// architecture whose pointer width is neither 32 nor 64 bits.
var ErrInvalidAddressSize = &core.Error{Module: "virt", Kind: core.KindUnsupported, Message: "invalid instruction set address size"}

// VirtualMemory is the contract offered to layers that need to dereference
// guest-virtual addresses.
type VirtualMemory interface {
	// ReadRawIter reads every request in reqs. Failed requests are
	// reported in the returned BatchResult; they do not prevent the
	// remaining requests from being served.
	ReadRawIter(reqs iter.Seq[ReadRequest]) BatchResult

	// WriteRawIter writes every request in reqs with the same partial
	// success semantics as ReadRawIter.
	WriteRawIter(reqs iter.Seq[WriteRequest]) BatchResult

	// PageInfo returns the page that backs addr without performing any
	// data I/O.
	PageInfo(addr mem.Address) (mem.Page, error)

	// ReadAddr reads a pointer sized for the process architecture.
	ReadAddr(addr mem.Address) (mem.Address, error)
}

// OsProcessInfo is implemented by types that know the translation context
// of a process.
type OsProcessInfo interface {
	// SysArch returns the architecture of the running kernel; it selects
	// the page table format.
	SysArch() arch.Architecture

	// ProcArch returns the architecture of the process; it selects the
	// pointer width.
	ProcArch() arch.Architecture

	// DTB returns the physical address of the process page table root.
	DTB() mem.Address
}

// ProcessInfo is a plain OsProcessInfo value.
type ProcessInfo struct {
	SystemArch         arch.Architecture
	ProcessArch        arch.Architecture
	DirectoryTableBase mem.Address
}

// SysArch implements OsProcessInfo.
func (p ProcessInfo) SysArch() arch.Architecture { return p.SystemArch }

// ProcArch implements OsProcessInfo.
func (p ProcessInfo) ProcArch() arch.Architecture { return p.ProcessArch }

// DTB implements OsProcessInfo.
func (p ProcessInfo) DTB() mem.Address { return p.DirectoryTableBase }
