// Package lowstub locates the kernel directory table base in a physical
// memory snapshot of a Windows machine. It first looks for the processor
// start block that the boot loader leaves in the first megabyte of memory
// and falls back to page table heuristics over the first 16 megabytes.
package lowstub

import (
	"iter"
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
	"memflow/core/virt"

	log "github.com/sirupsen/logrus"
)

const (
	// lowStubSize is the size of the region that holds the processor
	// start block when the first megabyte is usable by the OS.
	lowStubSize = 1 * mem.Mb

	// scanSize is the size of the region scanned by the page table
	// heuristics.
	scanSize = 16 * mem.Mb
)

var (
	// ErrNoDTB is returned by Find when none of the detectors matched.
	ErrNoDTB = &core.Error{Module: "lowstub", Kind: core.KindUnsupported, Message: "unable to find dtb"}

	// ErrSnapshotRead is returned by Find when the physical memory
	// snapshot could not be read.
	ErrSnapshotRead = &core.Error{Module: "lowstub", Kind: core.KindBackend, Message: "unable to read low memory snapshot"}
)

// StartBlock describes the kernel address space that a detector found.
type StartBlock struct {
	// The architecture of the kernel page tables.
	Arch arch.Architecture

	// An anchor virtual address inside the kernel. Only the x64 start block
	// provides one; heuristic matches leave it NULL.
	VA mem.Address

	// The physical address of the kernel's top-level page table.
	DTB mem.Address
}

// ProcessInfo returns the translation context of the kernel address space.
func (sb StartBlock) ProcessInfo() virt.ProcessInfo {
	return virt.ProcessInfo{
		SystemArch:         sb.Arch,
		ProcessArch:        sb.Arch,
		DirectoryTableBase: sb.DTB,
	}
}

// detector inspects a snapshot of low physical memory and returns the
// StartBlock it recognizes or an error describing why it did not match.
type detector struct {
	name string
	fn   func(snapshot []byte) (StartBlock, error)
}

var (
	lowStubDetectors = []detector{
		{"x64 low stub", findX64LowStub},
	}

	scanDetectors = []detector{
		{"x64", findX64},
		{"x86 pae", findX86PAE},
		{"x86", findX86},
	}
)

// Find scans the supplied physical memory for the kernel directory table
// base. The first megabyte is checked for an x64 processor start block;
// the first 16 megabytes are then checked with the x64, x86 PAE and x86
// detectors in that order. The first match is returned. Find never writes
// to pmem and returns the same StartBlock for the same memory contents.
func Find(pmem mem.PhysicalMemory) (StartBlock, error) {
	if sb, found, err := runDetectors(pmem, lowStubSize, lowStubDetectors); err != nil || found {
		return sb, err
	}

	if sb, found, err := runDetectors(pmem, scanSize, scanDetectors); err != nil || found {
		return sb, err
	}

	return StartBlock{}, ErrNoDTB
}

// runDetectors reads a fresh snapshot of the given size starting at
// physical address 0 and runs each detector on it.
func runDetectors(pmem mem.PhysicalMemory, size mem.Size, detectors []detector) (StartBlock, bool, error) {
	snapshot := make([]byte, size)
	if err := pmem.PhysRead(mem.PhysicalAddressFrom(mem.Null), snapshot); err != nil {
		return StartBlock{}, false, core.Wrap(ErrSnapshotRead, err)
	}

	for _, d := range detectors {
		sb, err := d.fn(snapshot)
		if err == nil {
			log.WithFields(log.Fields{
				"detector": d.name,
				"arch":     sb.Arch,
				"va":       sb.VA,
				"dtb":      sb.DTB,
			}).Info("found kernel directory table base")
			return sb, true, nil
		}

		log.WithFields(log.Fields{
			"detector": d.name,
			"scanned":  size,
		}).Warn(err.Error())
	}

	return StartBlock{}, false, nil
}

// pages yields the physical address and contents of every complete 4K page
// of the snapshot. Page 0 holds the real mode interrupt vector table and is
// skipped.
func pages(snapshot []byte) iter.Seq2[mem.Address, []byte] {
	return func(yield func(mem.Address, []byte) bool) {
		for off := mem.PageSize4K; off+mem.PageSize4K <= mem.Size(len(snapshot)); off += mem.PageSize4K {
			if !yield(mem.Address(off), snapshot[off:off+mem.PageSize4K]) {
				return
			}
		}
	}
}

// firstPage returns the StartBlock built by match for the first page it
// accepts.
func firstPage(snapshot []byte, match func(pa mem.Address, page []byte) (StartBlock, bool)) (StartBlock, bool) {
	for pa, page := range pages(snapshot) {
		if sb, ok := match(pa, page); ok {
			return sb, true
		}
	}
	return StartBlock{}, false
}
