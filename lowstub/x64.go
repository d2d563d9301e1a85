package lowstub

import (
	"encoding/binary"
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
)

const (
	// maxMemory bounds the physical addresses that the page table
	// heuristics accept.
	maxMemory = 512 * mem.Gb

	x64AddressMask = 0x0000_ffff_ffff_f000
)

var (
	errX64LowStub = &core.Error{Module: "lowstub", Kind: core.KindUnsupported, Message: "x64 processor start block not found"}
	errX64PML4    = &core.Error{Module: "lowstub", Kind: core.KindUnsupported, Message: "x64 PML4 not found"}
)

func le64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off:])
}

func le32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

// findX64LowStub returns the StartBlock described by the first processor
// start block in the snapshot.
func findX64LowStub(snapshot []byte) (StartBlock, error) {
	sb, ok := firstPage(snapshot, func(_ mem.Address, page []byte) (StartBlock, bool) {
		if !X64StartBlockV1.Match(page) {
			return StartBlock{}, false
		}
		return StartBlock{
			Arch: arch.X64,
			VA:   mem.Address(le64(page, X64StartBlockV1.KernelEntry.Offset)),
			DTB:  mem.Address(le64(page, X64StartBlockV1.PML4.Offset)),
		}, true
	})
	if !ok {
		return StartBlock{}, errX64LowStub
	}
	return sb, nil
}

// findX64 looks for a processor start block and, failing that, for a page
// that looks like a kernel PML4.
func findX64(snapshot []byte) (StartBlock, error) {
	if sb, err := findX64LowStub(snapshot); err == nil {
		return sb, nil
	}

	sb, ok := firstPage(snapshot, func(pa mem.Address, page []byte) (StartBlock, bool) {
		if !isX64PML4(pa, page) {
			return StartBlock{}, false
		}
		return StartBlock{Arch: arch.X64, DTB: pa}, true
	})
	if !ok {
		return StartBlock{}, errX64PML4
	}
	return sb, nil
}

// isX64PML4 checks that the first user mode entry is a present, writable
// user table, that one of the kernel half entries maps the page itself and
// that at least 6 kernel half entries are valid.
func isX64PML4(pa mem.Address, page []byte) bool {
	pte0 := le64(page, 0)
	if pte0&0x87 != 0x07 || mem.Size(pte0&x64AddressMask) >= maxMemory {
		return false
	}

	var (
		selfRef bool
		valid   int
	)
	for off := 0x800; off < len(page); off += 8 {
		pte := le64(page, off)
		if pte&0x0000_ffff_ffff_f083 == uint64(pa)|0x03 {
			selfRef = true
		}
		if pte&0x83 == 0x03 && mem.Size(pte&x64AddressMask) < maxMemory {
			valid++
		}
	}

	return selfRef && valid >= 6
}
