package lowstub

import (
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
)

var errX86 = &core.Error{Module: "lowstub", Kind: core.KindUnsupported, Message: "x86 page directory not found"}

// findX86 returns the first page that looks like a non-PAE kernel page
// directory.
func findX86(snapshot []byte) (StartBlock, error) {
	sb, ok := firstPage(snapshot, func(pa mem.Address, page []byte) (StartBlock, bool) {
		if !isX86PageDirectory(pa, page) {
			return StartBlock{}, false
		}
		return StartBlock{Arch: arch.X86, DTB: pa}, true
	})
	if !ok {
		return StartBlock{}, errX86
	}
	return sb, nil
}

// isX86PageDirectory checks the flags of the first entry, the self map
// entry at 0xc00 (0xc0000000 >> 22) and that more than 16 kernel half
// entries are present.
func isX86PageDirectory(pa mem.Address, page []byte) bool {
	if pa > 0xffff_f000 || le32(page, 0)&0x67 != 0x67 {
		return false
	}

	if le32(page, 0xc00)&0xffff_f063 != uint32(pa)|0x63 {
		return false
	}

	var present int
	for off := 0x800; off < len(page); off += 4 {
		if le32(page, off)&0x01 != 0 {
			present++
		}
	}
	return present > 16
}
