package lowstub

import (
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
)

var errX86PAE = &core.Error{Module: "lowstub", Kind: core.KindUnsupported, Message: "x86 pae page directory pointer table not found"}

// findX86PAE returns the first page that holds a PAE page directory
// pointer table: four present entries followed by zeroes.
func findX86PAE(snapshot []byte) (StartBlock, error) {
	sb, ok := firstPage(snapshot, func(pa mem.Address, page []byte) (StartBlock, bool) {
		if !isX86PAEPDPT(page) {
			return StartBlock{}, false
		}
		return StartBlock{Arch: arch.X86PAE, DTB: pa}, true
	})
	if !ok {
		return StartBlock{}, errX86PAE
	}
	return sb, nil
}

func isX86PAEPDPT(page []byte) bool {
	for off := 0; off < len(page); off += 8 {
		pdpte := le64(page, off)
		if off >= 4*8 {
			if pdpte != 0 {
				return false
			}
			continue
		}

		base := pdpte &^ 0xfff
		if pdpte&0xfff != 0x001 || base == 0 || mem.Size(base) >= maxMemory {
			return false
		}
	}
	return true
}
