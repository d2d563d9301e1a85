package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"memflow/core/mem"

	"golang.org/x/arch/x86/x86asm"
)

// disassembler renders x86 machine code in one of the syntaxes supported
// by x86asm.
type disassembler struct {
	bits   int
	syntax func(inst x86asm.Inst, pc uint64) string
}

// noSymbols is the x86asm.SymLookup used for dumps, which carry no symbol
// information.
func noSymbols(uint64) (string, uint64) {
	return "", 0
}

func newDisassembler(syntax string, bits int) (*disassembler, error) {
	if bits != 16 && bits != 32 && bits != 64 {
		return nil, fmt.Errorf("unsupported instruction width: %d bits", bits)
	}

	d := &disassembler{bits: bits}
	switch syntax {
	case "", "intel":
		d.syntax = func(inst x86asm.Inst, pc uint64) string { return x86asm.IntelSyntax(inst, pc, noSymbols) }
	case "att", "gnu":
		d.syntax = func(inst x86asm.Inst, pc uint64) string { return x86asm.GNUSyntax(inst, pc, noSymbols) }
	case "go":
		d.syntax = func(inst x86asm.Inst, pc uint64) string { return x86asm.GoSyntax(inst, pc, noSymbols) }
	default:
		return nil, fmt.Errorf("unsupported syntax %q", syntax)
	}
	return d, nil
}

// all writes one line per instruction in code, which is located at the
// virtual address addr. Bytes that do not decode are reported as "(bad)"
// and skipped one at a time.
func (d *disassembler) all(w io.Writer, addr mem.Address, code []byte) error {
	for index := 0; index < len(code); {
		pc := addr.Add(mem.Size(index))

		var (
			length = 1
			text   = "(bad)"
		)
		if inst, err := x86asm.Decode(code[index:], d.bits); err == nil {
			length = inst.Len
			text = d.syntax(inst, uint64(pc))
		}

		if _, err := fmt.Fprintf(w, "%s  %-24s %s\n", pc, hex.EncodeToString(code[index:index+length]), text); err != nil {
			return err
		}
		index += length
	}
	return nil
}
