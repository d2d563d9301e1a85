package lowstub

// StartBlockSignature describes the fields of the processor start block
// that are checked by the x64 low stub detector. Each field is a 64-bit
// little endian value that must equal Value once Mask has been applied.
type StartBlockSignature struct {
	// The jmp instruction and the completion flag at the start of the
	// block.
	Start SignatureField

	// The kernel entry point; a canonical kernel address.
	KernelEntry SignatureField

	// The PML4 physical address; page aligned and below 1T.
	PML4 SignatureField
}

// SignatureField is a masked 64-bit value at a fixed offset of a page.
type SignatureField struct {
	Offset int
	Mask   uint64
	Value  uint64
}

// match reports whether page contains the field.
func (f SignatureField) match(page []byte) bool {
	return le64(page, f.Offset)&f.Mask == f.Value
}

// X64StartBlockV1 matches the PROCESSOR_START_BLOCK layout used by 64-bit
// Windows from Vista onwards.
var X64StartBlockV1 = StartBlockSignature{
	Start:       SignatureField{Offset: 0x000, Mask: 0xffff_ffff_ffff_00ff, Value: 0x0000_0001_0006_00e9},
	KernelEntry: SignatureField{Offset: 0x070, Mask: 0xffff_f800_0000_0003, Value: 0xffff_f800_0000_0000},
	PML4:        SignatureField{Offset: 0x0a0, Mask: 0xffff_ff00_0000_0fff, Value: 0},
}

// Match reports whether page starts with a processor start block.
func (s StartBlockSignature) Match(page []byte) bool {
	return s.Start.match(page) && s.KernelEntry.match(page) && s.PML4.match(page)
}
