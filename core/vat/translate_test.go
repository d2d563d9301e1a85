package vat

import (
	"errors"
	"memflow/core"
	"memflow/core/arch"
	"memflow/core/mem"
	"testing"
)

// x64 target address that breaks down to:
// p4 index: 1
// p3 index: 2
// p2 index: 3
// p1 index: 4
// offset  : 1024
const x64TargetAddr = mem.Address(0x8080604400)

// x64Image maps x64TargetAddr through a PML4 at 0x1000, a PDPT at 0x2000, a
// PD at 0x3000 and a PT at 0x4000 to the physical page at 0x5000.
func x64Image() tableImage {
	img := newTableImage(16 * mem.PageSize)
	img.put64(0x1000+1*8, 0x2000|flagsRWU)
	img.put64(0x2000+2*8, 0x3000|flagsRWU)
	img.put64(0x3000+3*8, 0x4000|flagsRWU)
	img.put64(0x4000+4*8, 0x5000|flagsRW|uint64(FlagNoExecute))
	return img
}

func TestTranslateX64(t *testing.T) {
	pmem := x64Image().memory()

	physAddr, page, err := Translate(pmem, arch.X64, 0x1000, x64TargetAddr)
	if err != nil {
		t.Fatal(err)
	}

	if exp := (mem.PhysicalAddress{Address: 0x5400, PageSize: mem.PageSize4K}); physAddr != exp {
		t.Errorf("expected physical address %+v; got %+v", exp, physAddr)
	}

	expPage := mem.Page{Base: 0x5000, Size: mem.PageSize4K, Flags: mem.PagePresent | mem.PageWritable | mem.PageNoExecute}
	if page != expPage {
		t.Errorf("expected page %+v; got %+v", expPage, page)
	}

	expReads := []mem.Address{0x1008, 0x2010, 0x3018, 0x4020}
	if len(pmem.reads) != len(expReads) {
		t.Fatalf("expected %d entry reads; got %d", len(expReads), len(pmem.reads))
	}
	for i, exp := range expReads {
		if got := pmem.reads[i]; got.Address != exp || got.PageSize != mem.PageSize4K {
			t.Errorf("[read %d] expected entry read at %s; got %+v", i, exp, got)
		}
	}
}

func TestTranslateX64LargePages(t *testing.T) {
	specs := []struct {
		setup       func(tableImage)
		expPhysAddr mem.Address
		expPageSize mem.Size
		expReads    int
	}{
		{
			// 2M page at the PD level
			func(img tableImage) { img.put64(0x3000+3*8, 0x0060_0000|flagsRW|uint64(FlagHugePage)) },
			0x0060_0000 + 0x4400,
			mem.PageSize2M,
			3,
		},
		{
			// 1G page at the PDPT level
			func(img tableImage) { img.put64(0x2000+2*8, 0x4000_0000|flagsRWU|uint64(FlagHugePage)) },
			0x4000_0000 + 0x0060_4400,
			mem.PageSize1G,
			2,
		},
		{
			// PS is reserved in PML4 entries and must be ignored
			func(img tableImage) { img.put64(0x1000+1*8, 0x2000|flagsRWU|uint64(FlagHugePage)) },
			0x5400,
			mem.PageSize4K,
			4,
		},
	}

	for specIndex, spec := range specs {
		img := x64Image()
		spec.setup(img)
		pmem := img.memory()

		physAddr, page, err := Translate(pmem, arch.X64, 0x1000, x64TargetAddr)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if physAddr.Address != spec.expPhysAddr {
			t.Errorf("[spec %d] expected physical address %s; got %s", specIndex, spec.expPhysAddr, physAddr.Address)
		}

		if page.Size != spec.expPageSize || physAddr.PageSize != spec.expPageSize {
			t.Errorf("[spec %d] expected page size 0x%x; got 0x%x (tag 0x%x)", specIndex, spec.expPageSize, page.Size, physAddr.PageSize)
		}

		if got := len(pmem.reads); got != spec.expReads {
			t.Errorf("[spec %d] expected walk to stop after %d reads; got %d", specIndex, spec.expReads, got)
		}
	}
}

func TestTranslateNotPresent(t *testing.T) {
	entries := []mem.Address{0x1000 + 1*8, 0x2000 + 2*8, 0x3000 + 3*8, 0x4000 + 4*8}

	for specIndex, entryAddr := range entries {
		img := x64Image()
		img[entryAddr] &^= byte(FlagPresent)

		physAddr, _, err := Translate(img.memory(), arch.X64, 0x1000, x64TargetAddr)
		if err != ErrNotPresent {
			t.Errorf("[spec %d] expected to get ErrNotPresent; got %v (phys addr %s)", specIndex, err, physAddr)
		}
	}
}

func TestTranslateInvalidInput(t *testing.T) {
	specs := []struct {
		arch     arch.Architecture
		dtb      mem.Address
		virtAddr mem.Address
		expErr   error
	}{
		{arch.X64, mem.Null, x64TargetAddr, ErrInvalidDTB},
		{arch.X64, 0x1001, x64TargetAddr, ErrInvalidDTB},
		{arch.X64, 0x1000, 0x0000_8000_0000_0000, ErrInvalidAddress},
		{arch.X64, 0x1000, 0xffff_7fff_ffff_ffff, ErrInvalidAddress},
		{arch.X86, 0x1010, 0x1000, ErrInvalidDTB},
		{arch.X86, 0x1_0000_0000, 0x1000, ErrInvalidDTB},
		{arch.X86, 0x1000, 0x1_0000_0000, ErrInvalidAddress},
		{arch.X86PAE, 0x1010, 0x1000, ErrInvalidDTB},
		{arch.X86PAE, 0x1000, 0x1_0000_0000, ErrInvalidAddress},
		{arch.Architecture(0), 0x1000, 0x1000, ErrUnsupportedArch},
	}

	for specIndex, spec := range specs {
		pmem := newTableImage(mem.PageSize).memory()

		_, _, err := Translate(pmem, spec.arch, spec.dtb, spec.virtAddr)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if len(pmem.reads) != 0 {
			t.Errorf("[spec %d] expected no physical reads; got %d", specIndex, len(pmem.reads))
		}
	}
}

func TestTranslateCanonicalHighHalf(t *testing.T) {
	img := newTableImage(16 * mem.PageSize)
	// 0xffff_8000_0000_1000 -> PML4 index 256, PDPT 0, PD 0, PT 1
	img.put64(0x1000+256*8, 0x2000|flagsRW)
	img.put64(0x2000, 0x3000|flagsRW)
	img.put64(0x3000, 0x4000|flagsRW)
	img.put64(0x4000+1*8, 0x7000|flagsRW)

	physAddr, page, err := Translate(img.memory(), arch.X64, 0x1000, 0xffff_8000_0000_1abc)
	if err != nil {
		t.Fatal(err)
	}

	if exp := mem.Address(0x7abc); physAddr.Address != exp {
		t.Errorf("expected physical address %s; got %s", exp, physAddr.Address)
	}

	if page.Flags.Has(mem.PageUser) {
		t.Error("expected supervisor page")
	}
}

func TestTranslateBackendFailure(t *testing.T) {
	_, _, err := Translate(failingMemory{}, arch.X64, 0x1000, x64TargetAddr)

	if !errors.Is(err, ErrPageTableRead) {
		t.Fatalf("expected ErrPageTableRead; got %v", err)
	}

	if !errors.Is(err, errDeviceGone) {
		t.Errorf("expected backend error to wrap the device error; got %v", err)
	}

	if core.IsKind(err, core.KindNotPresent) || !core.IsKind(err, core.KindBackend) {
		t.Errorf("expected a backend error kind; got %s", core.KindOf(err))
	}
}

func TestTranslateX86(t *testing.T) {
	// 0x0040_2abc -> PD index 1, PT index 2, offset 0xabc
	const virtAddr = mem.Address(0x0040_2abc)

	specs := []struct {
		pde         uint32
		expPhysAddr mem.Address
		expPage     mem.Page
		expReads    int
	}{
		{
			0x2000 | uint32(flagsRWU),
			0x3abc,
			mem.Page{Base: 0x3000, Size: mem.PageSize4K, Flags: mem.PagePresent | mem.PageUser},
			2,
		},
		{
			// 4M page with PSE-36 bits selecting physical bits 32-39 = 1
			0x0080_0000 | 1<<13 | uint32(flagsRW|uint64(FlagHugePage)),
			0x1_0080_2abc,
			mem.Page{Base: 0x1_0080_0000, Size: mem.PageSize4M, Flags: mem.PagePresent | mem.PageWritable},
			1,
		},
	}

	for specIndex, spec := range specs {
		img := newTableImage(8 * mem.PageSize)
		img.put32(0x1000+1*4, spec.pde)
		img.put32(0x2000+2*4, 0x3000|uint32(FlagPresent|FlagUserAccessible))
		pmem := img.memory()

		physAddr, page, err := Translate(pmem, arch.X86, 0x1000, virtAddr)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if physAddr.Address != spec.expPhysAddr {
			t.Errorf("[spec %d] expected physical address %s; got %s", specIndex, spec.expPhysAddr, physAddr.Address)
		}
		if page != spec.expPage {
			t.Errorf("[spec %d] expected page %+v; got %+v", specIndex, spec.expPage, page)
		}
		if len(pmem.reads) != spec.expReads {
			t.Errorf("[spec %d] expected %d reads; got %d", specIndex, spec.expReads, len(pmem.reads))
		}
	}
}

func TestTranslateX86PAE(t *testing.T) {
	// 0x8040_3123 -> PDPT index 2, PD index 2, PT index 3, offset 0x123
	const (
		virtAddr = mem.Address(0x8040_3123)
		dtb      = mem.Address(0x1020)
	)

	specs := []struct {
		pde         uint64
		expPhysAddr mem.Address
		expPage     mem.Page
	}{
		{
			0x3000 | flagsRWU,
			0x4123,
			mem.Page{Base: 0x4000, Size: mem.PageSize4K, Flags: mem.PagePresent | mem.PageWritable | mem.PageUser | mem.PageNoExecute},
		},
		{
			0x0060_0000 | flagsRW | uint64(FlagHugePage),
			0x0060_3123,
			mem.Page{Base: 0x0060_0000, Size: mem.PageSize2M, Flags: mem.PagePresent | mem.PageWritable},
		},
	}

	for specIndex, spec := range specs {
		img := newTableImage(8 * mem.PageSize)
		// PDPT entries only carry the present bit
		img.put64(dtb+2*8, 0x2000|uint64(FlagPresent))
		img.put64(0x2000+2*8, spec.pde)
		img.put64(0x3000+3*8, 0x4000|flagsRWU|uint64(FlagNoExecute))

		physAddr, page, err := Translate(img.memory(), arch.X86PAE, dtb, virtAddr)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if physAddr.Address != spec.expPhysAddr {
			t.Errorf("[spec %d] expected physical address %s; got %s", specIndex, spec.expPhysAddr, physAddr.Address)
		}
		if page != spec.expPage {
			t.Errorf("[spec %d] expected page %+v; got %+v", specIndex, spec.expPage, page)
		}
	}

	img := newTableImage(8 * mem.PageSize)
	if _, _, err := Translate(img.memory(), arch.X86PAE, dtb, virtAddr); err != ErrNotPresent {
		t.Errorf("expected ErrNotPresent for an empty PDPT; got %v", err)
	}
}

func TestTranslateNotPresent32(t *testing.T) {
	specs := []struct {
		descr    string
		arch     arch.Architecture
		dtb      mem.Address
		virtAddr mem.Address
		// entries to write; the entry at clearIndex has its present bit
		// cleared
		entries    []mem.Address
		values     []uint64
		clearIndex int
	}{
		{"x86 PD", arch.X86, 0x1000, 0x0040_2abc, []mem.Address{0x1004, 0x2008}, []uint64{0x2000, 0x3000}, 0},
		{"x86 PT", arch.X86, 0x1000, 0x0040_2abc, []mem.Address{0x1004, 0x2008}, []uint64{0x2000, 0x3000}, 1},
		{"pae PD", arch.X86PAE, 0x1020, 0x8040_3123, []mem.Address{0x1030, 0x2010, 0x3018}, []uint64{0x2000, 0x3000, 0x4000}, 1},
		{"pae PT", arch.X86PAE, 0x1020, 0x8040_3123, []mem.Address{0x1030, 0x2010, 0x3018}, []uint64{0x2000, 0x3000, 0x4000}, 2},
	}

	for specIndex, spec := range specs {
		img := newTableImage(8 * mem.PageSize)
		for i, entryAddr := range spec.entries {
			value := spec.values[i] | flagsRWU
			if spec.arch == arch.X86PAE && i == 0 {
				value = spec.values[i] | uint64(FlagPresent)
			}
			if i == spec.clearIndex {
				value &^= uint64(FlagPresent)
			}

			if spec.arch == arch.X86 {
				img.put32(entryAddr, uint32(value))
			} else {
				img.put64(entryAddr, value)
			}
		}
		pmem := img.memory()

		_, _, err := Translate(pmem, spec.arch, spec.dtb, spec.virtAddr)
		if err != ErrNotPresent {
			t.Errorf("[spec %d] %s: expected ErrNotPresent; got %v", specIndex, spec.descr, err)
			continue
		}

		if exp := spec.clearIndex + 1; len(pmem.reads) != exp {
			t.Errorf("[spec %d] %s: expected the walk to stop after %d reads; got %d", specIndex, spec.descr, exp, len(pmem.reads))
		}
		if last := pmem.reads[len(pmem.reads)-1].Address; last != spec.entries[spec.clearIndex] {
			t.Errorf("[spec %d] %s: expected the last read at %s; got %s", specIndex, spec.descr, spec.entries[spec.clearIndex], last)
		}
	}
}

func TestTranslatePreservesPageOffset(t *testing.T) {
	img := x64Image()
	// Map PML4[0] -> PDPT[0] as a 1G page and PD 0x3000[0] as a 2M page
	img.put64(0x1000, 0x6000|flagsRWU)
	img.put64(0x6000, 0x8000_0000|flagsRWU|uint64(FlagHugePage))
	img.put64(0x6000+1*8, 0x3000|flagsRWU)
	img.put64(0x3000, 0x0020_0000|flagsRWU|uint64(FlagHugePage))
	pmem := img.memory()

	virtAddrs := []mem.Address{
		x64TargetAddr, x64TargetAddr + 1, x64TargetAddr + 0xbff,
		0x0, 0x1234_5678, 0x3fff_ffff,
		0x4000_0000, 0x4000_0001, 0x401f_ffff,
	}

	for _, virtAddr := range virtAddrs {
		physAddr, page, err := Translate(pmem, arch.X64, 0x1000, virtAddr)
		if err != nil {
			t.Errorf("[%s] unexpected error: %v", virtAddr, err)
			continue
		}

		if exp, got := virtAddr.PageOffset(page.Size), physAddr.Address.PageOffset(page.Size); got != exp {
			t.Errorf("[%s] expected page offset 0x%x; got 0x%x", virtAddr, exp, got)
		}

		if !page.Contains(physAddr.Address) {
			t.Errorf("[%s] expected page %+v to contain %s", virtAddr, page, physAddr.Address)
		}
	}
}
