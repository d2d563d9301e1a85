package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"memflow/core/mem"

	"gopkg.in/yaml.v2"
)

var (
	errMissingAddress = errors.New("no virtual address specified; use -va")
	errNotWritable    = errors.New("dump is read-only; use -writable")
	errNoData         = errors.New("no data specified; use -hex")
)

type command func(s *session, args []string) error

var commands map[string]command

func init() {
	commands = map[string]command{
		"scan":      scanCmd,
		"translate": translateCmd,
		"read":      readCmd,
		"write":     writeCmd,
		"disasm":    disasmCmd,
	}
}

type startBlockReport struct {
	Arch string `yaml:"arch"`
	VA   Hex    `yaml:"va"`
	DTB  Hex    `yaml:"dtb"`
}

type translationReport struct {
	VA       Hex    `yaml:"va"`
	PA       Hex    `yaml:"pa"`
	PageBase Hex    `yaml:"page_base"`
	PageSize Hex    `yaml:"page_size"`
	Flags    string `yaml:"flags"`
}

func (s *session) printYAML(v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.out.Write(out)
	return err
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func scanCmd(s *session, args []string) error {
	if err := newFlagSet("scan").Parse(args); err != nil {
		return err
	}

	sb, err := s.scan()
	if err != nil {
		return err
	}

	return s.printYAML(startBlockReport{
		Arch: sb.Arch.String(),
		VA:   Hex(sb.VA),
		DTB:  Hex(sb.DTB),
	})
}

func translateCmd(s *session, args []string) error {
	var (
		fs = newFlagSet("translate")
		va Hex
	)
	fs.Var(&va, "va", "virtual address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !isSet(fs, "va") {
		return errMissingAddress
	}

	vm, err := s.virtualMemory()
	if err != nil {
		return err
	}

	addr := mem.Address(va)
	page, err := vm.PageInfo(addr)
	if err != nil {
		return err
	}

	return s.printYAML(translationReport{
		VA:       va,
		PA:       Hex(page.Address(addr.PageOffset(page.Size)).Address),
		PageBase: Hex(page.Base),
		PageSize: Hex(page.Size),
		Flags:    page.Flags.String(),
	})
}

func readCmd(s *session, args []string) error {
	var (
		fs = newFlagSet("read")
		va Hex
		n  = fs.Uint("n", 0x100, "number of bytes")
	)
	fs.Var(&va, "va", "virtual address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !isSet(fs, "va") {
		return errMissingAddress
	}

	vm, err := s.virtualMemory()
	if err != nil {
		return err
	}

	data, err := vm.Read(mem.Address(va), mem.Size(*n))
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s (%d bytes):\n", mem.Address(va), len(data))
	w := &prefixWriter{sink: s.out, prefix: []byte("  ")}
	dumper := hex.Dumper(w)
	if _, err = dumper.Write(data); err != nil {
		return err
	}
	return dumper.Close()
}

func writeCmd(s *session, args []string) error {
	var (
		fs      = newFlagSet("write")
		va      Hex
		hexData = fs.String("hex", "", "hex encoded bytes to write")
	)
	fs.Var(&va, "va", "virtual address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !isSet(fs, "va") {
		return errMissingAddress
	}
	if *hexData == "" {
		return errNoData
	}
	if !s.cfg.Writable {
		return errNotWritable
	}

	data, err := hex.DecodeString(*hexData)
	if err != nil {
		return err
	}

	vm, err := s.virtualMemory()
	if err != nil {
		return err
	}

	if err = vm.Write(mem.Address(va), data); err != nil {
		return err
	}
	if err = s.dump.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "wrote %d bytes at %s\n", len(data), mem.Address(va))
	return nil
}

func disasmCmd(s *session, args []string) error {
	var (
		fs = newFlagSet("disasm")
		va Hex
		n  = fs.Uint("n", 64, "number of bytes")
	)
	fs.Var(&va, "va", "virtual address; defaults to the kernel entry point")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vm, err := s.virtualMemory()
	if err != nil {
		return err
	}

	addr := mem.Address(va)
	if !isSet(fs, "va") {
		sb, err := s.scan()
		if err != nil {
			return err
		}
		if sb.VA.IsNull() {
			return errMissingAddress
		}
		addr = sb.VA
	}

	code, err := vm.Read(addr, mem.Size(*n))
	if err != nil {
		return err
	}

	d, err := newDisassembler(s.cfg.Syntax, int(vm.ProcArch().Bits()))
	if err != nil {
		return err
	}

	return d.all(s.out, addr, code)
}

// isSet returns true if the named flag was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	var set bool
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
