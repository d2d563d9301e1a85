// Command memscan inspects raw physical memory dumps. It locates the
// kernel directory table base and translates, reads, writes and
// disassembles virtual memory through the kernel page tables.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"memflow/core"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

const usage = `memscan [options] <command> [command options]

COMMANDS
  scan       locate the kernel directory table base
  translate  translate a virtual address
  read       hexdump virtual memory
  write      write hex encoded bytes to virtual memory
  disasm     disassemble virtual memory (defaults to the kernel entry point)

OPTIONS
`

var errUnknownCommand = errors.New("unknown command")

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memscan] error: %s\n", err.Error())
	if stack := core.Stack(err); stack != "" && log.IsLevelEnabled(log.DebugLevel) {
		fmt.Fprint(os.Stderr, stack)
	}
	os.Exit(1)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		exit(err)
	}
}

// run parses the global options, loads the configuration and dispatches
// the selected command.
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("memscan", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	var (
		overrides  Config
		configFile = fs.String("config", "", "YAML configuration file")
		verbose    = fs.Bool("v", false, "enable debug logging")
	)
	fs.StringVar(&overrides.Dump, "dump", "", "path to the raw physical memory dump")
	fs.BoolVar(&overrides.Writable, "writable", false, "open the dump for writing")
	fs.StringVar(&overrides.Arch, "arch", "", "page table architecture (x86, x86_pae, x64); scanned if unset")
	fs.Var(&overrides.DTB, "dtb", "directory table base; scanned if unset")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	fs.StringVar(&overrides.Syntax, "syntax", "", "disassembly syntax (intel, att, go)")
	fs.IntVar(&overrides.CacheSize, "cache", 0, "number of cached translations")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = LoadConfig(*configFile); err != nil {
			return err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		cfg.override(f.Name, &overrides)
	})
	if *verbose {
		cfg.LogLevel = log.DebugLevel.String()
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command specified")
	}

	cmd, found := commands[fs.Arg(0)]
	if !found {
		return fmt.Errorf("%w %q; expected one of: %s", errUnknownCommand, fs.Arg(0), commandNames())
	}

	s, err := openSession(cfg, out)
	if err != nil {
		return err
	}
	defer s.close()

	return cmd(s, fs.Args()[1:])
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
