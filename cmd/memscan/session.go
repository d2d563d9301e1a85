package main

import (
	"errors"
	"fmt"
	"io"
	"memflow/connector/dump"
	"memflow/core/arch"
	"memflow/core/mem"
	"memflow/core/vat"
	"memflow/core/virt"
	"memflow/lowstub"

	log "github.com/sirupsen/logrus"
)

var (
	errNoDump       = errors.New("no dump specified; use -dump or the dump key of the config file")
	errArchMismatch = errors.New("architecture does not match the scanned kernel")
)

type engine = virt.VirtualFromPhysical[*dump.Dump, *vat.Cache[*vat.TranslateArch]]

// session holds the state shared by the commands of a single invocation.
type session struct {
	cfg  *Config
	out  io.Writer
	dump *dump.Dump

	// populated on first use
	startBlock *lowstub.StartBlock
	engine     *engine
}

func openSession(cfg *Config, out io.Writer) (*session, error) {
	if cfg.Dump == "" {
		return nil, errNoDump
	}

	d, err := dump.Open(cfg.Dump, cfg.Writable)
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, out: out, dump: d}, nil
}

func (s *session) close() {
	if err := s.dump.Close(); err != nil {
		log.WithError(err).Warn("unable to close dump")
	}
}

// scan runs the low stub scanner on the dump.
func (s *session) scan() (lowstub.StartBlock, error) {
	if s.startBlock != nil {
		return *s.startBlock, nil
	}

	sb, err := lowstub.Find(s.dump)
	if err != nil {
		return lowstub.StartBlock{}, err
	}

	s.startBlock = &sb
	return sb, nil
}

// kernel returns the translation context of the kernel. The architecture
// and DTB are taken from the configuration when both are set and scanned
// for otherwise. A configured architecture must match the scanned one.
func (s *session) kernel() (lowstub.StartBlock, error) {
	var requested arch.Architecture
	if s.cfg.Arch != "" {
		a, err := arch.Parse(s.cfg.Arch)
		if err != nil {
			return lowstub.StartBlock{}, err
		}
		requested = a
	}

	if requested.Valid() && s.cfg.DTB != 0 {
		// Only a scan can provide the anchor address.
		return lowstub.StartBlock{Arch: requested, DTB: mem.Address(s.cfg.DTB)}, nil
	}

	sb, err := s.scan()
	if err != nil {
		return lowstub.StartBlock{}, err
	}

	if requested.Valid() && sb.Arch != requested {
		return lowstub.StartBlock{}, fmt.Errorf("%w: requested %s, found %s", errArchMismatch, requested, sb.Arch)
	}

	if s.cfg.DTB != 0 && mem.Address(s.cfg.DTB) != sb.DTB {
		log.WithFields(log.Fields{
			"requested": mem.Address(s.cfg.DTB),
			"found":     sb.DTB,
		}).Warn("ignoring dtb without an architecture; using the scanned dtb")
	}

	return sb, nil
}

// virtualMemory returns the engine for the kernel address space.
func (s *session) virtualMemory() (*engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}

	sb, err := s.kernel()
	if err != nil {
		return nil, err
	}

	cache := vat.NewCache(vat.NewTranslateArch(sb.Arch), s.cfg.CacheSize)
	info := sb.ProcessInfo()
	s.engine = virt.WithVat(s.dump, info.SysArch(), info.ProcArch(), info.DTB(), cache)

	log.WithFields(log.Fields{
		"arch": sb.Arch,
		"dtb":  sb.DTB,
	}).Debug("using kernel address space")

	return s.engine, nil
}
