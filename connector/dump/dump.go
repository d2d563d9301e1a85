// Package dump provides a physical memory backend for raw memory dump
// files. The file offset of every byte equals its physical address.
package dump

import (
	"fmt"
	"memflow/core"
	"memflow/core/mem"
	"os"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrOpen is returned when the dump file cannot be opened or mapped.
	ErrOpen = &core.Error{Module: "dump", Kind: core.KindBackend, Message: "unable to open dump"}

	// ErrEmpty is returned when opening a zero-length dump file.
	ErrEmpty = &core.Error{Module: "dump", Kind: core.KindBackend, Message: "dump file is empty"}

	// ErrClosed is returned by accesses to a closed dump.
	ErrClosed = &core.Error{Module: "dump", Kind: core.KindBackend, Message: "dump is closed"}

	// ErrOutOfRange is returned for accesses beyond the end of the dump.
	ErrOutOfRange = &core.Error{Module: "dump", Kind: core.KindBackend, Message: "physical access beyond end of dump"}

	// ErrFlush is returned when modified pages cannot be written back.
	ErrFlush = &core.Error{Module: "dump", Kind: core.KindBackend, Message: "unable to flush dump"}
)

// Dump is a PhysicalMemory backed by a memory mapped dump file. Concurrent
// reads are safe; writes must not race with other accesses to the same
// range.
type Dump struct {
	path     string
	file     *os.File
	data     []byte
	writable bool
}

var _ mem.PhysicalMemory = (*Dump)(nil)

// Open maps the dump file at path. If writable is false the mapping is
// read-only and PhysWrite fails with mem.ErrReadOnly.
func Open(path string, writable bool) (*Dump, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, core.Wrap(ErrOpen, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, core.Wrap(ErrOpen, err)
	}

	if info.Size() == 0 {
		_ = file.Close()
		return nil, ErrEmpty
	}

	data, err := mapFile(file, info.Size(), writable)
	if err != nil {
		_ = file.Close()
		return nil, core.Wrap(ErrOpen, err)
	}

	log.WithFields(log.Fields{
		"path":     path,
		"size":     info.Size(),
		"writable": writable,
	}).Debug("mapped memory dump")

	return &Dump{path: path, file: file, data: data, writable: writable}, nil
}

// Path returns the path of the dump file.
func (d *Dump) Path() string {
	return d.path
}

// Size returns the size of the dump.
func (d *Dump) Size() mem.Size {
	return mem.Size(len(d.data))
}

// Writable returns true if the dump was opened for writing.
func (d *Dump) Writable() bool {
	return d.writable
}

// PhysRead implements mem.PhysicalMemory.
func (d *Dump) PhysRead(addr mem.PhysicalAddress, buf []byte) error {
	off, err := d.bounds(addr.Address, len(buf))
	if err != nil {
		return err
	}

	copy(buf, d.data[off:])
	return nil
}

// PhysWrite implements mem.PhysicalMemory.
func (d *Dump) PhysWrite(addr mem.PhysicalAddress, data []byte) error {
	if !d.writable {
		return mem.ErrReadOnly
	}

	off, err := d.bounds(addr.Address, len(data))
	if err != nil {
		return err
	}

	copy(d.data[off:], data)
	return nil
}

// Flush writes modified pages back to the dump file.
func (d *Dump) Flush() error {
	if d.data == nil {
		return ErrClosed
	}
	if !d.writable {
		return nil
	}

	if err := flushFile(d.file, d.data); err != nil {
		return core.Wrap(ErrFlush, err)
	}
	return nil
}

// Close flushes pending writes and releases the mapping and the file.
func (d *Dump) Close() error {
	if d.data == nil {
		return ErrClosed
	}

	flushErr := d.Flush()
	unmapErr := unmapFile(d.data)
	d.data = nil
	closeErr := d.file.Close()

	switch {
	case flushErr != nil:
		return flushErr
	case unmapErr != nil:
		return core.Wrap(ErrClosed, unmapErr)
	case closeErr != nil:
		return core.Wrap(ErrClosed, closeErr)
	}
	return nil
}

func (d *Dump) bounds(addr mem.Address, length int) (uint64, error) {
	if d.data == nil {
		return 0, ErrClosed
	}

	end := uint64(addr) + uint64(length)
	if end < uint64(addr) || end > uint64(len(d.data)) {
		return 0, core.Wrap(ErrOutOfRange, fmt.Errorf("range [%s, 0x%x) exceeds dump size 0x%x", addr, end, len(d.data)))
	}
	return uint64(addr), nil
}
