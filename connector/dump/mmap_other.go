//go:build !unix

package dump

import (
	"io"
	"os"
)

// On platforms without mmap the dump is loaded into memory and written
// back in full on Flush.

func mapFile(file *os.File, size int64, _ bool) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, size), data); err != nil {
		return nil, err
	}
	return data, nil
}

func flushFile(file *os.File, data []byte) error {
	_, err := file.WriteAt(data, 0)
	return err
}

func unmapFile([]byte) error {
	return nil
}
