package main

import "io"

// prefixWriter is an io.Writer that forwards writes to sink and inserts
// prefix in front of every line.
type prefixWriter struct {
	sink   io.Writer
	prefix []byte

	// midLine is set when the last write did not end with a newline.
	midLine bool
}

// Write implements io.Writer. The returned count does not include the
// injected prefixes.
func (w *prefixWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		if !w.midLine {
			if _, err := w.sink.Write(w.prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := len(p)
		for i, b := range p {
			if b == '\n' {
				end = i + 1
				w.midLine = false
				break
			}
		}

		n, err := w.sink.Write(p[:end])
		written += n
		if err != nil {
			return written, err
		}
		p = p[end:]
	}
	return written, nil
}
