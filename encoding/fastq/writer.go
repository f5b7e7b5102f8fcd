package fastq

import (
	"bufio"
	"io"
)

// Writer writes FASTQ records.
type Writer struct {
	w   *bufio.Writer
	n   int
	err error
}

// NewWriter creates a Writer that writes to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 256<<10)}
}

// Write writes one record. Errors are sticky.
func (w *Writer) Write(r *Read) error {
	for _, line := range [4]string{r.ID, r.Seq, r.Unk, r.Qual} {
		if w.err != nil {
			return w.err
		}
		if _, w.err = w.w.WriteString(line); w.err == nil {
			w.err = w.w.WriteByte('\n')
		}
	}
	if w.err == nil {
		w.n++
	}
	return w.err
}

// N returns the number of records written.
func (w *Writer) N() int { return w.n }

// Flush flushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}
