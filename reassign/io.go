package reassign

// Assignments are stored in a recordio file so that counting can run on
// its own against a completed remap. Each record is one gob-encoded
// Assignment; the trailer holds the Stats of the run.

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "tgirtassignmentversion"
	fileVersion       = "TGIRT_ASSIGN_V1"
)

// Writer writes assignments to a recordio file.
type Writer struct {
	out  file.File
	w    recordio.Writer
	path string
	n    int
}

// NewWriter creates the assignment file at path.
func NewWriter(ctx context.Context, path string) (*Writer, error) {
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	return &Writer{out: out, w: w, path: path}, nil
}

// Write appends one assignment.
func (w *Writer) Write(a Assignment) error {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(a); err != nil {
		return errors.E(err, "encode assignment", a.Read)
	}
	w.w.Append(b.Bytes())
	w.n++
	return nil
}

// N returns the number of assignments written.
func (w *Writer) N() int { return w.n }

// Close stores stats in the trailer and closes the file. It must be called
// exactly once.
func (w *Writer) Close(ctx context.Context, stats Stats) error {
	var b bytes.Buffer
	var once errors.Once
	once.Set(gob.NewEncoder(&b).Encode(stats))
	w.w.SetTrailer(b.Bytes())
	once.Set(w.w.Finish())
	once.Set(w.out.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, "close", w.path)
	}
	return nil
}

// WriteFile writes assignments and stats to path.
func WriteFile(ctx context.Context, path string, assignments []Assignment, stats Stats) error {
	w, err := NewWriter(ctx, path)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := w.Write(a); err != nil {
			w.Close(ctx, stats) // nolint: errcheck
			return err
		}
	}
	if err := w.Close(ctx, stats); err != nil {
		return err
	}
	log.Debug.Printf("wrote %d assignments to %s", w.N(), path)
	return nil
}

// ReadFile reads back a file written by Writer.
func ReadFile(ctx context.Context, path string) (assignments []Assignment, stats Stats, err error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, stats, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	versionFound := false
	for _, kv := range r.Header() {
		if kv.Key == fileVersionHeader {
			if v, _ := kv.Value.(string); v != fileVersion {
				return nil, stats, errors.E(errors.Invalid, "assignment file", path, "has version", v, "expected", fileVersion)
			}
			versionFound = true
			break
		}
	}
	if !versionFound {
		return nil, stats, errors.E(errors.Invalid, path, "is not an assignment file")
	}
	for r.Scan() {
		var a Assignment
		if err := gob.NewDecoder(bytes.NewReader(r.Get().([]byte))).Decode(&a); err != nil {
			return nil, stats, errors.E(err, "decode", path)
		}
		assignments = append(assignments, a)
	}
	if err := r.Err(); err != nil {
		return nil, stats, errors.E(err, "scan", path)
	}
	if err := gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&stats); err != nil {
		return nil, stats, errors.E(err, "decode trailer", path)
	}
	return assignments, stats, nil
}
