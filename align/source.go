package align

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Source iterates over the records of one alignment file. Usage:
//
//	for src.Scan() {
//	  rec := src.Record()
//	}
//	err := src.Close()
type Source interface {
	// Aligner returns the default aligner of the records.
	Aligner() Aligner
	// Header returns the SAM header.
	Header() *sam.Header
	// Scan advances to the next record. It returns false at the end of the
	// input or on error.
	Scan() bool
	// Record returns the current record. Valid only after Scan returns true.
	Record() *Record
	// Err returns the error that stopped Scan, if any.
	Err() error
	// Close releases the source and returns any error seen.
	Close() error
}

type samReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

type readerSource struct {
	aligner Aligner
	r       samReader
	rec     *Record
	err     error
	closer  func() error
}

// NewReaderSource reads SAM text, or BAM when isBAM is set, from r.
func NewReaderSource(r io.Reader, a Aligner, isBAM bool) (Source, error) {
	if isBAM {
		br, err := bam.NewReader(r, 1)
		if err != nil {
			return nil, err
		}
		return &readerSource{aligner: a, r: br, closer: br.Close}, nil
	}
	sr, err := sam.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &readerSource{aligner: a, r: sr}, nil
}

// OpenSource opens the SAM or BAM file at path. Files with a ".bam" suffix
// are read as BAM.
func OpenSource(ctx context.Context, path string, a Aligner) (Source, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open alignments", path)
	}
	src, err := NewReaderSource(in.Reader(ctx), a, strings.HasSuffix(path, ".bam"))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, "read alignments", path)
	}
	rs := src.(*readerSource)
	inner := rs.closer
	rs.closer = func() error {
		var once errors.Once
		if inner != nil {
			once.Set(inner())
		}
		once.Set(in.Close(ctx))
		return once.Err()
	}
	return rs, nil
}

func (s *readerSource) Aligner() Aligner    { return s.aligner }
func (s *readerSource) Header() *sam.Header { return s.r.Header() }
func (s *readerSource) Record() *Record     { return s.rec }

func (s *readerSource) Scan() bool {
	if s.err != nil {
		return false
	}
	r, err := s.r.Read()
	if err != nil {
		if err != io.EOF {
			s.err = err
		}
		s.rec = nil
		return false
	}
	s.rec = NewRecord(r, s.aligner)
	return true
}

func (s *readerSource) Err() error { return s.err }

func (s *readerSource) Close() error {
	if s.closer == nil {
		return s.err
	}
	var once errors.Once
	once.Set(s.err)
	once.Set(s.closer())
	return once.Err()
}

type fakeSource struct {
	aligner Aligner
	header  *sam.Header
	recs    []*sam.Record
	i       int
	rec     *Record
}

// NewFakeSource returns a Source over in-memory records, for tests.
func NewFakeSource(a Aligner, header *sam.Header, recs []*sam.Record) Source {
	return &fakeSource{aligner: a, header: header, recs: recs, i: -1}
}

func (s *fakeSource) Aligner() Aligner    { return s.aligner }
func (s *fakeSource) Header() *sam.Header { return s.header }
func (s *fakeSource) Record() *Record     { return s.rec }
func (s *fakeSource) Err() error          { return nil }
func (s *fakeSource) Close() error        { return nil }

func (s *fakeSource) Scan() bool {
	s.i++
	if s.i >= len(s.recs) {
		s.rec = nil
		return false
	}
	s.rec = NewRecord(s.recs[s.i], s.aligner)
	return true
}
