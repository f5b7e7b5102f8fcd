package fastq

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/pgzip"
)

// inputFile is an open, possibly compressed FASTQ input.
type inputFile struct {
	f file.File
	r io.Reader
	u io.ReadCloser
}

func openInput(ctx context.Context, path string) (*inputFile, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open fastq", path)
	}
	in := &inputFile{f: f, r: f.Reader(ctx)}
	if u := compress.NewReaderPath(in.r, f.Name()); u != nil {
		in.u = u
		in.r = u
	}
	return in, nil
}

func (in *inputFile) close(ctx context.Context) error {
	var once errors.Once
	if in.u != nil {
		once.Set(in.u.Close())
	}
	once.Set(in.f.Close(ctx))
	return once.Err()
}

// outputFile is a FASTQ output, gzip-compressed when its name ends in
// ".gz".
type outputFile struct {
	f  file.File
	gz *pgzip.Writer
	w  *Writer
}

func createOutput(ctx context.Context, path string) (*outputFile, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create fastq", path)
	}
	out := &outputFile{f: f}
	var w io.Writer = f.Writer(ctx)
	if strings.HasSuffix(path, ".gz") {
		out.gz = pgzip.NewWriter(w)
		w = out.gz
	}
	out.w = NewWriter(w)
	return out, nil
}

func (out *outputFile) close(ctx context.Context) error {
	var once errors.Once
	once.Set(out.w.Flush())
	if out.gz != nil {
		once.Set(out.gz.Close())
	}
	once.Set(out.f.Close(ctx))
	return once.Err()
}

// Extract copies the reads whose names are in keep from the input FASTQ
// files to the output files and returns the number of reads (or pairs)
// copied. in and out hold one path for single-end data and two for
// paired data. Names are compared after ReadName normalization.
func Extract(ctx context.Context, in, out []string, keep map[string]bool) (n int, err error) {
	if len(in) != len(out) || len(in) < 1 || len(in) > 2 {
		return 0, errors.E(errors.Invalid, "fastq.Extract: need one or two inputs and matching outputs")
	}
	var (
		ins  []*inputFile
		outs []*outputFile
	)
	defer func() {
		var once errors.Once
		once.Set(err)
		for _, i := range ins {
			once.Set(i.close(ctx))
		}
		for _, o := range outs {
			once.Set(o.close(ctx))
		}
		err = once.Err()
	}()
	for i := range in {
		fin, err := openInput(ctx, in[i])
		if err != nil {
			return 0, err
		}
		ins = append(ins, fin)
		fout, err := createOutput(ctx, out[i])
		if err != nil {
			return 0, err
		}
		outs = append(outs, fout)
	}

	var r1, r2 Read
	if len(ins) == 1 {
		sc := NewScanner(ins[0].r)
		for sc.Scan(&r1) {
			if !keep[r1.Name()] {
				continue
			}
			if err := outs[0].w.Write(&r1); err != nil {
				return n, err
			}
			n++
		}
		if err := sc.Err(); err != nil {
			return n, errors.E(err, in[0])
		}
		return n, nil
	}
	sc := NewPairScanner(ins[0].r, ins[1].r)
	for sc.Scan(&r1, &r2) {
		if !keep[r1.Name()] {
			continue
		}
		if err := outs[0].w.Write(&r1); err != nil {
			return n, err
		}
		if err := outs[1].w.Write(&r2); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, errors.E(err, in[0], in[1])
	}
	return n, nil
}
