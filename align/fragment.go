package align

import (
	"bufio"
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/tgirt/feature"
	pkgerrors "github.com/pkg/errors"
)

// Fragment is the genomic interval of one surviving read after
// resolution. Coordinates are 0-based, half-open.
type Fragment struct {
	Chrom   string
	Start   int
	End     int
	Read    string
	MapQ    int
	Strand  feature.Strand
	Aligner Aligner
	// SmallRNA holds the small-RNA universes whose features any of the
	// read's qualifying alignments overlap. Reads with a non-empty set are
	// re-aligned against the combined tRNA/rRNA index.
	SmallRNA feature.UniverseSet
}

// ConvertOpts configures ToFragments.
type ConvertOpts struct {
	Strandedness Strandedness
}

// ToFragments resolves every read (see Resolve) and returns one fragment
// per read, in read order. Reads touching tRNA or rRNA features are
// flagged in Fragment.SmallRNA; their fragment remains the fallback
// placement if re-alignment finds nothing.
func ToFragments(reads []*Read, features *feature.Set, opts ConvertOpts) []Fragment {
	frags := make([]Fragment, 0, len(reads))
	for _, read := range reads {
		best := Resolve(read.Alignments)
		if best == nil {
			continue
		}
		frag := Fragment{
			Chrom:   best.Ref(),
			Start:   best.Start(),
			End:     best.End(),
			Read:    read.Name,
			MapQ:    best.MapQ(),
			Strand:  best.Strand(opts.Strandedness),
			Aligner: best.Aligner,
		}
		for _, aln := range read.Alignments {
			for _, u := range feature.SmallRNA {
				if frag.SmallRNA.Has(u) {
					continue
				}
				if len(features.Overlapping(u, aln.Ref(), aln.Start(), aln.End(), aln.Strand(opts.Strandedness))) > 0 {
					frag.SmallRNA.Add(u)
				}
			}
		}
		frags = append(frags, frag)
	}
	return frags
}

// fragmentHeader is the header row of a fragment file.
var fragmentHeader = []string{"#chrom", "start", "end", "read", "mapq", "strand", "aligner", "small_rna"}

// WriteFragments writes frags to w as TSV, with a header row.
func WriteFragments(w io.Writer, frags []Fragment) error {
	tw := tsv.NewWriter(w)
	for _, h := range fragmentHeader {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, f := range frags {
		tw.WriteString(f.Chrom)
		tw.WriteInt64(int64(f.Start))
		tw.WriteInt64(int64(f.End))
		tw.WriteString(f.Read)
		tw.WriteInt64(int64(f.MapQ))
		tw.WriteByte(byte(f.Strand))
		tw.WriteString(f.Aligner.String())
		tw.WriteString(f.SmallRNA.String())
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type fragmentRow struct {
	Chrom    string
	Start    int
	End      int
	Read     string
	MapQ     int
	Strand   string
	Aligner  string
	SmallRNA string
}

// ReadFragments parses a fragment file written by WriteFragments.
func ReadFragments(r io.Reader) ([]Fragment, error) {
	tr := tsv.NewReader(bufio.NewReaderSize(r, 64<<10))
	tr.HasHeaderRow = true
	var (
		frags []Fragment
		row   fragmentRow
	)
	for line := 2; ; line++ {
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, pkgerrors.Wrapf(err, "fragments line %d", line)
		}
		f := Fragment{
			Chrom: row.Chrom,
			Start: row.Start,
			End:   row.End,
			Read:  row.Read,
			MapQ:  row.MapQ,
		}
		var err error
		if f.Strand, err = feature.ParseStrand(row.Strand); err != nil {
			return nil, pkgerrors.Wrapf(err, "fragments line %d", line)
		}
		if f.Aligner, err = ParseAligner(row.Aligner); err != nil {
			return nil, pkgerrors.Wrapf(err, "fragments line %d", line)
		}
		if f.SmallRNA, err = feature.ParseUniverseSet(row.SmallRNA); err != nil {
			return nil, pkgerrors.Wrapf(err, "fragments line %d", line)
		}
		frags = append(frags, f)
	}
	return frags, nil
}

// WriteFragmentFile writes frags to path.
func WriteFragmentFile(ctx context.Context, path string, frags []Fragment) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = WriteFragments(out.Writer(ctx), frags); err != nil {
		return errors.E(err, "write", path)
	}
	return nil
}

// ReadFragmentFile reads the fragment file at path.
func ReadFragmentFile(ctx context.Context, path string) (frags []Fragment, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if frags, err = ReadFragments(in.Reader(ctx)); err != nil {
		return nil, errors.E(err, path)
	}
	return frags, nil
}
