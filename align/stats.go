package align

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

func (s MergeStats) String() string {
	return fmt.Sprintf("reads: %d, survived: %d, unmapped: %d, kept: %v, dropped: %v",
		s.Reads, s.Survived, s.Unmapped, s.Kept, s.Dropped)
}

// WriteStats writes s to path as a two-column TSV of metric names and
// values.
func WriteStats(ctx context.Context, path, sample string, s MergeStats) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "Couldn't create merge stats file:", path)
	}
	defer file.CloseAndReport(ctx, out, &err)

	w := tsv.NewWriter(out.Writer(ctx))
	row := func(name string, v int) {
		w.WriteString(name)
		w.WriteInt64(int64(v))
		if err == nil {
			err = w.EndLine()
		}
	}
	w.WriteString("#sample")
	w.WriteString(sample)
	err = w.EndLine()
	row("reads", s.Reads)
	row("survived", s.Survived)
	row("unmapped", s.Unmapped)
	for a := Aligner(0); a < NumAligners; a++ {
		row(a.String()+"_kept", s.Kept[a])
		row(a.String()+"_dropped", s.Dropped[a])
	}
	row("supplementary", s.Supplementary)
	row("malformed_umi", s.MalformedUMI)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return errors.E(err, "error writing to merge stats file:", path)
	}
	return nil
}
