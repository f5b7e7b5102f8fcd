package pipeline

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/feature"
)

// Opts configures a pipeline run.
type Opts struct {
	// Inputs. R2 is empty for single-end data.
	R1, R2 string
	OutDir string

	// Aligner indices. These are index prefixes, not files.
	HisatIndex    string
	Bowtie2Index  string
	TRNAIndex     string
	RRNAIndex     string
	CombinedIndex string

	// FeatureDir holds tRNA.bed, rRNA.bed and genes.bed, optionally
	// gzipped.
	FeatureDir  string
	SpliceSites string

	Threads int
	// UMILength is the number of UMI bases at the 5' end of read 1. Zero
	// means no UMI.
	UMILength int
	// CountAll counts every read instead of deduplicating by UMI. It needs
	// UMILength > 0.
	CountAll bool
	// TTN selects the TTN primer adapter set.
	TTN bool
	// Dry logs the command of every stage without running anything.
	Dry bool

	SkipTrim        bool
	SkipPremap      bool
	SkipSpliceAlign bool
	SkipLocalAlign  bool
	// SkipPostProcess skips merging, deduplication and fragment
	// conversion.
	SkipPostProcess bool
	SkipRemap       bool
	// SkipCount skips all three count stages.
	SkipCount bool

	// MinMapQ is the lowest mapping quality an alignment may have to
	// survive merging.
	MinMapQ int
	// Strand is "sense", "antisense" or "none".
	Strand string
	// TRNAFamily and RRNAFamily are the family regexps of the small-RNA
	// universes. The first capture group is the family key.
	TRNAFamily string
	RRNAFamily string
	// RemapMaxAlignments is the number of combined-index alignments
	// requested per read during remap.
	RemapMaxAlignments int
}

// DefaultOpts holds the default options.
var DefaultOpts = Opts{
	Threads:            1,
	Strand:             "sense",
	TRNAFamily:         feature.DefaultTRNAFamily,
	RRNAFamily:         feature.DefaultRRNAFamily,
	RemapMaxAlignments: 10,
}

// Paired reports whether the run is paired-end.
func (o *Opts) Paired() bool { return o.R2 != "" }

// Dedup reports whether the UMI deduplication stage runs.
func (o *Opts) Dedup() bool { return o.UMILength > 0 && !o.CountAll }

// Strandedness parses o.Strand.
func (o *Opts) Strandedness() (align.Strandedness, error) {
	s, err := align.ParseStrandedness(o.Strand)
	if err != nil {
		return s, errors.E(errors.Invalid, err)
	}
	return s, nil
}

// Policies returns the family policies of the three universes. Genes are
// always their own family.
func (o *Opts) Policies() (feature.Policies, error) {
	var p feature.Policies
	trna, err := feature.NewRegexpFamily(o.TRNAFamily)
	if err != nil {
		return p, err
	}
	rrna, err := feature.NewRegexpFamily(o.RRNAFamily)
	if err != nil {
		return p, err
	}
	p[feature.TRNA], p[feature.RRNA], p[feature.Genes] = trna, rrna, feature.IdentityFamily{}
	return p, nil
}

// Validate checks o for configuration errors. Outside dry mode it also
// checks that the input files exist.
func (o *Opts) Validate(ctx context.Context) error {
	required := []struct{ flag, value string }{
		{"-1", o.R1},
		{"-o", o.OutDir},
		{"-x", o.HisatIndex},
		{"-y", o.Bowtie2Index},
		{"-t", o.TRNAIndex},
		{"-r", o.RRNAIndex},
		{"-e", o.CombinedIndex},
		{"-b", o.FeatureDir},
		{"-s", o.SpliceSites},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("you must specify %s", r.flag))
		}
	}
	if o.Threads < 1 {
		return errors.E(errors.Invalid, "threads must be positive")
	}
	if o.UMILength < 0 {
		return errors.E(errors.Invalid, "umi length must be non-negative")
	}
	if o.CountAll && o.UMILength == 0 {
		return errors.E(errors.Invalid, "count-all is set, but umi length is 0")
	}
	if o.MinMapQ < 0 || o.MinMapQ > 255 {
		return errors.E(errors.Invalid, "min-mapq must be in [0, 255]")
	}
	if o.RemapMaxAlignments < 1 {
		return errors.E(errors.Invalid, "remap alignments per read must be positive")
	}
	if _, err := o.Strandedness(); err != nil {
		return err
	}
	if _, err := o.Policies(); err != nil {
		return err
	}
	if o.Dry {
		return nil
	}
	inputs := []string{o.R1, o.SpliceSites}
	if o.Paired() {
		inputs = append(inputs, o.R2)
	}
	for _, path := range inputs {
		if _, err := file.Stat(ctx, path); err != nil {
			return errors.E(errors.NotExist, "input", path, err)
		}
	}
	for _, u := range feature.Universes {
		if _, err := feature.FindFile(ctx, o.FeatureDir, u); err != nil {
			return err
		}
	}
	return nil
}
