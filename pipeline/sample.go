package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/grailbio/tgirt/feature"
	"github.com/grailbio/tgirt/tools"
)

// Suffixes removed from the read 1 file name, at most one per group, to
// get the sample name.
var (
	compressSuffixes = []string{".gz"}
	fastqSuffixes    = []string{".fastq", ".fq"}
	mateSuffixes     = []string{"_R1_001", "_R1", ".1", "_1"}
)

func trimFirst(s string, suffixes []string) string {
	for _, x := range suffixes {
		if strings.HasSuffix(s, x) {
			return strings.TrimSuffix(s, x)
		}
	}
	return s
}

// SampleName derives the sample name from the read 1 FASTQ path:
// "data/S1_R1_001.fastq.gz" is "S1".
func SampleName(r1 string) string {
	name := filepath.Base(r1)
	name = trimFirst(name, compressSuffixes)
	name = trimFirst(name, fastqSuffixes)
	name = trimFirst(name, mateSuffixes)
	return name
}

// Layout is the directory structure of a run.
type Layout struct {
	Root     string
	Trimmed  string
	Hisat    string
	Bowtie2  string
	MergeBam string
	// Remap is the work area of the remap stage.
	Remap string
	// Counts holds the count tables.
	Counts string
}

// NewLayout returns the layout under out.
func NewLayout(out string) Layout {
	merge := filepath.Join(out, "mergeBam")
	return Layout{
		Root:     out,
		Trimmed:  filepath.Join(out, "trimmed"),
		Hisat:    filepath.Join(out, "hisat"),
		Bowtie2:  filepath.Join(out, "bowtie2"),
		MergeBam: merge,
		Remap:    filepath.Join(merge, "tRNA_remap"),
		Counts:   filepath.Join(merge, "counts"),
	}
}

// Dirs lists the directories of l, parents first.
func (l Layout) Dirs() []string {
	return []string{l.Root, l.Trimmed, l.Hisat, l.Bowtie2, l.MergeBam, l.Remap, l.Counts}
}

// Sample is one sample processed by a run. It is immutable apart from
// the record of completed stages.
type Sample struct {
	Name   string
	Opts   Opts
	Layout Layout

	completed map[StageID]bool
}

// NewSample creates the sample described by opts.
func NewSample(opts Opts) *Sample {
	return &Sample{
		Name:      SampleName(opts.R1),
		Opts:      opts,
		Layout:    NewLayout(opts.OutDir),
		completed: map[StageID]bool{},
	}
}

// MarkCompleted records that stage id finished.
func (s *Sample) MarkCompleted(id StageID) { s.completed[id] = true }

// Completed reports whether stage id finished in this run.
func (s *Sample) Completed(id StageID) bool { return s.completed[id] }

func (s *Sample) path(dir, suffix string) string {
	return filepath.Join(dir, s.Name+suffix)
}

// mates expands a '%' mate pattern into one path per mate.
func (s *Sample) mates(pattern string) []string {
	if !s.Opts.Paired() {
		return []string{pattern}
	}
	return []string{tools.MatePath(pattern, 1), tools.MatePath(pattern, 2)}
}

// matePattern returns a FASTQ path pattern: "%" stands for the mate
// number of paired data.
func (s *Sample) matePattern(dir, suffix string) string {
	if !s.Opts.Paired() {
		return s.path(dir, suffix+".fq.gz")
	}
	return s.path(dir, suffix+".%.fq.gz")
}

// UserInputs lists the input files given by the user.
func (s *Sample) UserInputs() []string {
	in := []string{s.Opts.R1}
	if s.Opts.Paired() {
		in = append(in, s.Opts.R2)
	}
	return append(in, s.Opts.SpliceSites, s.Opts.FeatureDir)
}

// Trimmed returns the trimmed FASTQ files.
func (s *Sample) Trimmed() []string { return s.mates(s.matePattern(s.Layout.Trimmed, "")) }

// PremapSAM returns the premap alignments against the index of
// universe u, a small-RNA universe.
func (s *Sample) PremapSAM(u feature.Universe) string {
	return s.path(s.Layout.Bowtie2, "."+u.String()+".sam")
}

// premapUnaligned returns the unaligned pattern of the premap against u.
func (s *Sample) premapUnaligned(u feature.Universe) string {
	return s.matePattern(s.Layout.Bowtie2, "."+u.String()+"_unmapped")
}

// PremapUnaligned returns the reads that aligned to neither small-RNA
// index. They are the input of both genome aligners.
func (s *Sample) PremapUnaligned() []string {
	return s.mates(s.premapUnaligned(feature.RRNA))
}

// SpliceSAM returns the splice aligner output.
func (s *Sample) SpliceSAM() string { return s.path(s.Layout.Hisat, ".sam") }

// LocalSAM returns the local aligner output.
func (s *Sample) LocalSAM() string { return s.path(s.Layout.Bowtie2, ".sam") }

// MergedBAM returns the merged and filtered alignments.
func (s *Sample) MergedBAM() string { return s.path(s.Layout.MergeBam, ".bam") }

// MergeStats returns the merge statistics file.
func (s *Sample) MergeStats() string { return s.path(s.Layout.MergeBam, ".merge_stats.tsv") }

// DedupBAM returns the UMI-deduplicated alignments.
func (s *Sample) DedupBAM() string { return s.path(s.Layout.MergeBam, ".dedup.bam") }

// CountBAM returns the BAM converted to fragments: the deduplicated one
// when deduplication runs, the merged one otherwise.
func (s *Sample) CountBAM() string {
	if s.Opts.Dedup() {
		return s.DedupBAM()
	}
	return s.MergedBAM()
}

// Fragments returns the fragment file.
func (s *Sample) Fragments() string { return s.path(s.Layout.MergeBam, ".fragments.tsv") }

// RemapCandidates returns the FASTQ files of the reads sent to remap.
func (s *Sample) RemapCandidates() []string {
	return s.mates(s.matePattern(s.Layout.Remap, ".candidates"))
}

// RemapSAM returns the combined-index alignments.
func (s *Sample) RemapSAM() string { return s.path(s.Layout.Remap, ".sam") }

// Assignments returns the assignment file.
func (s *Sample) Assignments() string { return s.path(s.Layout.Remap, ".assignments.rio") }

// CountTable returns the count table of universe u.
func (s *Sample) CountTable(u feature.Universe) string {
	return s.path(s.Layout.Counts, "."+u.String()+".tsv")
}
