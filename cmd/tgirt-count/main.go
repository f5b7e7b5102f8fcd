package main

// tgirt-count counts the tRNA, rRNA and gene reads of one TGIRT-seq sample.
//
// The pipeline trims the reads, removes the reads that align to the tRNA
// and rRNA indices, aligns the rest with hisat2 and bowtie2, merges and
// filters the alignments, deduplicates them by UMI, and finally
// re-aligns the reads touching small-RNA features to a combined tRNA/rRNA
// index before counting.
//
// Example:
//
//    tgirt-count -1 S1_R1_001.fastq.gz -2 S1_R2_001.fastq.gz -o out \
//      -x ref/hisat/genome -y ref/bowtie2/genome -t ref/tRNA -r ref/rRNA \
//      -e ref/tRNA_rRNA -b ref/features -s ref/splicesites.txt -p 8 -umi 6
//
// Any stage can be skipped to resume a run; the outputs of the skipped
// stages must then already be in the output directory. -dry logs the
// command line of every external program without running anything.

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/tgirt/pipeline"
	"v.io/x/lib/vlog"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tgirt-count -1 <r1.fq.gz> [-2 <r2.fq.gz>] -o <outdir> -x <hisat index>
    -y <bowtie2 index> -t <tRNA index> -r <rRNA index> -e <tRNA+rRNA index>
    -b <feature dir> -s <splice sites> [flags]

Flags:
`)
	flag.PrintDefaults()
}

// printSummary writes the per-universe totals of report to stdout.
func printSummary(report *pipeline.RunReport) {
	bold := color.New(color.Bold)
	failed := color.New(color.FgRed)
	bold.Printf("%s (run %s)\n", report.Sample, report.RunID)
	for _, s := range report.Stages {
		c := color.New(color.FgGreen)
		switch s.Status {
		case pipeline.StatusSkipped:
			c = color.New(color.FgYellow)
		case pipeline.StatusFailed:
			c = failed
		}
		fmt.Printf("  %-14s ", s.Stage)
		c.Printf("%-10s", s.Status)
		fmt.Printf(" %v\n", s.Duration)
	}
	if m := report.Merge; m != nil {
		fmt.Printf("  merge: %v\n", m)
	}
	if r := report.Remap; r != nil {
		fmt.Printf("  remap: %d candidates, %d realigned\n", r.Candidates, r.Realigned)
	}
	for _, c := range report.Counts {
		fmt.Printf("  %v\n", c)
	}
	for _, inv := range report.Commands {
		fmt.Printf("  %v\n", inv)
	}
}

func main() {
	flag.Usage = usage
	opts := pipeline.DefaultOpts

	flag.StringVar(&opts.R1, "1", "", "Read 1 FASTQ file.")
	flag.StringVar(&opts.R2, "2", "", "Read 2 FASTQ file. Leave empty for single-end data.")
	flag.StringVar(&opts.OutDir, "o", "", "Output directory.")
	flag.StringVar(&opts.HisatIndex, "x", "", "hisat2 genome index prefix.")
	flag.StringVar(&opts.Bowtie2Index, "y", "", "bowtie2 genome index prefix.")
	flag.StringVar(&opts.TRNAIndex, "t", "", "bowtie2 tRNA index prefix.")
	flag.StringVar(&opts.RRNAIndex, "r", "", "bowtie2 rRNA index prefix.")
	flag.StringVar(&opts.CombinedIndex, "e", "", "bowtie2 combined tRNA and rRNA index prefix, used to re-align small-RNA reads.")
	flag.StringVar(&opts.FeatureDir, "b", "", "Directory holding tRNA.bed, rRNA.bed and genes.bed, optionally gzipped.")
	flag.StringVar(&opts.SpliceSites, "s", "", "hisat2 splice site file.")

	flag.IntVar(&opts.Threads, "p", pipeline.DefaultOpts.Threads, "Threads given to each external program.")
	flag.IntVar(&opts.UMILength, "umi", 0, "Number of UMI bases at the 5' end of read 1. 0 means no UMI.")
	flag.BoolVar(&opts.CountAll, "count-all", false, "Count all reads instead of deduplicating them by UMI. Requires -umi.")
	flag.BoolVar(&opts.TTN, "TTN", false, "Trim the adapters of the TTN primer.")
	flag.BoolVar(&opts.Dry, "dry", false, "Log the command lines without running anything.")

	flag.BoolVar(&opts.SkipTrim, "skip-trim", false, "Skip adapter trimming.")
	flag.BoolVar(&opts.SkipPremap, "skip-premap", false, "Skip the tRNA and rRNA premap.")
	flag.BoolVar(&opts.SkipSpliceAlign, "skip-hisat", false, "Skip hisat2 alignment.")
	flag.BoolVar(&opts.SkipLocalAlign, "skip-bowtie", false, "Skip bowtie2 alignment.")
	flag.BoolVar(&opts.SkipPostProcess, "skip-post-process-bam", false, "Skip merging, deduplication and fragment conversion.")
	flag.BoolVar(&opts.SkipRemap, "skip-remap", false, "Skip small-RNA re-alignment.")
	flag.BoolVar(&opts.SkipCount, "skip-count", false, "Skip counting.")

	flag.IntVar(&opts.MinMapQ, "min-mapq", pipeline.DefaultOpts.MinMapQ, "Lowest mapping quality an alignment may have.")
	flag.StringVar(&opts.Strand, "strand", pipeline.DefaultOpts.Strand, "Library strandedness: sense, antisense or none.")
	flag.StringVar(&opts.TRNAFamily, "trna-family", pipeline.DefaultOpts.TRNAFamily,
		"Regexp whose first group is the family of a tRNA name.")
	flag.StringVar(&opts.RRNAFamily, "rrna-family", pipeline.DefaultOpts.RRNAFamily,
		"Regexp whose first group is the family of an rRNA name.")
	flag.IntVar(&opts.RemapMaxAlignments, "remap-k", pipeline.DefaultOpts.RemapMaxAlignments,
		"Alignments requested per read from the combined index.")

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()
	vlog.VI(1).Infof("options: %+v", opts)

	report, err := pipeline.Run(ctx, opts, pipeline.DefaultTools())
	if report != nil {
		printSummary(report)
	}
	if err != nil {
		log.Fatal(err)
	}
}
