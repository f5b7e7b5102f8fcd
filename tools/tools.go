// Package tools wraps the external programs of the pipeline. Each program
// family sits behind a capability interface (Trimmer, SpliceAligner,
// LocalAligner, Deduplicator) so alternatives can be substituted, and
// every command goes through a Runner, which executes, logs or records
// it.
//
// Command lines are built from structs tagged for github.com/biogo/external.
package tools

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/biogo/external"
	"github.com/grailbio/base/errors"
)

// TrimRequest describes one trimming run.
type TrimRequest struct {
	// R1 and R2 are the input FASTQ files. R2 is empty for single-end data.
	R1, R2 string
	// OutR1 and OutR2 receive the trimmed reads.
	OutR1, OutR2 string
	// UMILength, when positive, moves that many bases from the 5' end of
	// read 1 into the read name before trimming.
	UMILength int
	// TTN selects the adapter set of the TTN primer.
	TTN     bool
	Threads int
}

// Paired reports whether the request is for paired-end data.
func (r TrimRequest) Paired() bool { return r.R2 != "" }

// AlignRequest describes one alignment run.
type AlignRequest struct {
	Index string
	// R1 and R2 are the input FASTQ files. R2 is empty for single-end data.
	R1, R2 string
	// SAM receives the alignments.
	SAM string
	// Unaligned, if set, receives the reads that did not align. For paired
	// data it must contain a '%', which is replaced by the mate number; see
	// MatePath.
	Unaligned string
	// SpliceSites is the known splice site file. Only the splice aligner
	// uses it.
	SpliceSites string
	// MaxAlignments, when positive, asks for up to that many alignments
	// per read instead of the best one.
	MaxAlignments int
	Threads       int
}

// Paired reports whether the request is for paired-end data.
func (r AlignRequest) Paired() bool { return r.R2 != "" }

// DedupRequest describes one UMI deduplication run.
type DedupRequest struct {
	// In is an unsorted BAM file. Out receives the deduplicated BAM.
	In, Out string
	Paired  bool
	Threads int
}

// SortedPath returns the path of the sorted copy of the input BAM.
func (r DedupRequest) SortedPath() string {
	return strings.TrimSuffix(r.In, ".bam") + ".sorted.bam"
}

// Trimmer removes adapters, and UMIs when requested, from raw reads.
type Trimmer interface {
	Trim(ctx context.Context, r Runner, req TrimRequest) error
}

// SpliceAligner aligns reads to the genome allowing splicing.
type SpliceAligner interface {
	Align(ctx context.Context, r Runner, req AlignRequest) error
}

// LocalAligner aligns reads with soft clipping. It serves the small-RNA
// premap, the genomic local alignment and the combined-index remap.
type LocalAligner interface {
	Align(ctx context.Context, r Runner, req AlignRequest) error
}

// Deduplicator collapses PCR duplicates by UMI and position.
type Deduplicator interface {
	Dedup(ctx context.Context, r Runner, req DedupRequest) error
}

// MatePath returns the path of mate (1 or 2) for a '%' pattern as used by
// AlignRequest.Unaligned.
func MatePath(pattern string, mate int) string {
	return strings.Replace(pattern, "%", strconv.Itoa(mate), 1)
}

// invocation builds an Invocation from b. BuildCommand checks the
// required arguments; the first element of the command line is the
// program.
func invocation(b external.CommandBuilder) (Invocation, error) {
	cmd, err := b.BuildCommand()
	if err != nil {
		return Invocation{}, err
	}
	if len(cmd.Args) == 0 {
		return Invocation{}, errors.E(errors.Invalid, "tools: empty command line")
	}
	return Invocation{Tool: cmd.Args[0], Args: cmd.Args[1:]}, nil
}

// command builds the exec.Cmd of b. It is used by the BuildCommand
// methods.
func command(b external.CommandBuilder) (*exec.Cmd, error) {
	cl := external.Must(external.Build(b))
	return exec.Command(cl[0], cl[1:]...), nil
}

// run builds the invocation of b and runs it.
func run(ctx context.Context, r Runner, b external.CommandBuilder) error {
	inv, err := invocation(b)
	if err != nil {
		return err
	}
	return r.Run(ctx, inv)
}
