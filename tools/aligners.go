package tools

import (
	"context"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
)

// hisat2Cmd is the hisat2 command line.
type hisat2Cmd struct {
	Cmd            string `buildarg:"{{if .}}{{.}}{{else}}hisat2{{end}}"`
	Threads        int    `buildarg:"{{if .}}-p{{split}}{{.}}{{end}}"`
	MaxAlignments  int    `buildarg:"{{if .}}-k{{split}}{{.}}{{end}}"`
	NoMixed        bool   `buildarg:"{{if .}}--no-mixed{{end}}"`
	NoDiscordant   bool   `buildarg:"{{if .}}--no-discordant{{end}}"`
	NoSoftClip     bool   `buildarg:"{{if .}}--no-softclip{{end}}"`
	SpliceSites    string `buildarg:"{{if .}}--known-splicesite-infile{{split}}{{.}}{{end}}"`
	Index          string `buildarg:"-x{{split}}{{.}}"`
	R1             string `buildarg:"{{if .}}-1{{split}}{{.}}{{end}}"`
	R2             string `buildarg:"{{if .}}-2{{split}}{{.}}{{end}}"`
	Unpaired       string `buildarg:"{{if .}}-U{{split}}{{.}}{{end}}"`
	UnalignedPairs string `buildarg:"{{if .}}--un-conc-gz{{split}}{{.}}{{end}}"`
	Unaligned      string `buildarg:"{{if .}}--un-gz{{split}}{{.}}{{end}}"`
	SAM            string `buildarg:"-S{{split}}{{.}}"`
}

func (c hisat2Cmd) BuildCommand() (*exec.Cmd, error) {
	if c.Index == "" || c.SAM == "" || (c.R1 == "" && c.Unpaired == "") {
		return nil, errMissing("hisat2")
	}
	return command(c)
}

// bowtie2Cmd is the bowtie2 command line.
type bowtie2Cmd struct {
	Cmd            string `buildarg:"{{if .}}{{.}}{{else}}bowtie2{{end}}"`
	Threads        int    `buildarg:"{{if .}}-p{{split}}{{.}}{{end}}"`
	Local          bool   `buildarg:"{{if .}}--local{{end}}"`
	Preset         string `buildarg:"{{if .}}{{.}}{{end}}"`
	MaxAlignments  int    `buildarg:"{{if .}}-k{{split}}{{.}}{{end}}"`
	NoMixed        bool   `buildarg:"{{if .}}--no-mixed{{end}}"`
	NoDiscordant   bool   `buildarg:"{{if .}}--no-discordant{{end}}"`
	Index          string `buildarg:"-x{{split}}{{.}}"`
	R1             string `buildarg:"{{if .}}-1{{split}}{{.}}{{end}}"`
	R2             string `buildarg:"{{if .}}-2{{split}}{{.}}{{end}}"`
	Unpaired       string `buildarg:"{{if .}}-U{{split}}{{.}}{{end}}"`
	UnalignedPairs string `buildarg:"{{if .}}--un-conc-gz{{split}}{{.}}{{end}}"`
	Unaligned      string `buildarg:"{{if .}}--un-gz{{split}}{{.}}{{end}}"`
	SAM            string `buildarg:"-S{{split}}{{.}}"`
}

func (c bowtie2Cmd) BuildCommand() (*exec.Cmd, error) {
	if c.Index == "" || c.SAM == "" || (c.R1 == "" && c.Unpaired == "") {
		return nil, errMissing("bowtie2")
	}
	return command(c)
}

// checkUnaligned checks the Unaligned pattern of a paired request.
func checkUnaligned(req AlignRequest) error {
	if req.Paired() && req.Unaligned != "" && !strings.Contains(req.Unaligned, "%") {
		return errors.E(errors.Invalid, "unaligned output", req.Unaligned, "of a paired alignment needs a '%' mate placeholder")
	}
	return nil
}

// HISAT2 is the SpliceAligner.
type HISAT2 struct{}

// Align implements SpliceAligner. Pairs must align concordantly.
func (HISAT2) Align(ctx context.Context, r Runner, req AlignRequest) error {
	if err := checkUnaligned(req); err != nil {
		return err
	}
	cmd := hisat2Cmd{
		Threads:       req.Threads,
		MaxAlignments: req.MaxAlignments,
		NoMixed:       true,
		NoDiscordant:  true,
		NoSoftClip:    true,
		SpliceSites:   req.SpliceSites,
		Index:         req.Index,
		SAM:           req.SAM,
	}
	if req.Paired() {
		cmd.R1, cmd.R2, cmd.UnalignedPairs = req.R1, req.R2, req.Unaligned
	} else {
		cmd.Unpaired, cmd.Unaligned = req.R1, req.Unaligned
	}
	return run(ctx, r, cmd)
}

// Bowtie2 is the LocalAligner.
type Bowtie2 struct {
	// Preset is the bowtie2 preset option.
	Preset string
}

// DefaultBowtie2 holds the default local alignment preset.
var DefaultBowtie2 = Bowtie2{Preset: "--very-sensitive-local"}

// Align implements LocalAligner.
func (b Bowtie2) Align(ctx context.Context, r Runner, req AlignRequest) error {
	if err := checkUnaligned(req); err != nil {
		return err
	}
	cmd := bowtie2Cmd{
		Threads:       req.Threads,
		Local:         true,
		Preset:        b.Preset,
		MaxAlignments: req.MaxAlignments,
		NoMixed:       true,
		NoDiscordant:  true,
		Index:         req.Index,
		SAM:           req.SAM,
	}
	if req.Paired() {
		cmd.R1, cmd.R2, cmd.UnalignedPairs = req.R1, req.R2, req.Unaligned
	} else {
		cmd.Unpaired, cmd.Unaligned = req.R1, req.Unaligned
	}
	return run(ctx, r, cmd)
}
