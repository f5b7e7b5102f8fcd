package tools

import (
	"context"
	"os/exec"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/tgirt/umi"
)

// TGIRT-seq adapters. Read 1 ends in the R2R adapter, read 2 in the
// reverse complement of the R1R adapter.
const (
	R1Adapter = "AAGATCGGAAGAGCACACGTCTGAACTCCAGTCAC"
	R2Adapter = "GATCGTCGGACTGTAGAACTCTGAACGTGTAGATCTCGGTGGTCGCCGTATCATT"
	// TTNR1Adapter is the read 1 adapter of libraries made with the TTN
	// primer, whose two extra bases precede the R2R sequence.
	TTNR1Adapter = "NNAAGATCGGAAGAGCACACGTCTGAACTCCAGTCAC"
	// TTNPrefix is the number of primer bases at the start of read 2 in TTN
	// libraries.
	TTNPrefix = 3
)

// cutadaptCmd is the cutadapt command line.
type cutadaptCmd struct {
	Cmd       string `buildarg:"{{if .}}{{.}}{{else}}cutadapt{{end}}"`
	Threads   int    `buildarg:"{{if .}}-j{{split}}{{.}}{{end}}"`
	MinLength int    `buildarg:"{{if .}}-m{{split}}{{.}}{{end}}"`
	Quality   int    `buildarg:"{{if .}}-q{{split}}{{.}}{{end}}"`
	Overlap   int    `buildarg:"{{if .}}-O{{split}}{{.}}{{end}}"`
	TrimN     bool   `buildarg:"{{if .}}--trim-n{{end}}"`
	Adapter   string `buildarg:"{{if .}}-a{{split}}{{.}}{{end}}"`
	Adapter2  string `buildarg:"{{if .}}-A{{split}}{{.}}{{end}}"`
	Cut2      int    `buildarg:"{{if .}}-U{{split}}{{.}}{{end}}"`
	Out       string `buildarg:"{{if .}}-o{{split}}{{.}}{{end}}"`
	PairedOut string `buildarg:"{{if .}}-p{{split}}{{.}}{{end}}"`
	R1        string `buildarg:"{{.}}"`
	R2        string `buildarg:"{{if .}}{{.}}{{end}}"`
}

func (c cutadaptCmd) BuildCommand() (*exec.Cmd, error) {
	if c.R1 == "" || c.Out == "" {
		return nil, errMissing("cutadapt")
	}
	return command(c)
}

// umiExtractCmd is the umi_tools extract command line. It moves the UMI
// from the start of read 1 to the end of the read names of both mates.
type umiExtractCmd struct {
	Cmd       string `buildarg:"{{if .}}{{.}}{{else}}umi_tools{{end}}"`
	Sub       string `buildarg:"extract"`
	Pattern   string `buildarg:"--bc-pattern={{.}}"`
	Separator string `buildarg:"--umi-separator={{.}}"`
	In        string `buildarg:"--stdin={{.}}"`
	Out       string `buildarg:"--stdout={{.}}"`
	In2       string `buildarg:"{{if .}}--read2-in={{.}}{{end}}"`
	Out2      string `buildarg:"{{if .}}--read2-out={{.}}{{end}}"`
}

func (c umiExtractCmd) BuildCommand() (*exec.Cmd, error) {
	if c.In == "" || c.Out == "" || c.Pattern == "" {
		return nil, errMissing("umi_tools extract")
	}
	return command(c)
}

// Cutadapt is the Trimmer. When a UMI length is requested, umi_tools
// extract runs first.
type Cutadapt struct {
	// MinLength is the length below which trimmed reads are discarded.
	MinLength int
	// Quality is the 3' quality cutoff.
	Quality int
}

// DefaultCutadapt holds the default trimming parameters.
var DefaultCutadapt = Cutadapt{MinLength: 15, Quality: 20}

// umiPath returns the path of the UMI-extracted copy of a trimmer output.
func umiPath(out string) string {
	return filepath.Join(filepath.Dir(out), "umi."+filepath.Base(out))
}

// Trim implements Trimmer.
func (c Cutadapt) Trim(ctx context.Context, r Runner, req TrimRequest) error {
	in1, in2 := req.R1, req.R2
	if req.UMILength > 0 {
		x := umiExtractCmd{
			Pattern:   umi.Pattern(req.UMILength),
			Separator: string(umi.Separator),
			In:        req.R1,
			Out:       umiPath(req.OutR1),
		}
		if req.Paired() {
			x.In2, x.Out2 = req.R2, umiPath(req.OutR2)
		}
		if err := run(ctx, r, x); err != nil {
			return err
		}
		in1, in2 = x.Out, x.Out2
	}
	cmd := cutadaptCmd{
		Threads:   req.Threads,
		MinLength: c.MinLength,
		Quality:   c.Quality,
		Overlap:   5,
		TrimN:     true,
		Adapter:   R1Adapter,
		Out:       req.OutR1,
		R1:        in1,
	}
	if req.TTN {
		cmd.Adapter = TTNR1Adapter
	}
	if req.Paired() {
		cmd.Adapter2 = R2Adapter
		cmd.PairedOut = req.OutR2
		cmd.R2 = in2
		if req.TTN {
			cmd.Cut2 = TTNPrefix
		}
	}
	return run(ctx, r, cmd)
}

func errMissing(tool string) error {
	return errors.E(errors.Invalid, tool+": missing required argument")
}
