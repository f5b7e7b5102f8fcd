package tools

import (
	"context"
	"os/exec"

	"github.com/grailbio/tgirt/umi"
)

type samtoolsSortCmd struct {
	Cmd     string `buildarg:"{{if .}}{{.}}{{else}}samtools{{end}}"`
	Sub     string `buildarg:"sort"`
	Threads int    `buildarg:"{{if .}}-@{{split}}{{.}}{{end}}"`
	Out     string `buildarg:"-o{{split}}{{.}}"`
	In      string `buildarg:"{{.}}"`
}

func (c samtoolsSortCmd) BuildCommand() (*exec.Cmd, error) {
	if c.In == "" || c.Out == "" {
		return nil, errMissing("samtools sort")
	}
	return command(c)
}

type samtoolsIndexCmd struct {
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}samtools{{end}}"`
	Sub string `buildarg:"index"`
	In  string `buildarg:"{{.}}"`
}

func (c samtoolsIndexCmd) BuildCommand() (*exec.Cmd, error) {
	if c.In == "" {
		return nil, errMissing("samtools index")
	}
	return command(c)
}

type umiDedupCmd struct {
	Cmd       string `buildarg:"{{if .}}{{.}}{{else}}umi_tools{{end}}"`
	Sub       string `buildarg:"dedup"`
	Paired    bool   `buildarg:"{{if .}}--paired{{end}}"`
	Separator string `buildarg:"--umi-separator={{.}}"`
	In        string `buildarg:"--stdin={{.}}"`
	Out       string `buildarg:"--stdout={{.}}"`
}

func (c umiDedupCmd) BuildCommand() (*exec.Cmd, error) {
	if c.In == "" || c.Out == "" {
		return nil, errMissing("umi_tools dedup")
	}
	return command(c)
}

// UMITools is the Deduplicator. umi_tools needs a sorted, indexed BAM, so
// the input is sorted and indexed with samtools first.
type UMITools struct{}

// Dedup implements Deduplicator.
func (UMITools) Dedup(ctx context.Context, r Runner, req DedupRequest) error {
	sorted := req.SortedPath()
	if err := run(ctx, r, samtoolsSortCmd{Threads: req.Threads, Out: sorted, In: req.In}); err != nil {
		return err
	}
	if err := run(ctx, r, samtoolsIndexCmd{In: sorted}); err != nil {
		return err
	}
	return run(ctx, r, umiDedupCmd{
		Paired:    req.Paired,
		Separator: string(umi.Separator),
		In:        sorted,
		Out:       req.Out,
	})
}
