package tools

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/gosh"
	"v.io/x/lib/lookpath"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}

func record(t *testing.T, f func(r Runner) error) []Invocation {
	r := &RecordingRunner{}
	require.NoError(t, f(r))
	return r.Invocations()
}

func TestCutadapt(t *testing.T) {
	ctx := context.Background()
	got := record(t, func(r Runner) error {
		return DefaultCutadapt.Trim(ctx, r, TrimRequest{
			R1: "in/S1_R1.fq.gz", R2: "in/S1_R2.fq.gz",
			OutR1: "out/trimmed/S1.1.fq.gz", OutR2: "out/trimmed/S1.2.fq.gz",
			Threads: 4,
		})
	})
	assert.Equal(t, []Invocation{{
		Tool: "cutadapt",
		Args: []string{"-j", "4", "-m", "15", "-q", "20", "-O", "5", "--trim-n",
			"-a", R1Adapter, "-A", R2Adapter,
			"-o", "out/trimmed/S1.1.fq.gz", "-p", "out/trimmed/S1.2.fq.gz",
			"in/S1_R1.fq.gz", "in/S1_R2.fq.gz"},
	}}, got)

	got = record(t, func(r Runner) error {
		return Cutadapt{MinLength: 10}.Trim(ctx, r, TrimRequest{R1: "r1.fq", OutR1: "t/S1.1.fq.gz", UMILength: 6, TTN: true})
	})
	assert.Equal(t, []Invocation{
		{Tool: "umi_tools", Args: []string{"extract", "--bc-pattern=NNNNNN", "--umi-separator=_",
			"--stdin=r1.fq", "--stdout=t/umi.S1.1.fq.gz"}},
		{Tool: "cutadapt", Args: []string{"-m", "10", "-O", "5", "--trim-n",
			"-a", TTNR1Adapter, "-o", "t/S1.1.fq.gz", "t/umi.S1.1.fq.gz"}},
	}, got)

	got = record(t, func(r Runner) error {
		return DefaultCutadapt.Trim(ctx, r, TrimRequest{R1: "a.fq", R2: "b.fq", OutR1: "t/1.fq", OutR2: "t/2.fq", UMILength: 3, TTN: true})
	})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"extract", "--bc-pattern=NNN", "--umi-separator=_",
		"--stdin=a.fq", "--stdout=t/umi.1.fq", "--read2-in=b.fq", "--read2-out=t/umi.2.fq"}, got[0].Args)
	assert.Contains(t, strings.Join(got[1].Args, " "), "-U 3 -o t/1.fq -p t/2.fq t/umi.1.fq t/umi.2.fq")
}

func TestAligners(t *testing.T) {
	ctx := context.Background()
	got := record(t, func(r Runner) error {
		return HISAT2{}.Align(ctx, r, AlignRequest{
			Index: "idx/genome", R1: "p.1.fq.gz", R2: "p.2.fq.gz", SAM: "hisat/S1.sam",
			Unaligned: "hisat/unmapped.%.fq.gz", SpliceSites: "ss.txt", Threads: 2,
		})
	})
	assert.Equal(t, []Invocation{{
		Tool: "hisat2",
		Args: []string{"-p", "2", "--no-mixed", "--no-discordant", "--no-softclip",
			"--known-splicesite-infile", "ss.txt", "-x", "idx/genome",
			"-1", "p.1.fq.gz", "-2", "p.2.fq.gz", "--un-conc-gz", "hisat/unmapped.%.fq.gz",
			"-S", "hisat/S1.sam"},
	}}, got)

	got = record(t, func(r Runner) error {
		return DefaultBowtie2.Align(ctx, r, AlignRequest{
			Index: "idx/tRNA_rRNA", R1: "c.fq.gz", SAM: "remap/S1.sam", MaxAlignments: 100, Threads: 8,
		})
	})
	assert.Equal(t, []Invocation{{
		Tool: "bowtie2",
		Args: []string{"-p", "8", "--local", "--very-sensitive-local", "-k", "100",
			"--no-mixed", "--no-discordant", "-x", "idx/tRNA_rRNA", "-U", "c.fq.gz", "-S", "remap/S1.sam"},
	}}, got)

	r := &RecordingRunner{}
	err := DefaultBowtie2.Align(ctx, r, AlignRequest{Index: "i", R1: "1.fq", R2: "2.fq", SAM: "o.sam", Unaligned: "un.fq.gz"})
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
	err = HISAT2{}.Align(ctx, r, AlignRequest{R1: "1.fq", SAM: "o.sam"})
	assert.Error(t, err)
	assert.Empty(t, r.Invocations())
}

func TestUMITools(t *testing.T) {
	got := record(t, func(r Runner) error {
		return UMITools{}.Dedup(context.Background(), r, DedupRequest{In: "m/S1.bam", Out: "m/S1.dedup.bam", Paired: true, Threads: 3})
	})
	assert.Equal(t, []Invocation{
		{Tool: "samtools", Args: []string{"sort", "-@", "3", "-o", "m/S1.sorted.bam", "m/S1.bam"}},
		{Tool: "samtools", Args: []string{"index", "m/S1.sorted.bam"}},
		{Tool: "umi_tools", Args: []string{"dedup", "--paired", "--umi-separator=_",
			"--stdin=m/S1.sorted.bam", "--stdout=m/S1.dedup.bam"}},
	}, got)
}

func TestMatePath(t *testing.T) {
	assert.Equal(t, "x/unmapped.1.fq.gz", MatePath("x/unmapped.%.fq.gz", 1))
	assert.Equal(t, "x/unmapped.2.fq.gz", MatePath("x/unmapped.%.fq.gz", 2))
	assert.Equal(t, "x/unmapped.fq.gz", MatePath("x/unmapped.fq.gz", 2))
}

func TestDryRunner(t *testing.T) {
	r := &DryRunner{}
	inv := Invocation{Tool: "samtools", Args: []string{"view", "x.bam"}, Stdout: "x.sam"}
	require.NoError(t, r.Run(context.Background(), inv))
	assert.Equal(t, []Invocation{inv}, r.Invocations())
	assert.Equal(t, "samtools view x.bam > x.sam", inv.String())
}

func TestExecRunner(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	if _, err := lookpath.Look(sh.Vars, "sh"); err != nil {
		t.Skipf("sh not found on the machine. Skipping the test")
	}
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "tools")
	defer testutil.NoCleanupOnError(t, cleanup, dir)

	r := ExecRunner{Env: sh.Vars, StderrTail: 8}
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, r.Run(ctx, Invocation{Tool: "sh", Args: []string{"-c", "echo hello"}, Stdout: out}))
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	err = r.Run(ctx, Invocation{Tool: "sh", Args: []string{"-c", "echo 0123456789abcdef >&2; exit 3"}})
	require.Error(t, err)
	terr, ok := err.(*Error)
	require.True(t, ok, "%T", err)
	assert.Equal(t, "sh", terr.Tool)
	assert.Equal(t, "9abcdef", terr.Stderr)

	err = r.Run(ctx, Invocation{Tool: "no-such-tool-for-tgirt"})
	assert.True(t, errors.Is(errors.NotExist, err), "%v", err)
}
