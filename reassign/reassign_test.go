package reassign

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}

const (
	trnaBED = "chr6\t100\t172\ttRNA-Ala-AGC-1-1\t0\t+\n" +
		"chr6\t300\t372\ttRNA-Ala-AGC-2-1\t0\t+\n" +
		"chr1\t500\t573\ttRNA-Gly-GCC-1-1\t0\t+\n"
	rrnaBED = "chr21\t1000\t2000\tRNA45SN1\t0\t+\n" +
		"chr21\t5000\t6000\tRNA45SN2\t0\t+\n" +
		"chr1\t9000\t9120\tRNA5S1\t0\t+\n"
)

func testFeatures(t *testing.T) *feature.Set {
	p := feature.DefaultPolicies()
	trna, err := feature.ReadBED(strings.NewReader(trnaBED), feature.TRNA, p[feature.TRNA])
	require.NoError(t, err)
	rrna, err := feature.ReadBED(strings.NewReader(rrnaBED), feature.RRNA, p[feature.RRNA])
	require.NoError(t, err)
	s, err := feature.NewSet([feature.NumUniverses][]*feature.Feature{trna, rrna, nil}, p)
	require.NoError(t, err)
	return s
}

// hitAt returns a single-end alignment against a combined-index reference.
func hitAt(ref string, score int, reverse bool) *align.Alignment {
	var flags sam.Flags
	if reverse {
		flags |= sam.Reverse
	}
	r := &align.Record{Name: "r", Ref: ref, Pos: 0, End: 30, Flags: flags, MapQ: 1,
		Score: score, HasScore: true, Aligner: align.LocalAligner}
	return &align.Alignment{Aligner: align.LocalAligner, Mates: []*align.Record{r}}
}

func candidate(read string, us ...feature.Universe) Candidate {
	c := Candidate{Read: read}
	for _, u := range us {
		c.Universes.Add(u)
	}
	return c
}

func TestCollapse(t *testing.T) {
	s := testFeatures(t)
	f := func(u feature.Universe, name string) *feature.Feature {
		x, ok := s.Lookup(u, name)
		require.True(t, ok, name)
		return x
	}
	ala1, ala2, gly := f(feature.TRNA, "tRNA-Ala-AGC-1-1"), f(feature.TRNA, "tRNA-Ala-AGC-2-1"), f(feature.TRNA, "tRNA-Gly-GCC-1-1")
	assert.Equal(t, Target{Name: "tRNA-Ala-AGC-1-1"}, Collapse([]*feature.Feature{ala1, ala1}))
	assert.Equal(t, Target{Name: "tRNA-Ala-AGC", FamilyLevel: true}, Collapse([]*feature.Feature{ala1, ala2}))
	assert.True(t, Collapse([]*feature.Feature{ala1, ala2, gly}).Ambiguous())
}

func TestAssign(t *testing.T) {
	s := testFeatures(t)
	for _, test := range []struct {
		name string
		c    Candidate
		alns []*align.Alignment
		want []Assignment
	}{
		{
			name: "unique",
			c:    candidate("u", feature.TRNA),
			alns: []*align.Alignment{hitAt("tRNA-Gly-GCC-1-1", 0, false), hitAt("tRNA-Ala-AGC-1-1", -20, false)},
			want: []Assignment{{Read: "u", Universe: feature.TRNA, Outcome: Unique, Feature: "tRNA-Gly-GCC-1-1"}},
		},
		{
			name: "same feature twice is unique",
			c:    candidate("u2", feature.TRNA),
			alns: []*align.Alignment{hitAt("tRNA-Gly-GCC-1-1", -3, false), hitAt("tRNA-Gly-GCC-1-1", -3, false)},
			want: []Assignment{{Read: "u2", Universe: feature.TRNA, Outcome: Unique, Feature: "tRNA-Gly-GCC-1-1"}},
		},
		{
			name: "isodecoders collapse to family",
			c:    candidate("fam", feature.TRNA),
			alns: []*align.Alignment{hitAt("tRNA-Ala-AGC-1-1", -6, false), hitAt("tRNA-Ala-AGC-2-1", -6, false)},
			want: []Assignment{{Read: "fam", Universe: feature.TRNA, Outcome: Family, Feature: "tRNA-Ala-AGC", FamilyLevel: true}},
		},
		{
			name: "rRNA copies collapse to family",
			c:    candidate("rfam", feature.RRNA),
			alns: []*align.Alignment{hitAt("RNA45SN2", 0, false), hitAt("RNA45SN1", 0, false)},
			want: []Assignment{{Read: "rfam", Universe: feature.RRNA, Outcome: Family, Feature: "RNA45SN", FamilyLevel: true}},
		},
		{
			name: "cross-family tRNA",
			c:    candidate("amb", feature.TRNA),
			alns: []*align.Alignment{hitAt("tRNA-Ala-AGC-1-1", 0, false), hitAt("tRNA-Gly-GCC-1-1", 0, false)},
			want: []Assignment{{Read: "amb", Universe: feature.TRNA, Outcome: Ambiguous}},
		},
		{
			name: "cross-family rRNA",
			c:    candidate("ramb", feature.RRNA),
			alns: []*align.Alignment{hitAt("RNA45SN1", -1, false), hitAt("RNA5S1", -1, false)},
			want: []Assignment{{Read: "ramb", Universe: feature.RRNA, Outcome: Ambiguous}},
		},
		{
			name: "cross-universe tie resolves each universe",
			c:    candidate("both", feature.TRNA),
			alns: []*align.Alignment{hitAt("RNA5S1", 0, false), hitAt("tRNA-Ala-AGC-2-1", 0, false)},
			want: []Assignment{
				{Read: "both", Universe: feature.TRNA, Outcome: Unique, Feature: "tRNA-Ala-AGC-2-1"},
				{Read: "both", Universe: feature.RRNA, Outcome: Unique, Feature: "RNA5S1"},
			},
		},
		{
			name: "candidate universe without best hits is unassigned",
			c:    candidate("both2", feature.TRNA, feature.RRNA),
			alns: []*align.Alignment{hitAt("tRNA-Gly-GCC-1-1", 0, false), hitAt("RNA5S1", -9, false)},
			want: []Assignment{
				{Read: "both2", Universe: feature.TRNA, Outcome: Unique, Feature: "tRNA-Gly-GCC-1-1"},
				{Read: "both2", Universe: feature.RRNA, Outcome: Unassigned},
			},
		},
		{
			name: "best hit outside the candidate universe",
			c:    candidate("moved", feature.TRNA),
			alns: []*align.Alignment{hitAt("RNA5S1", 0, false)},
			want: []Assignment{
				{Read: "moved", Universe: feature.TRNA, Outcome: Unassigned},
				{Read: "moved", Universe: feature.RRNA, Outcome: Unique, Feature: "RNA5S1"},
			},
		},
		{
			name: "fallback to genomic placement",
			c: Candidate{Read: "fb", Universes: 1 << feature.TRNA,
				Fallback: &align.Fragment{Chrom: "chr6", Start: 120, End: 150, Strand: feature.StrandForward}},
			want: []Assignment{{Read: "fb", Universe: feature.TRNA, Outcome: Fallback, Feature: "tRNA-Ala-AGC-1-1"}},
		},
		{
			name: "fallback spanning two isodecoders",
			c: Candidate{Read: "fbfam", Universes: 1 << feature.TRNA,
				Fallback: &align.Fragment{Chrom: "chr6", Start: 150, End: 320, Strand: feature.StrandForward}},
			want: []Assignment{{Read: "fbfam", Universe: feature.TRNA, Outcome: Fallback, Feature: "tRNA-Ala-AGC", FamilyLevel: true}},
		},
		{
			name: "premap read without hits",
			c:    candidate("un", feature.TRNA, feature.RRNA),
			want: []Assignment{
				{Read: "un", Universe: feature.TRNA, Outcome: Unassigned},
				{Read: "un", Universe: feature.RRNA, Outcome: Unassigned},
			},
		},
		{
			name: "wrong strand and unknown references are not hits",
			c:    candidate("strand", feature.TRNA),
			alns: []*align.Alignment{hitAt("tRNA-Gly-GCC-1-1", 0, true), hitAt("chrUn_decoy", 0, false)},
			want: []Assignment{{Read: "strand", Universe: feature.TRNA, Outcome: Unassigned}},
		},
	} {
		e := NewEngine(s, Opts{Strandedness: align.Sense})
		got := e.Assign(test.c, test.alns)
		assert.Equal(t, test.want, got, test.name)
		for _, a := range got {
			assert.Equal(t, 1, e.Stats.Outcomes[a.Universe][a.Outcome], test.name)
		}
	}
}

func TestUnstrandedKeepsReverseHits(t *testing.T) {
	e := NewEngine(testFeatures(t), Opts{Strandedness: align.Unstranded})
	got := e.Assign(candidate("r", feature.TRNA), []*align.Alignment{hitAt("tRNA-Gly-GCC-1-1", 0, true)})
	assert.Equal(t, []Assignment{{Read: "r", Universe: feature.TRNA, Outcome: Unique, Feature: "tRNA-Gly-GCC-1-1"}}, got)
}

func runFixture(t *testing.T) ([]Assignment, Stats) {
	frags := []align.Fragment{
		{Chrom: "chr6", Start: 100, End: 160, Read: "fam1", Strand: feature.StrandForward, SmallRNA: 1 << feature.TRNA},
		{Chrom: "chr6", Start: 300, End: 360, Read: "fam2", Strand: feature.StrandForward, SmallRNA: 1 << feature.TRNA},
		{Chrom: "chr2", Start: 0, End: 50, Read: "genomic", Strand: feature.StrandForward},
		{Chrom: "chr1", Start: 510, End: 560, Read: "cross", Strand: feature.StrandForward, SmallRNA: 1 << feature.TRNA},
		{Chrom: "chr1", Start: 520, End: 560, Read: "fallback", Strand: feature.StrandForward, SmallRNA: 1 << feature.TRNA},
	}
	premap := map[string]feature.UniverseSet{"pre": 1 << feature.RRNA, "fam1": 1 << feature.RRNA}
	cands := Candidates(frags, premap, []string{"fam1", "pre"})
	require.Len(t, cands, 5)
	assert.Equal(t, "pre", cands[4].Read)
	assert.Nil(t, cands[4].Fallback)
	assert.True(t, cands[0].Universes.Has(feature.RRNA))

	remapped := &align.MergeResult{Reads: []*align.Read{
		{Name: "fam1", Alignments: []*align.Alignment{hitAt("tRNA-Ala-AGC-1-1", -2, false), hitAt("tRNA-Ala-AGC-2-1", -2, false)}},
		{Name: "fam2", Alignments: []*align.Alignment{hitAt("tRNA-Ala-AGC-2-1", -4, false), hitAt("tRNA-Ala-AGC-1-1", -4, false)}},
		{Name: "cross", Alignments: []*align.Alignment{hitAt("tRNA-Ala-AGC-1-1", 0, false), hitAt("tRNA-Gly-GCC-1-1", 0, false)}},
		{Name: "pre", Alignments: []*align.Alignment{hitAt("RNA45SN1", 0, false)}},
	}}
	e := NewEngine(testFeatures(t), Opts{Strandedness: align.Sense})
	return e.Run(cands, remapped), e.Stats
}

func TestRun(t *testing.T) {
	got, stats := runFixture(t)
	var summary []string
	for _, a := range got {
		summary = append(summary, a.String())
	}
	assert.Equal(t, []string{
		"fam1:tRNA:family:tRNA-Ala-AGC",
		"fam1:rRNA:unassigned",
		"fam2:tRNA:family:tRNA-Ala-AGC",
		"cross:tRNA:ambiguous",
		"fallback:tRNA:fallback:tRNA-Gly-GCC-1-1",
		"pre:rRNA:unique:RNA45SN1",
	}, summary)
	assert.Equal(t, 5, stats.Candidates)
	assert.Equal(t, 4, stats.Realigned)
	assert.Equal(t, 4, stats.Entered(feature.TRNA))
	assert.Equal(t, 2, stats.Entered(feature.RRNA))

	// Running the policy again on the same input gives the same result.
	again, againStats := runFixture(t)
	assert.Equal(t, got, again)
	assert.Equal(t, stats, againStats)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "reassign")
	defer testutil.NoCleanupOnError(t, cleanup, dir)

	assignments, stats := runFixture(t)
	path := filepath.Join(dir, "S1.assignments.rio")
	require.NoError(t, WriteFile(ctx, path, assignments, stats))
	got, gotStats, err := ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, assignments, got)
	assert.Equal(t, stats, gotStats)

	_, _, err = ReadFile(ctx, filepath.Join(dir, "missing.rio"))
	assert.Error(t, err)

	// Assignments can be streamed one at a time.
	path = filepath.Join(dir, "S2.assignments.rio")
	w, err := NewWriter(ctx, path)
	require.NoError(t, err)
	for _, a := range assignments[:2] {
		require.NoError(t, w.Write(a))
	}
	assert.Equal(t, 2, w.N())
	require.NoError(t, w.Close(ctx, Stats{Candidates: 2}))
	got, gotStats, err = ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, assignments[:2], got)
	assert.Equal(t, 2, gotStats.Candidates)
}
