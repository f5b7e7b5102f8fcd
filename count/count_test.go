package count

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/feature"
	"github.com/grailbio/tgirt/reassign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}

func testFeatures(t *testing.T) *feature.Set {
	p := feature.DefaultPolicies()
	beds := [feature.NumUniverses]string{
		feature.TRNA: "chr6\t100\t172\ttRNA-Ala-AGC-1-1\t0\t+\n" +
			"chr6\t300\t372\ttRNA-Ala-AGC-2-1\t0\t+\n" +
			"chr1\t500\t573\ttRNA-Gly-GCC-1-1\t0\t+\n",
		feature.RRNA: "chr21\t1000\t2000\tRNA45SN1\t0\t+\n" +
			"chr21\t5000\t6000\tRNA45SN2\t0\t+\n",
		feature.Genes: "chr2\t0\t1000\tGAPDH\t0\t+\n" +
			"chr2\t800\t2000\tACTB\t0\t-\n" +
			"chr3\t0\t500\tMALAT1\t0\t.\n",
	}
	var features [feature.NumUniverses][]*feature.Feature
	for _, u := range feature.Universes {
		var err error
		features[u], err = feature.ReadBED(strings.NewReader(beds[u]), u, p[u])
		require.NoError(t, err)
	}
	s, err := feature.NewSet(features, p)
	require.NoError(t, err)
	return s
}

func testAssignments() []reassign.Assignment {
	return []reassign.Assignment{
		{Read: "r1", Universe: feature.TRNA, Outcome: reassign.Unique, Feature: "tRNA-Gly-GCC-1-1"},
		{Read: "r2", Universe: feature.TRNA, Outcome: reassign.Family, Feature: "tRNA-Ala-AGC", FamilyLevel: true},
		{Read: "r3", Universe: feature.TRNA, Outcome: reassign.Family, Feature: "tRNA-Ala-AGC", FamilyLevel: true},
		{Read: "r4", Universe: feature.TRNA, Outcome: reassign.Ambiguous},
		{Read: "r5", Universe: feature.TRNA, Outcome: reassign.Fallback, Feature: "tRNA-Gly-GCC-1-1"},
		{Read: "r6", Universe: feature.TRNA, Outcome: reassign.Unassigned},
		{Read: "r6", Universe: feature.RRNA, Outcome: reassign.Unassigned},
		{Read: "r7", Universe: feature.RRNA, Outcome: reassign.Unique, Feature: "RNA45SN2"},
	}
}

func TestAggregate(t *testing.T) {
	features := testFeatures(t)
	table, err := Aggregate(features, feature.TRNA, testAssignments())
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, table.Write(&b))
	expect.EQ(t, b.String(), `feature	level	count
tRNA-Ala-AGC-1-1	feature	0
tRNA-Ala-AGC-2-1	feature	0
tRNA-Gly-GCC-1-1	feature	2
tRNA-Ala-AGC	family	2
__ambiguous	sentinel	1
__unassigned	sentinel	1
`)
	s := table.Summary()
	expect.EQ(t, s.Features, 3)
	expect.EQ(t, s.Counted, 4)
	expect.EQ(t, s.Total(), 6)

	rrna, err := Aggregate(features, feature.RRNA, testAssignments())
	require.NoError(t, err)
	n, ok := rrna.Get("RNA45SN2", FeatureLevel)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	n, ok = rrna.Get("RNA45SN", FamilyLevel)
	assert.True(t, ok)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, rrna.Summary().Total())
}

func TestEmptyTableIsComplete(t *testing.T) {
	features := testFeatures(t)
	for _, u := range feature.Universes {
		table, err := Aggregate(features, u, nil)
		require.NoError(t, err)
		assert.Equal(t, len(features.Features(u))+len(features.Families(u))+2, len(table.Rows), "%v", u)
		for _, r := range table.Rows {
			assert.Equal(t, 0, r.Count)
		}
		last := table.Rows[len(table.Rows)-2:]
		assert.Equal(t, AmbiguousRow, last[0].Name)
		assert.Equal(t, UnassignedRow, last[1].Name)
	}
}

func TestAddErrors(t *testing.T) {
	table := NewTable(testFeatures(t), feature.TRNA)
	assert.Error(t, table.Add(reassign.Assignment{Read: "x", Universe: feature.RRNA, Outcome: reassign.Unassigned}))
	assert.Error(t, table.Add(reassign.Assignment{Read: "x", Universe: feature.TRNA, Outcome: reassign.Unique, Feature: "tRNA-Ser-AGA-1-1"}))
	// Family rows and feature rows are distinct.
	assert.Error(t, table.Add(reassign.Assignment{Read: "x", Universe: feature.TRNA, Outcome: reassign.Family, Feature: "tRNA-Gly-GCC-1-1", FamilyLevel: true}))
}

func TestAggregateGenes(t *testing.T) {
	features := testFeatures(t)
	frags := []align.Fragment{
		{Chrom: "chr2", Start: 10, End: 60, Read: "g1", Strand: feature.StrandForward},
		// Overlaps ACTB and GAPDH, but only GAPDH on this strand.
		{Chrom: "chr2", Start: 900, End: 950, Read: "g2", Strand: feature.StrandForward},
		{Chrom: "chr2", Start: 900, End: 950, Read: "g3", Strand: feature.StrandNone},
		{Chrom: "chr3", Start: 100, End: 150, Read: "g4", Strand: feature.StrandReverse},
		{Chrom: "chr9", Start: 100, End: 150, Read: "g5", Strand: feature.StrandForward},
	}
	table := AggregateGenes(features, frags)
	get := func(name string, level Level) int {
		n, ok := table.Get(name, level)
		require.True(t, ok, name)
		return n
	}
	expect.EQ(t, get("GAPDH", FeatureLevel), 2)
	expect.EQ(t, get("ACTB", FeatureLevel), 0)
	expect.EQ(t, get("MALAT1", FeatureLevel), 1)
	expect.EQ(t, get(AmbiguousRow, SentinelLevel), 1)
	expect.EQ(t, get(UnassignedRow, SentinelLevel), 1)
	expect.EQ(t, table.Summary().Total(), len(frags))
}

func TestAggregateAll(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "count")
	defer testutil.NoCleanupOnError(t, cleanup, dir)

	features := testFeatures(t)
	frags := []align.Fragment{{Chrom: "chr2", Start: 10, End: 60, Read: "g1", Strand: feature.StrandForward}}
	tables, err := AggregateAll(features, testAssignments(), frags)
	require.NoError(t, err)
	again, err := AggregateAll(features, testAssignments(), frags)
	require.NoError(t, err)

	for _, u := range feature.Universes {
		require.NotNil(t, tables[u], "%v", u)
		assert.Equal(t, u, tables[u].Universe)
		assert.Equal(t, tables[u].Rows, again[u].Rows)
		assert.Equal(t, tables[u].Fingerprint(), again[u].Fingerprint())

		path := filepath.Join(dir, "S1."+u.String()+".tsv")
		require.NoError(t, tables[u].WriteFile(ctx, path))
		data, err := ioutil.ReadFile(path)
		require.NoError(t, err)
		var b bytes.Buffer
		require.NoError(t, tables[u].Write(&b))
		assert.Equal(t, b.String(), string(data))
	}
	assert.Equal(t, 6, tables[feature.TRNA].Summary().Total())
	assert.Equal(t, 2, tables[feature.RRNA].Summary().Total())
	assert.Equal(t, 1, tables[feature.Genes].Summary().Total())
	assert.NotEqual(t, tables[feature.TRNA].Fingerprint(), tables[feature.RRNA].Fingerprint())

	bad := append(testAssignments(), reassign.Assignment{Read: "z", Universe: feature.RRNA, Outcome: reassign.Unique, Feature: "RNA99"})
	_, err = AggregateAll(features, bad, frags)
	assert.Error(t, err)
}

func remapHit(ref string, score int) *align.Alignment {
	r := &align.Record{Name: "r", Ref: ref, End: 30, MapQ: 1, Score: score, HasScore: true,
		Aligner: align.LocalAligner}
	return &align.Alignment{Aligner: align.LocalAligner, Mates: []*align.Record{r}}
}

// Every read that enters the remap stage for a universe is counted exactly
// once in that universe's table.
func TestTotalsCoverEnteredReads(t *testing.T) {
	features := testFeatures(t)
	universes := func(us ...feature.Universe) (s feature.UniverseSet) {
		for _, u := range us {
			s.Add(u)
		}
		return
	}
	candidates := []reassign.Candidate{
		{Read: "a", Universes: universes(feature.TRNA, feature.RRNA)},
		{Read: "b", Universes: universes(feature.TRNA)},
		{Read: "c", Universes: universes(feature.RRNA)},
		{Read: "d", Universes: universes(feature.TRNA)},
		{Read: "e", Universes: universes(feature.TRNA),
			Fallback: &align.Fragment{Chrom: "chr6", Start: 120, End: 150, Strand: feature.StrandForward}},
		{Read: "f", Universes: universes(feature.TRNA, feature.RRNA)},
	}
	remapped := &align.MergeResult{Reads: []*align.Read{
		{Name: "a", Alignments: []*align.Alignment{remapHit("tRNA-Gly-GCC-1-1", 0), remapHit("RNA45SN1", -5)}},
		{Name: "b", Alignments: []*align.Alignment{remapHit("RNA45SN2", 0)}},
		{Name: "c", Alignments: []*align.Alignment{remapHit("RNA45SN1", 0), remapHit("RNA45SN2", 0)}},
		{Name: "d", Alignments: []*align.Alignment{remapHit("tRNA-Ala-AGC-1-1", -1), remapHit("RNA45SN1", -1)}},
		{Name: "f", Alignments: []*align.Alignment{remapHit("chrUn_decoy", 0)}},
	}}
	e := reassign.NewEngine(features, reassign.Opts{Strandedness: align.Sense})
	assignments := e.Run(candidates, remapped)

	// Entered universes are the candidate universes plus those of the
	// best hits.
	best := map[string]int{}
	for _, r := range remapped.Reads {
		for _, aln := range r.Alignments {
			if _, ok := features.Lookup(feature.TRNA, aln.Ref()); !ok {
				if _, ok := features.Lookup(feature.RRNA, aln.Ref()); !ok {
					continue
				}
			}
			if s, ok := best[r.Name]; !ok || aln.Mates[0].Score > s {
				best[r.Name] = aln.Mates[0].Score
			}
		}
	}
	var entered [feature.NumUniverses]int
	for _, c := range candidates {
		in := c.Universes
		for _, r := range remapped.Reads {
			if r.Name != c.Read {
				continue
			}
			for _, aln := range r.Alignments {
				for _, u := range feature.SmallRNA {
					if _, ok := features.Lookup(u, aln.Ref()); ok && aln.Mates[0].Score == best[c.Read] {
						in.Add(u)
					}
				}
			}
		}
		for _, u := range in.List() {
			entered[u]++
		}
	}
	expect.EQ(t, entered[feature.TRNA], 5)
	expect.EQ(t, entered[feature.RRNA], 5)

	for _, u := range feature.SmallRNA {
		table, err := Aggregate(features, u, assignments)
		require.NoError(t, err)
		assert.Equal(t, entered[u], table.Summary().Total(), "%v", u)
		assert.Equal(t, entered[u], e.Stats.Entered(u), "%v", u)
	}
}
