// Package count turns read assignments into per-feature count tables.
//
// A table lists every known feature of one universe, in load order and
// including features with no reads, followed by the family-level rows of
// the universe and two sentinel rows for ambiguous and unassigned reads.
// Every read that entered a universe is counted in exactly one row of its
// table.
package count

import (
	"bytes"
	"context"
	"fmt"
	"io"

	farm "github.com/dgryski/go-farm"
	"github.com/exascience/pargo/parallel"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/feature"
	"github.com/grailbio/tgirt/reassign"
)

const (
	// AmbiguousRow is the name of the row counting ambiguous reads.
	AmbiguousRow = "__ambiguous"
	// UnassignedRow is the name of the row counting unassigned reads.
	UnassignedRow = "__unassigned"
)

// Level is the kind of a table row.
type Level uint8

const (
	// FeatureLevel rows count reads assigned to a single feature.
	FeatureLevel Level = iota
	// FamilyLevel rows count reads assigned to a family of features.
	FamilyLevel
	// SentinelLevel is the level of the ambiguous and unassigned rows.
	SentinelLevel
)

var levelNames = []string{"feature", "family", "sentinel"}

func (l Level) String() string {
	if int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", l)
	}
	return levelNames[l]
}

// Row is one line of a count table.
type Row struct {
	Name  string
	Level Level
	Count int
}

type rowKey struct {
	name  string
	level Level
}

// Table is the count table of one universe.
type Table struct {
	Universe feature.Universe
	Rows     []Row
	index    map[rowKey]int
}

// NewTable creates a table with a zero row for every feature and family of
// universe u.
func NewTable(features *feature.Set, u feature.Universe) *Table {
	t := &Table{Universe: u, index: map[rowKey]int{}}
	for _, f := range features.Features(u) {
		t.addRow(f.Name, FeatureLevel)
	}
	for _, fam := range features.Families(u) {
		t.addRow(fam.Name, FamilyLevel)
	}
	t.addRow(AmbiguousRow, SentinelLevel)
	t.addRow(UnassignedRow, SentinelLevel)
	return t
}

func (t *Table) addRow(name string, level Level) {
	t.index[rowKey{name, level}] = len(t.Rows)
	t.Rows = append(t.Rows, Row{Name: name, Level: level})
}

func (t *Table) inc(name string, level Level) error {
	i, ok := t.index[rowKey{name, level}]
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("count: %v table has no %v row %q", t.Universe, level, name))
	}
	t.Rows[i].Count++
	return nil
}

// Add counts one assignment. Assignments for other universes and names
// that are not rows of the table are errors.
func (t *Table) Add(a reassign.Assignment) error {
	if a.Universe != t.Universe {
		return errors.E(errors.Invalid, fmt.Sprintf("count: %v assignment added to %v table", a.Universe, t.Universe))
	}
	switch a.Outcome {
	case reassign.Ambiguous:
		return t.inc(AmbiguousRow, SentinelLevel)
	case reassign.Unassigned:
		return t.inc(UnassignedRow, SentinelLevel)
	}
	if a.FamilyLevel {
		return t.inc(a.Feature, FamilyLevel)
	}
	return t.inc(a.Feature, FeatureLevel)
}

// Get returns the count of the named row.
func (t *Table) Get(name string, level Level) (int, bool) {
	i, ok := t.index[rowKey{name, level}]
	if !ok {
		return 0, false
	}
	return t.Rows[i].Count, true
}

// Summary is the totals of a table.
type Summary struct {
	Universe    feature.Universe
	Features    int
	Counted     int
	Ambiguous   int
	Unassigned  int
	Fingerprint uint64
}

// Total returns the number of reads that entered the universe.
func (s Summary) Total() int { return s.Counted + s.Ambiguous + s.Unassigned }

func (s Summary) String() string {
	return fmt.Sprintf("%v: %d reads (%d counted, %d ambiguous, %d unassigned) over %d features, fingerprint %016x",
		s.Universe, s.Total(), s.Counted, s.Ambiguous, s.Unassigned, s.Features, s.Fingerprint)
}

// Summary computes the totals of t.
func (t *Table) Summary() Summary {
	s := Summary{Universe: t.Universe, Fingerprint: t.Fingerprint()}
	for _, r := range t.Rows {
		switch {
		case r.Level == FeatureLevel:
			s.Features++
			s.Counted += r.Count
		case r.Level == FamilyLevel:
			s.Counted += r.Count
		case r.Name == AmbiguousRow:
			s.Ambiguous += r.Count
		default:
			s.Unassigned += r.Count
		}
	}
	return s
}

// Write writes t as TSV with the columns feature, level and count.
func (t *Table) Write(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("feature")
	tw.WriteString("level")
	tw.WriteString("count")
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, r := range t.Rows {
		tw.WriteString(r.Name)
		tw.WriteString(r.Level.String())
		tw.WriteInt64(int64(r.Count))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Fingerprint returns a farmhash fingerprint of the TSV form of t. Equal
// tables have equal fingerprints.
func (t *Table) Fingerprint() uint64 {
	var b bytes.Buffer
	if err := t.Write(&b); err != nil {
		log.Panicf("count: write to buffer: %v", err)
	}
	return farm.Fingerprint64(b.Bytes())
}

// WriteFile writes t to path.
func (t *Table) WriteFile(ctx context.Context, path string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create count table", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = t.Write(out.Writer(ctx)); err != nil {
		return errors.E(err, "write count table", path)
	}
	return nil
}

// Aggregate counts the assignments of universe u. Assignments for other
// universes are ignored.
func Aggregate(features *feature.Set, u feature.Universe, assignments []reassign.Assignment) (*Table, error) {
	t := NewTable(features, u)
	for _, a := range assignments {
		if a.Universe != u {
			continue
		}
		if err := t.Add(a); err != nil {
			return nil, errors.E(err, "read", a.Read)
		}
	}
	return t, nil
}

// AggregateGenes counts fragments against the genome-wide universe. Each
// fragment is resolved from the genes it overlaps with the same rule the
// reassignment engine uses; a fragment that overlaps no gene is
// unassigned.
func AggregateGenes(features *feature.Set, frags []align.Fragment) *Table {
	t := NewTable(features, feature.Genes)
	for i := range frags {
		f := &frags[i]
		a := reassign.Assignment{Read: f.Read, Universe: feature.Genes, Outcome: reassign.Unassigned}
		if genes := features.Overlapping(feature.Genes, f.Chrom, f.Start, f.End, f.Strand); len(genes) > 0 {
			target := reassign.Collapse(genes)
			switch {
			case target.Ambiguous():
				a.Outcome = reassign.Ambiguous
			case target.FamilyLevel:
				a.Outcome, a.Feature, a.FamilyLevel = reassign.Family, target.Name, true
			default:
				a.Outcome, a.Feature = reassign.Unique, target.Name
			}
		}
		if err := t.Add(a); err != nil {
			// Overlapping only returns features of the table.
			log.Panicf("count: %v", err)
		}
	}
	return t
}

// Tables holds one table per universe.
type Tables [feature.NumUniverses]*Table

// AggregateAll builds the tables of all three universes concurrently. The
// small-RNA tables come from assignments, the genome-wide table from
// fragments.
func AggregateAll(features *feature.Set, assignments []reassign.Assignment, frags []align.Fragment) (Tables, error) {
	var (
		tables Tables
		errs   [feature.NumUniverses]error
	)
	parallel.Do(
		func() { tables[feature.TRNA], errs[feature.TRNA] = Aggregate(features, feature.TRNA, assignments) },
		func() { tables[feature.RRNA], errs[feature.RRNA] = Aggregate(features, feature.RRNA, assignments) },
		func() { tables[feature.Genes] = AggregateGenes(features, frags) },
	)
	var once errors.Once
	for _, err := range errs {
		once.Set(err)
	}
	return tables, once.Err()
}
