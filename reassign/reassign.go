// Package reassign resolves reads that touched repetitive tRNA and rRNA
// loci. Such reads are re-aligned against a combined tRNA+rRNA index and
// each one is then assigned to exactly one feature or family per universe,
// or recorded as ambiguous or unassigned. The policy is deterministic: the
// same alignments always produce the same assignments.
package reassign

import (
	"fmt"

	"github.com/grailbio/tgirt/align"
	"github.com/grailbio/tgirt/feature"
)

// Outcome is how a read was resolved in one universe.
type Outcome uint8

const (
	// Unique: the best re-alignments hit a single feature.
	Unique Outcome = iota
	// Family: the best re-alignments hit several features of one family;
	// the read is assigned to the family.
	Family
	// Ambiguous: the best re-alignments hit several families. The read is
	// only counted in the ambiguous total.
	Ambiguous
	// Fallback: the read did not re-align and was assigned from its
	// genomic placement.
	Fallback
	// Unassigned: the read did not re-align and has no usable genomic
	// placement.
	Unassigned
	// NumOutcomes is the number of outcomes.
	NumOutcomes
)

var outcomeNames = [NumOutcomes]string{"unique", "family", "ambiguous", "fallback", "unassigned"}

func (o Outcome) String() string {
	if o >= NumOutcomes {
		return fmt.Sprintf("outcome(%d)", o)
	}
	return outcomeNames[o]
}

// Sentinel reports whether the outcome carries no feature.
func (o Outcome) Sentinel() bool { return o == Ambiguous || o == Unassigned }

// Assignment is the resolution of one read in one universe.
type Assignment struct {
	Read     string
	Universe feature.Universe
	Outcome  Outcome
	// Feature is the name of the feature, or of the family when
	// FamilyLevel is set. It is empty for sentinel outcomes.
	Feature     string
	FamilyLevel bool
}

func (a Assignment) String() string {
	if a.Outcome.Sentinel() {
		return fmt.Sprintf("%s:%v:%v", a.Read, a.Universe, a.Outcome)
	}
	return fmt.Sprintf("%s:%v:%v:%s", a.Read, a.Universe, a.Outcome, a.Feature)
}

// Target is the result of Collapse.
type Target struct {
	// Name is the feature or family name; empty when ambiguous.
	Name        string
	FamilyLevel bool
}

// Ambiguous reports whether the candidates spanned several families.
func (t Target) Ambiguous() bool { return t.Name == "" }

// Collapse reduces the candidate features of one universe to a single
// target: the feature itself if there is only one, the shared family if
// all candidates belong to one family, and the ambiguous target otherwise.
// fs must not be empty.
func Collapse(fs []*feature.Feature) Target {
	first := fs[0]
	sameFeature, sameFamily := true, true
	for _, f := range fs[1:] {
		if f.Name != first.Name {
			sameFeature = false
		}
		if f.Family != first.Family {
			sameFamily = false
		}
	}
	switch {
	case sameFeature:
		return Target{Name: first.Name}
	case sameFamily:
		return Target{Name: first.Family, FamilyLevel: true}
	}
	return Target{}
}

// Candidate is a read sent to re-alignment.
type Candidate struct {
	Read string
	// Universes are the small-RNA universes the read was a candidate for,
	// from its genomic overlaps or its premap hits.
	Universes feature.UniverseSet
	// Fallback is the read's genomic placement, if it has one.
	Fallback *align.Fragment
}

// Candidates collects the reads to re-align: fragments that touched a
// small-RNA feature, in fragment order, followed by the reads caught by the
// premap pass that have no fragment. premapped maps a read name to the
// universes whose premap index it aligned to; order lists its keys in the
// order they were seen.
func Candidates(frags []align.Fragment, premapped map[string]feature.UniverseSet, order []string) []Candidate {
	var (
		out  []Candidate
		seen = map[string]int{}
	)
	for i := range frags {
		f := &frags[i]
		if f.SmallRNA == 0 {
			continue
		}
		seen[f.Read] = len(out)
		out = append(out, Candidate{Read: f.Read, Universes: f.SmallRNA, Fallback: f})
	}
	for _, name := range order {
		us := premapped[name]
		if i, ok := seen[name]; ok {
			out[i].Universes |= us
			continue
		}
		seen[name] = len(out)
		out = append(out, Candidate{Read: name, Universes: us})
	}
	return out
}

// Stats summarizes a reassignment run.
type Stats struct {
	Candidates int
	// Realigned is the number of candidates with at least one usable hit
	// against the combined index.
	Realigned int
	// Outcomes counts assignments per universe and outcome.
	Outcomes [feature.NumUniverses][NumOutcomes]int
	// UnknownRefs counts alignments to references that are not known
	// tRNA or rRNA features.
	UnknownRefs int
	// WrongStrand counts alignments dropped by the strandedness rule.
	WrongStrand int
}

// Entered returns the number of reads that entered universe u: those
// that were candidates for it or whose best hits lie in it. Each received
// exactly one assignment there.
func (s *Stats) Entered(u feature.Universe) int {
	n := 0
	for _, c := range s.Outcomes[u] {
		n += c
	}
	return n
}

// Opts configures an Engine.
type Opts struct {
	// Strandedness decides which re-alignments count. Combined-index
	// references are feature sequences, so under Sense only forward hits
	// are kept, under Antisense only reverse hits.
	Strandedness align.Strandedness
}

// Engine applies the reassignment policy.
type Engine struct {
	features *feature.Set
	opts     Opts
	Stats    Stats
}

// NewEngine creates an Engine over the given features.
func NewEngine(features *feature.Set, opts Opts) *Engine {
	return &Engine{features: features, opts: opts}
}

type hit struct {
	f     *feature.Feature
	score int
}

func (e *Engine) lookup(ref string) (*feature.Feature, bool) {
	for _, u := range feature.SmallRNA {
		if f, ok := e.features.Lookup(u, ref); ok {
			return f, true
		}
	}
	return nil, false
}

func (e *Engine) hits(alns []*align.Alignment) []hit {
	var hits []hit
	for _, aln := range alns {
		f, ok := e.lookup(aln.Ref())
		if !ok {
			e.Stats.UnknownRefs++
			continue
		}
		if e.opts.Strandedness != align.Unstranded && aln.Strand(e.opts.Strandedness) != feature.StrandForward {
			e.Stats.WrongStrand++
			continue
		}
		score, _ := aln.Score()
		hits = append(hits, hit{f, score})
	}
	return hits
}

// Assign resolves one candidate given its alignments against the combined
// index, which may be empty. It returns one assignment per universe the
// read is resolved in:
//
//  1. best hits on one feature: Unique;
//  2. best hits on several features of one family: Family;
//  3. best hits on several families: Ambiguous;
//  4. no hits: Fallback from the genomic placement's overlaps, or
//     Unassigned in each candidate universe.
//
// Best hits in more than one universe are resolved in each universe
// independently. A candidate universe without best hits is Unassigned, so
// every universe the read entered gets exactly one assignment.
func (e *Engine) Assign(c Candidate, alns []*align.Alignment) []Assignment {
	e.Stats.Candidates++
	hits := e.hits(alns)
	var out []Assignment
	if len(hits) > 0 {
		e.Stats.Realigned++
		best := hits[0].score
		for _, h := range hits[1:] {
			if h.score > best {
				best = h.score
			}
		}
		var byUniverse [feature.NumUniverses][]*feature.Feature
		for _, h := range hits {
			if h.score == best {
				byUniverse[h.f.Universe] = append(byUniverse[h.f.Universe], h.f)
			}
		}
		for _, u := range feature.SmallRNA {
			switch fs := byUniverse[u]; {
			case len(fs) > 0:
				out = append(out, e.assignment(c.Read, u, Collapse(fs), Unique))
			case c.Universes.Has(u):
				// The best hits lie in the other universe.
				out = append(out, e.record(Assignment{Read: c.Read, Universe: u, Outcome: Unassigned}))
			}
		}
		return out
	}
	for _, u := range c.Universes.List() {
		var fs []*feature.Feature
		if fb := c.Fallback; fb != nil {
			fs = e.features.Overlapping(u, fb.Chrom, fb.Start, fb.End, fb.Strand)
		}
		if len(fs) == 0 {
			out = append(out, e.record(Assignment{Read: c.Read, Universe: u, Outcome: Unassigned}))
			continue
		}
		out = append(out, e.assignment(c.Read, u, Collapse(fs), Fallback))
	}
	return out
}

// assignment builds the assignment for target t. resolved is the outcome
// used for a single-feature target: Unique for hits, Fallback for genomic
// placements.
func (e *Engine) assignment(read string, u feature.Universe, t Target, resolved Outcome) Assignment {
	a := Assignment{Read: read, Universe: u}
	switch {
	case t.Ambiguous():
		a.Outcome = Ambiguous
	case resolved == Fallback:
		a.Outcome = Fallback
		a.Feature, a.FamilyLevel = t.Name, t.FamilyLevel
	case t.FamilyLevel:
		a.Outcome = Family
		a.Feature, a.FamilyLevel = t.Name, true
	default:
		a.Outcome = Unique
		a.Feature = t.Name
	}
	return e.record(a)
}

func (e *Engine) record(a Assignment) Assignment {
	e.Stats.Outcomes[a.Universe][a.Outcome]++
	return a
}

// Run assigns every candidate, in order. remapped holds the result of
// merging the combined-index alignments; candidates missing from it have
// no hits.
func (e *Engine) Run(candidates []Candidate, remapped *align.MergeResult) []Assignment {
	byRead := map[string][]*align.Alignment{}
	if remapped != nil {
		for _, r := range remapped.Reads {
			byRead[r.Name] = r.Alignments
		}
	}
	var out []Assignment
	for _, c := range candidates {
		out = append(out, e.Assign(c, byRead[c.Read])...)
	}
	return out
}
