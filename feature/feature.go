// Package feature holds the annotated intervals that reads are counted
// against. Features belong to one of three universes (tRNA, rRNA and
// genome-wide genes); each universe has its own feature list, family
// grouping and count table.
package feature

import (
	"fmt"
	"strings"
)

// Universe is one of the independent counting domains.
type Universe uint8

const (
	// TRNA is the transfer RNA universe.
	TRNA Universe = iota
	// RRNA is the ribosomal RNA universe.
	RRNA
	// Genes is the genome-wide gene universe.
	Genes
	// NumUniverses is the number of universes.
	NumUniverses
)

// Universes lists every universe in table order.
var Universes = []Universe{TRNA, RRNA, Genes}

// SmallRNA lists the universes that are resolved through the combined
// tRNA+rRNA index.
var SmallRNA = []Universe{TRNA, RRNA}

var universeNames = [NumUniverses]string{"tRNA", "rRNA", "genes"}

func (u Universe) String() string {
	if u >= NumUniverses {
		return fmt.Sprintf("universe(%d)", u)
	}
	return universeNames[u]
}

// ParseUniverse converts the result of Universe.String back to a Universe.
// The match is case-insensitive.
func ParseUniverse(s string) (Universe, error) {
	for u, name := range universeNames {
		if strings.EqualFold(s, name) {
			return Universe(u), nil
		}
	}
	return NumUniverses, fmt.Errorf("feature: unknown universe %q", s)
}

// Strand is the orientation of a feature or a fragment, in BED notation.
type Strand byte

const (
	// StrandNone means the orientation is unknown or irrelevant.
	StrandNone Strand = '.'
	// StrandForward is the '+' strand.
	StrandForward Strand = '+'
	// StrandReverse is the '-' strand.
	StrandReverse Strand = '-'
)

// Flip returns the opposite strand. StrandNone flips to itself.
func (s Strand) Flip() Strand {
	switch s {
	case StrandForward:
		return StrandReverse
	case StrandReverse:
		return StrandForward
	}
	return s
}

func (s Strand) String() string { return string(s) }

// ParseStrand parses a BED strand column.
func ParseStrand(s string) (Strand, error) {
	switch s {
	case "+":
		return StrandForward, nil
	case "-":
		return StrandReverse, nil
	case ".", "":
		return StrandNone, nil
	}
	return StrandNone, fmt.Errorf("feature: invalid strand %q", s)
}

// Feature is a named genomic interval. Coordinates are 0-based, half-open.
type Feature struct {
	Name     string
	Universe Universe
	Chrom    string
	Start    int
	End      int
	Strand   Strand
	// Family is the family key computed by the universe's FamilyPolicy.
	Family string
	// Blocks lists the intervals of a feature defined on several lines,
	// such as the exons of a gene. It is empty when the feature has the
	// single interval Chrom:[Start,End).
	Blocks []Block
	// id is the dense index of the feature within its universe.
	id int
}

// Block is one interval of a feature.
type Block struct {
	Chrom      string
	Start, End int
	Strand     Strand
}

// blocks returns the intervals of f.
func (f *Feature) blocks() []Block {
	if len(f.Blocks) > 0 {
		return f.Blocks
	}
	return []Block{{Chrom: f.Chrom, Start: f.Start, End: f.End, Strand: f.Strand}}
}

// addBlock adds the interval of o, a later line with the same name, to f.
// The interval of f grows to span o when both lie on one chromosome.
func (f *Feature) addBlock(o *Feature) {
	f.Blocks = append(f.blocks(), o.blocks()...)
	if o.Chrom != f.Chrom {
		return
	}
	if o.Start < f.Start {
		f.Start = o.Start
	}
	if o.End > f.End {
		f.End = o.End
	}
}

// ID returns the dense index of the feature within its universe.
func (f *Feature) ID() int { return f.id }

func (f *Feature) String() string {
	return fmt.Sprintf("%s(%s:%d-%d%c)", f.Name, f.Chrom, f.Start, f.End, f.Strand)
}

// Family is a group of features that are indistinguishable for counting
// purposes, e.g. the isodecoders of one tRNA anticodon.
type Family struct {
	Name     string
	Universe Universe
	// Members lists the member feature names in load order.
	Members []string
}

// UniverseSet is a set of universes.
type UniverseSet uint8

// Add adds u to the set.
func (s *UniverseSet) Add(u Universe) { *s |= 1 << u }

// Has reports whether u is in the set.
func (s UniverseSet) Has(u Universe) bool { return s&(1<<u) != 0 }

// List returns the members of the set in universe order.
func (s UniverseSet) List() []Universe {
	var out []Universe
	for _, u := range Universes {
		if s.Has(u) {
			out = append(out, u)
		}
	}
	return out
}

// String returns the members joined by ",", or "." for the empty set.
func (s UniverseSet) String() string {
	if s == 0 {
		return "."
	}
	var names []string
	for _, u := range s.List() {
		names = append(names, u.String())
	}
	return strings.Join(names, ",")
}

// ParseUniverseSet parses the result of UniverseSet.String.
func ParseUniverseSet(str string) (UniverseSet, error) {
	var s UniverseSet
	if str == "." || str == "" {
		return s, nil
	}
	for _, name := range strings.Split(str, ",") {
		u, err := ParseUniverse(name)
		if err != nil {
			return 0, err
		}
		s.Add(u)
	}
	return s, nil
}
