// Package align merges and filters the alignments produced by the splice
// aware and local aligners, resolves multi-mapping reads to a single
// genomic placement and converts the result to fragment intervals.
package align

import (
	"fmt"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/tgirt/feature"
)

// Aligner identifies the tool that produced an alignment. Lower values win
// ties in Resolve.
type Aligner uint8

const (
	// SpliceAligner is the splice-aware genome aligner (hisat2).
	SpliceAligner Aligner = iota
	// LocalAligner is the local short-read aligner (bowtie2).
	LocalAligner
	// NumAligners is the number of aligners.
	NumAligners
)

var alignerNames = [NumAligners]string{"hisat2", "bowtie2"}

func (a Aligner) String() string {
	if a >= NumAligners {
		return fmt.Sprintf("aligner(%d)", a)
	}
	return alignerNames[a]
}

// ParseAligner converts the result of Aligner.String back to an Aligner.
func ParseAligner(s string) (Aligner, error) {
	for a, name := range alignerNames {
		if s == name {
			return Aligner(a), nil
		}
	}
	return NumAligners, fmt.Errorf("align: unknown aligner %q", s)
}

var (
	// AlignerTag records the originating aligner on records written to the
	// merged BAM, so that Resolve can break ties after the merge.
	AlignerTag = sam.NewTag("ZA")
	scoreTag   = sam.NewTag("AS")
)

// Record is one SAM record reduced to what merging and counting need.
type Record struct {
	Name    string
	Ref     string
	Pos     int // 0-based
	End     int // exclusive
	Flags   sam.Flags
	MapQ    int
	MateRef string
	MatePos int
	// Score is the aligner's alignment score (AS tag). HasScore is false
	// when the record has no AS tag.
	Score    int
	HasScore bool
	Aligner  Aligner
	// Sam is the record this one was made from.
	Sam *sam.Record
}

// NewRecord converts r. The AlignerTag, if present, overrides a.
func NewRecord(r *sam.Record, a Aligner) *Record {
	rec := &Record{
		Name:    r.Name,
		Pos:     r.Pos,
		End:     r.End(),
		Flags:   r.Flags,
		MapQ:    int(r.MapQ),
		MatePos: r.MatePos,
		Aligner: a,
		Sam:     r,
	}
	if r.Ref != nil {
		rec.Ref = r.Ref.Name()
	}
	if r.MateRef != nil {
		rec.MateRef = r.MateRef.Name()
	}
	if aux := r.AuxFields.Get(AlignerTag); aux != nil {
		if s, ok := aux.Value().(string); ok {
			if tagged, err := ParseAligner(s); err == nil {
				rec.Aligner = tagged
			}
		}
	}
	if aux := r.AuxFields.Get(scoreTag); aux != nil {
		rec.Score, rec.HasScore = auxInt(aux.Value())
	}
	return rec
}

func auxInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int8:
		return int(x), true
	case uint8:
		return int(x), true
	case int16:
		return int(x), true
	case uint16:
		return int(x), true
	case int32:
		return int(x), true
	case uint32:
		return int(x), true
	case int:
		return x, true
	}
	return 0, false
}

// Unmapped reports whether the record carries no placement.
func (r *Record) Unmapped() bool { return r.Flags&sam.Unmapped != 0 || r.Ref == "" }

// Paired reports whether the read is one mate of a pair.
func (r *Record) Paired() bool { return r.Flags&sam.Paired != 0 }

// ProperPair reports whether the aligner flagged the pair as proper.
func (r *Record) ProperPair() bool { return r.Flags&sam.ProperPair != 0 }

// Read1 reports whether the record is the first mate.
func (r *Record) Read1() bool { return r.Flags&sam.Read1 != 0 }

// Reverse reports whether the record is on the reverse strand.
func (r *Record) Reverse() bool { return r.Flags&sam.Reverse != 0 }

// Supplementary reports whether the record is a supplementary (chimeric)
// piece of an alignment.
func (r *Record) Supplementary() bool { return r.Flags&sam.Supplementary != 0 }

// Strandedness says how the orientation of a fragment relates to the
// orientation of its read 1.
type Strandedness uint8

const (
	// Sense libraries have read 1 on the transcript strand.
	Sense Strandedness = iota
	// Antisense libraries have read 1 on the opposite strand.
	Antisense
	// Unstranded libraries carry no strand information.
	Unstranded
)

var strandednessNames = []string{"sense", "antisense", "none"}

func (s Strandedness) String() string {
	if int(s) >= len(strandednessNames) {
		return fmt.Sprintf("strandedness(%d)", s)
	}
	return strandednessNames[s]
}

// ParseStrandedness parses "sense", "antisense" or "none".
func ParseStrandedness(s string) (Strandedness, error) {
	for i, name := range strandednessNames {
		if s == name {
			return Strandedness(i), nil
		}
	}
	return Unstranded, fmt.Errorf("align: unknown strandedness %q, expected sense, antisense or none", s)
}

// Alignment is one placement of a read: a single record for single-end
// reads, or the two mate records of a pair. A paired read whose mate could
// not be matched has a single record and is never a proper pair.
type Alignment struct {
	Aligner Aligner
	Mates   []*Record
}

// Ref returns the reference name of the alignment.
func (a *Alignment) Ref() string { return a.Mates[0].Ref }

// Start returns the leftmost 0-based position over all mates.
func (a *Alignment) Start() int {
	s := a.Mates[0].Pos
	for _, m := range a.Mates[1:] {
		if m.Pos < s {
			s = m.Pos
		}
	}
	return s
}

// End returns the rightmost exclusive end over all mates.
func (a *Alignment) End() int {
	e := a.Mates[0].End
	for _, m := range a.Mates[1:] {
		if m.End > e {
			e = m.End
		}
	}
	return e
}

// MapQ returns the lowest mapping quality of the mates.
func (a *Alignment) MapQ() int {
	q := a.Mates[0].MapQ
	for _, m := range a.Mates[1:] {
		if m.MapQ < q {
			q = m.MapQ
		}
	}
	return q
}

// Score returns the summed alignment score of the mates. When any mate
// lacks an AS tag the mapping quality is used instead and ok is false.
func (a *Alignment) Score() (score int, ok bool) {
	for _, m := range a.Mates {
		if !m.HasScore {
			return a.MapQ(), false
		}
		score += m.Score
	}
	return score, true
}

// Paired reports whether the alignment belongs to a paired read.
func (a *Alignment) Paired() bool { return a.Mates[0].Paired() }

// ProperPair reports whether the alignment satisfies the pairing
// requirement: single-end reads always do, paired reads need both mates
// with the proper-pair flag set.
func (a *Alignment) ProperPair() bool {
	if !a.Paired() {
		return true
	}
	return len(a.Mates) == 2 && a.Mates[0].ProperPair() && a.Mates[1].ProperPair()
}

// Strand returns the orientation of the fragment under the given
// strandedness, derived from read 1 (or the only mate).
func (a *Alignment) Strand(s Strandedness) feature.Strand {
	if s == Unstranded {
		return feature.StrandNone
	}
	m := a.Mates[0]
	for _, mate := range a.Mates {
		if mate.Read1() {
			m = mate
			break
		}
	}
	st := feature.StrandForward
	if m.Reverse() {
		st = feature.StrandReverse
	}
	if s == Antisense {
		st = st.Flip()
	}
	return st
}

func (a *Alignment) String() string {
	return fmt.Sprintf("%s:%d-%d(%v,q%d)", a.Ref(), a.Start(), a.End(), a.Aligner, a.MapQ())
}
