package align

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tgirt/umi"
)

// MergeOpts configures Merge.
type MergeOpts struct {
	// MinMapQ is the lowest mapping quality an alignment may have.
	MinMapQ int
	// UMILength, when positive, makes Merge count read names that lack a
	// well-formed UMI suffix.
	UMILength int
}

// Read is a read that survived merging, with its qualifying alignments
// from every aligner.
type Read struct {
	Name       string
	Alignments []*Alignment
}

// MergeStats summarizes a Merge.
type MergeStats struct {
	// Reads is the number of distinct read names seen.
	Reads int
	// Survived is the number of reads with at least one qualifying
	// alignment.
	Survived int
	// Unmapped is the number of reads without any qualifying alignment.
	Unmapped int
	// Kept and Dropped count alignments per aligner.
	Kept    [NumAligners]int
	Dropped [NumAligners]int
	// Supplementary is the number of supplementary records ignored.
	Supplementary int
	// MalformedUMI is the number of reads whose name lacks a valid UMI.
	MalformedUMI int
}

// MergeResult is the output of Merge.
type MergeResult struct {
	// Reads lists the surviving reads in order of first appearance.
	Reads []*Read
	// Unmapped lists the names of the reads that did not survive.
	Unmapped []string
	Stats    MergeStats
}

type readGroup struct {
	name string
	recs [NumAligners][]*Record
}

// Merge reads every source to the end and combines the records by read
// name. A read survives if at least one of its alignments, from any
// aligner, has mapping quality >= opts.MinMapQ and, for paired reads, is a
// proper pair. Only the qualifying alignments of a surviving read are
// kept; ties between aligners are preserved. Sources are closed before
// Merge returns.
func Merge(sources []Source, opts MergeOpts) (*MergeResult, error) {
	var (
		groups = map[string]*readGroup{}
		order  []*readGroup
		res    = &MergeResult{}
		once   errors.Once
	)
	for _, src := range sources {
		for src.Scan() {
			rec := src.Record()
			if rec.Supplementary() {
				res.Stats.Supplementary++
				continue
			}
			g, ok := groups[rec.Name]
			if !ok {
				g = &readGroup{name: rec.Name}
				groups[rec.Name] = g
				order = append(order, g)
			}
			g.recs[rec.Aligner] = append(g.recs[rec.Aligner], rec)
		}
		once.Set(src.Close())
	}
	if err := once.Err(); err != nil {
		return nil, err
	}

	checker := umi.Checker{Length: opts.UMILength}
	for _, g := range order {
		res.Stats.Reads++
		checker.Check(g.name)
		read := &Read{Name: g.name}
		for a, recs := range g.recs {
			for _, aln := range pairMates(Aligner(a), recs) {
				if qualifies(aln, opts.MinMapQ) {
					read.Alignments = append(read.Alignments, aln)
					res.Stats.Kept[a]++
				} else {
					res.Stats.Dropped[a]++
				}
			}
		}
		if len(read.Alignments) == 0 {
			res.Stats.Unmapped++
			res.Unmapped = append(res.Unmapped, g.name)
			continue
		}
		res.Stats.Survived++
		res.Reads = append(res.Reads, read)
	}
	res.Stats.MalformedUMI = checker.Malformed
	if res.Stats.MalformedUMI > 0 {
		log.Printf("merge: %d of %d reads have no %d-base UMI in their name",
			res.Stats.MalformedUMI, res.Stats.Reads, opts.UMILength)
	}
	return res, nil
}

func qualifies(a *Alignment, minMapQ int) bool {
	for _, m := range a.Mates {
		if m.Unmapped() {
			return false
		}
	}
	return a.MapQ() >= minMapQ && a.ProperPair()
}

// pairMates groups the records of one read from one aligner into
// alignments. Mates are matched by reference and position: read 1 at
// (ref, pos) pairs with the read 2 whose mate fields point back at it.
// Mates that cannot be matched form single-record alignments, which never
// qualify.
func pairMates(a Aligner, recs []*Record) []*Alignment {
	var (
		alns []*Alignment
		r2s  []*Record
		used []bool
	)
	for _, r := range recs {
		if r.Paired() && !r.Read1() {
			r2s = append(r2s, r)
		}
	}
	used = make([]bool, len(r2s))
	for _, r := range recs {
		if r.Paired() && !r.Read1() {
			continue
		}
		aln := &Alignment{Aligner: a, Mates: []*Record{r}}
		if r.Paired() {
			for i, m := range r2s {
				if !used[i] && matesAgree(r, m) {
					used[i] = true
					aln.Mates = append(aln.Mates, m)
					break
				}
			}
		}
		alns = append(alns, aln)
	}
	for i, m := range r2s {
		if !used[i] {
			alns = append(alns, &Alignment{Aligner: a, Mates: []*Record{m}})
		}
	}
	return alns
}

// matesAgree reports whether r2 is the mate of r1 in the same placement.
// Two unmapped mates agree with each other.
func matesAgree(r1, r2 *Record) bool {
	if r1.Unmapped() || r2.Unmapped() {
		return r1.Unmapped() && r2.Unmapped()
	}
	return r2.Ref == r1.MateRef && r2.Pos == r1.MatePos && r2.MateRef == r1.Ref && r2.MatePos == r1.Pos
}

// Resolve picks one alignment among alns: highest mapping quality first,
// then the splice aligner over the local aligner, then the smallest
// reference name, then the smallest start and end. The result depends
// only on the alignments, not on their order. Resolve returns nil if alns
// is empty.
func Resolve(alns []*Alignment) *Alignment {
	if len(alns) == 0 {
		return nil
	}
	sorted := append([]*Alignment(nil), alns...)
	sort.SliceStable(sorted, func(i, j int) bool { return lessAlignment(sorted[i], sorted[j]) })
	return sorted[0]
}

func lessAlignment(a, b *Alignment) bool {
	if qa, qb := a.MapQ(), b.MapQ(); qa != qb {
		return qa > qb
	}
	if a.Aligner != b.Aligner {
		return a.Aligner < b.Aligner
	}
	if a.Ref() != b.Ref() {
		return a.Ref() < b.Ref()
	}
	if a.Start() != b.Start() {
		return a.Start() < b.Start()
	}
	return a.End() < b.End()
}
