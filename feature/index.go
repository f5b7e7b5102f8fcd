package feature

import (
	"github.com/biogo/store/interval"
)

// treeEntry adapts one block of a Feature to interval.IntInterface. order
// is the position of the feature in the indexed list.
type treeEntry struct {
	f     *Feature
	b     Block
	order int
	id    uintptr
}

func (e treeEntry) Overlap(b interval.IntRange) bool {
	return e.b.Start < b.End && b.Start < e.b.End
}
func (e treeEntry) ID() uintptr              { return e.id }
func (e treeEntry) Range() interval.IntRange { return interval.IntRange{Start: e.b.Start, End: e.b.End} }

// query is a half-open interval used to search a tree.
type query struct{ start, end int }

func (q query) Overlap(b interval.IntRange) bool {
	return q.start < b.End && b.Start < q.end
}

// Index answers overlap queries against a fixed set of features. It keeps
// one interval tree per chromosome. An Index is immutable once built and is
// safe for concurrent use.
type Index struct {
	trees map[string]*interval.IntTree
	n     int
}

// NewIndex builds an index over the blocks of features.
func NewIndex(features []*Feature) (*Index, error) {
	idx := &Index{trees: map[string]*interval.IntTree{}}
	for i, f := range features {
		for _, b := range f.blocks() {
			t, ok := idx.trees[b.Chrom]
			if !ok {
				t = &interval.IntTree{}
				idx.trees[b.Chrom] = t
			}
			if b.End <= b.Start {
				// Empty blocks can never overlap anything.
				continue
			}
			if err := t.Insert(treeEntry{f: f, b: b, order: i, id: uintptr(idx.n)}, true); err != nil {
				return nil, err
			}
			idx.n++
		}
	}
	for _, t := range idx.trees {
		t.AdjustRanges()
	}
	return idx, nil
}

// Len returns the number of indexed intervals.
func (idx *Index) Len() int { return idx.n }

// Overlapping returns the features with a block that overlaps [start,end)
// on chrom, once each, in the order they were given to NewIndex. If strand
// is not StrandNone, blocks on the opposite strand are excluded;
// unstranded blocks always match.
func (idx *Index) Overlapping(chrom string, start, end int, strand Strand) []*Feature {
	t, ok := idx.trees[chrom]
	if !ok || end <= start {
		return nil
	}
	hits := t.Get(query{start, end})
	if len(hits) == 0 {
		return nil
	}
	out := make([]*Feature, 0, len(hits))
	orders := make([]int, 0, len(hits))
outer:
	for _, h := range hits {
		e := h.(treeEntry)
		if strand != StrandNone && e.b.Strand != StrandNone && e.b.Strand != strand {
			continue
		}
		for _, o := range orders {
			if o == e.order {
				continue outer
			}
		}
		// Insertion sort keeps results in load order; hit lists are tiny.
		i := len(orders)
		orders = append(orders, e.order)
		out = append(out, e.f)
		for ; i > 0 && orders[i-1] > orders[i]; i-- {
			orders[i-1], orders[i] = orders[i], orders[i-1]
			out[i-1], out[i] = out[i], out[i-1]
		}
	}
	return out
}
