package feature

import (
	"context"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// FileNames are the base names of the feature definition files, per
// universe, inside the feature directory. A ".gz" variant is also accepted.
var FileNames = [NumUniverses]string{
	TRNA:  "tRNA.bed",
	RRNA:  "rRNA.bed",
	Genes: "genes.bed",
}

// Policies holds the family policy of each universe.
type Policies [NumUniverses]FamilyPolicy

// DefaultPolicies returns the default family policies: anticodon families
// for tRNA, copy-number stripping for rRNA, and one family per gene.
func DefaultPolicies() Policies {
	var p Policies
	p[TRNA] = mustRegexpFamily(DefaultTRNAFamily)
	p[RRNA] = mustRegexpFamily(DefaultRRNAFamily)
	p[Genes] = IdentityFamily{}
	return p
}

func mustRegexpFamily(expr string) FamilyPolicy {
	p, err := NewRegexpFamily(expr)
	if err != nil {
		log.Panic(err)
	}
	return p
}

type universeSet struct {
	features []*Feature
	byName   map[string]*Feature
	families []*Family
	byFamily map[string]*Family
	index    *Index
}

// Set is the complete, read-only feature annotation of a run.
type Set struct {
	u [NumUniverses]universeSet
}

// NewSet builds a Set from per-universe feature lists. Feature IDs are
// assigned in list order. Later entries that repeat a name within a
// universe, such as the exons of one gene, become extra blocks of the
// first entry with that name.
func NewSet(features [NumUniverses][]*Feature, policies Policies) (*Set, error) {
	s := &Set{}
	for u := Universe(0); u < NumUniverses; u++ {
		us := &s.u[u]
		us.byName = make(map[string]*Feature, len(features[u]))
		us.byFamily = map[string]*Family{}
		for _, f := range features[u] {
			if first, ok := us.byName[f.Name]; ok {
				first.addBlock(f)
				continue
			}
			f.Universe = u
			f.id = len(us.features)
			us.features = append(us.features, f)
			if f.Family == "" {
				f.Family = policies[u].Family(f.Name)
			}
			us.byName[f.Name] = f
			fam, ok := us.byFamily[f.Family]
			if !ok {
				fam = &Family{Name: f.Family, Universe: u}
				us.byFamily[f.Family] = fam
				us.families = append(us.families, fam)
			}
			fam.Members = append(fam.Members, f.Name)
		}
		var err error
		if us.index, err = NewIndex(us.features); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load reads the feature definition files from dir.
func Load(ctx context.Context, dir string, policies Policies) (*Set, error) {
	var features [NumUniverses][]*Feature
	for _, u := range Universes {
		path, err := FindFile(ctx, dir, u)
		if err != nil {
			return nil, err
		}
		if features[u], err = LoadBED(ctx, path, u, policies[u]); err != nil {
			return nil, err
		}
		log.Debug.Printf("loaded %d %v features from %s", len(features[u]), u, path)
	}
	return NewSet(features, policies)
}

// FindFile returns the path of the definition file of universe u in dir.
func FindFile(ctx context.Context, dir string, u Universe) (string, error) {
	base := filepath.Join(dir, FileNames[u])
	for _, path := range []string{base, base + ".gz"} {
		if _, err := file.Stat(ctx, path); err == nil {
			return path, nil
		}
	}
	return "", errors.E(errors.NotExist, "no", u.String(), "feature file", base)
}

// Features returns the features of universe u in load order.
func (s *Set) Features(u Universe) []*Feature { return s.u[u].features }

// Lookup finds a feature of universe u by name.
func (s *Set) Lookup(u Universe, name string) (*Feature, bool) {
	f, ok := s.u[u].byName[name]
	return f, ok
}

// Families returns the families of universe u that have more than one
// member, in order of first appearance. Single-member families are
// represented by their only feature.
func (s *Set) Families(u Universe) []*Family {
	var out []*Family
	for _, fam := range s.u[u].families {
		if len(fam.Members) > 1 {
			out = append(out, fam)
		}
	}
	return out
}

// Overlapping returns the features of universe u that overlap the interval.
// See Index.Overlapping.
func (s *Set) Overlapping(u Universe, chrom string, start, end int, strand Strand) []*Feature {
	return s.u[u].index.Overlapping(chrom, start, end, strand)
}
