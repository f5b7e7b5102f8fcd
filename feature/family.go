package feature

import (
	"regexp"

	"github.com/grailbio/base/errors"
)

const (
	// DefaultTRNAFamily groups tRNA genes by amino acid and anticodon, so
	// "tRNA-Ala-AGC-1-1" and "tRNA-Ala-AGC-2-1" share the family
	// "tRNA-Ala-AGC".
	DefaultTRNAFamily = `(?i)((?:nm-|mt-)?tRNA-[A-Za-z]+-[A-Za-z]{3})`
	// DefaultRRNAFamily strips the copy number from the names of the
	// nuclear rRNA repeats, so "RNA45SN1" and "RNA45SN2" share the family
	// "RNA45SN". Other names, such as MT-RNR1 and MT-RNR2, are their own
	// family.
	DefaultRRNAFamily = `^(RNA(?:5-8S|5S|18S|28S|45S)N?)\d+$`
)

// FamilyPolicy maps a feature name to its family key. Two features are in
// the same family iff their keys are equal.
type FamilyPolicy interface {
	Family(name string) string
}

// IdentityFamily puts every feature in its own family.
type IdentityFamily struct{}

// Family implements FamilyPolicy.
func (IdentityFamily) Family(name string) string { return name }

// RegexpFamily takes the first capture group of a regexp as the family
// key. Names that don't match, or whose capture is empty, are their own
// family.
type RegexpFamily struct {
	re *regexp.Regexp
}

// NewRegexpFamily compiles expr. The expression must have at least one
// capture group.
func NewRegexpFamily(expr string) (*RegexpFamily, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "family pattern", expr)
	}
	if re.NumSubexp() < 1 {
		return nil, errors.E(errors.Invalid, "family pattern has no capture group:", expr)
	}
	return &RegexpFamily{re: re}, nil
}

// Family implements FamilyPolicy.
func (p *RegexpFamily) Family(name string) string {
	m := p.re.FindStringSubmatch(name)
	if len(m) < 2 || m[1] == "" {
		return name
	}
	return m[1]
}

func (p *RegexpFamily) String() string { return p.re.String() }
