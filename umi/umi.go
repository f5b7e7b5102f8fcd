// Package umi handles unique molecular identifiers. UMIs are moved from the
// read sequence into the read name during trimming, as "<name>_<UMI>", and
// are read back from there by the deduplicator.
package umi

import (
	"fmt"
	"strings"
)

// Separator separates the original read name from the UMI.
const Separator = '_'

var alphabetWithN = [256]bool{'A': true, 'C': true, 'G': true, 'T': true, 'N': true}

// Pattern returns the barcode pattern that extracts the first n bases of
// read 1 as the UMI.
func Pattern(n int) string { return strings.Repeat("N", n) }

// FromReadName returns the UMI suffix of a read name. The name may still
// carry a FASTQ "@" or a mate suffix after whitespace.
func FromReadName(name string) (string, bool) {
	if i := strings.IndexAny(name, " \t"); i >= 0 {
		name = name[:i]
	}
	i := strings.LastIndexByte(name, Separator)
	if i < 0 || i == len(name)-1 {
		return "", false
	}
	return name[i+1:], true
}

// Validate checks that u is n bases drawn from ACGTN.
func Validate(u string, n int) error {
	if len(u) != n {
		return fmt.Errorf("umi: %q has length %d, expected %d", u, len(u), n)
	}
	for i := 0; i < len(u); i++ {
		if !alphabetWithN[u[i]] {
			return fmt.Errorf("umi: %q has invalid base %q", u, u[i])
		}
	}
	return nil
}

// Checker counts read names that lack a well-formed UMI. The zero value
// with Length 0 accepts every name.
type Checker struct {
	// Length is the expected UMI length. Zero disables checking.
	Length int
	// Checked is the number of names passed to Check.
	Checked int
	// Malformed is the number of names without a valid UMI.
	Malformed int
}

// Check records name and reports whether it carries a valid UMI.
func (c *Checker) Check(name string) bool {
	if c.Length == 0 {
		return true
	}
	c.Checked++
	u, ok := FromReadName(name)
	if !ok || Validate(u, c.Length) != nil {
		c.Malformed++
		return false
	}
	return true
}
