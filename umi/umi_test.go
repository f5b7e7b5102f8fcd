package umi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromReadName(t *testing.T) {
	for _, test := range []struct {
		name string
		umi  string
		ok   bool
	}{
		{"NB500956:89:HW2FHBGX2:1:11101:25648:1069_ACGTAC", "ACGTAC", true},
		{"@read1_AAN 1:N:0:ATCACG", "AAN", true},
		{"read1", "", false},
		{"read1_", "", false},
	} {
		u, ok := FromReadName(test.name)
		assert.Equal(t, test.ok, ok, test.name)
		assert.Equal(t, test.umi, u, test.name)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("ACGTN", 5))
	assert.Error(t, Validate("ACGT", 5))
	assert.Error(t, Validate("ACGTX", 5))
	assert.Equal(t, "NNNNNN", Pattern(6))
}

func TestChecker(t *testing.T) {
	var c Checker
	assert.True(t, c.Check("anything"))
	assert.Equal(t, 0, c.Checked)

	c = Checker{Length: 3}
	assert.True(t, c.Check("r1_ACG"))
	assert.False(t, c.Check("r2_ACGT"))
	assert.False(t, c.Check("r3"))
	assert.Equal(t, 3, c.Checked)
	assert.Equal(t, 2, c.Malformed)
}
