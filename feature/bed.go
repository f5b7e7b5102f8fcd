package feature

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// bedColumns is the number of leading BED columns we look at: chrom, start,
// end, name, score, strand.
const bedColumns = 6

// splitFields fills tokens with up to len(tokens) whitespace-delimited
// fields of line and returns the number of fields found.
func splitFields(tokens [][]byte, line []byte) int {
	end := 0
	n := len(line)
	for i := range tokens {
		start := end
		for ; start != n && line[start] <= ' '; start++ {
		}
		if start == n {
			return i
		}
		end = start
		for ; end != n && line[end] > ' '; end++ {
		}
		tokens[i] = line[start:end]
	}
	return len(tokens)
}

func isHeaderLine(line []byte) bool {
	for _, prefix := range []string{"#", "track", "browser"} {
		if len(line) >= len(prefix) && string(line[:len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

// ReadBED parses BED records from r as features of universe u. Records
// without a name column are named "chrom:start-end". The family key of each
// feature is computed by policy.
func ReadBED(r io.Reader, u Universe, policy FamilyPolicy) ([]*Feature, error) {
	var (
		tokens   [bedColumns][]byte
		features []*Feature
		lineno   int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		lineno++
		line := scanner.Bytes()
		if isHeaderLine(line) {
			continue
		}
		n := splitFields(tokens[:], line)
		if n == 0 {
			continue
		}
		if n < 3 {
			return nil, fmt.Errorf("feature.ReadBED: line %d: expected at least 3 columns, got %d", lineno, n)
		}
		start, err := strconv.Atoi(string(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("feature.ReadBED: line %d: start: %v", lineno, err)
		}
		end, err := strconv.Atoi(string(tokens[2]))
		if err != nil {
			return nil, fmt.Errorf("feature.ReadBED: line %d: end: %v", lineno, err)
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("feature.ReadBED: line %d: invalid interval [%d,%d)", lineno, start, end)
		}
		f := &Feature{
			Universe: u,
			Chrom:    string(tokens[0]),
			Start:    start,
			End:      end,
			Strand:   StrandNone,
		}
		if n > 3 {
			f.Name = string(tokens[3])
		} else {
			f.Name = fmt.Sprintf("%s:%d-%d", f.Chrom, start, end)
		}
		if n > 5 {
			if f.Strand, err = ParseStrand(string(tokens[5])); err != nil {
				return nil, fmt.Errorf("feature.ReadBED: line %d: %v", lineno, err)
			}
		}
		f.Family = policy.Family(f.Name)
		features = append(features, f)
	}
	return features, scanner.Err()
}

// LoadBED reads a BED file, optionally gzip-compressed.
func LoadBED(ctx context.Context, path string, u Universe, policy FamilyPolicy) (features []*Feature, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open feature file", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, "gunzip", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	if features, err = ReadBED(r, u, policy); err != nil {
		return nil, errors.E(err, path)
	}
	return features, nil
}
