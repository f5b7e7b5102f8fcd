// Package fastq reads and writes FASTQ files and extracts read subsets
// from them.
package fastq

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

var (
	// ErrShort is returned when a truncated FASTQ file is encountered.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is returned when an invalid FASTQ file is encountered.
	ErrInvalid = errors.New("invalid FASTQ file")
	// ErrDiscordant is returned when the two files of a pair don't have the
	// same reads in the same order.
	ErrDiscordant = errors.New("discordant FASTQ pairs")
)

// A Read is one FASTQ record. ID is the full header line, including the
// leading "@".
type Read struct {
	ID, Seq, Unk, Qual string
}

// Name returns the read name as aligners report it: the ID without the
// leading "@", anything after the first whitespace, and a trailing "/1" or
// "/2" mate suffix.
func (r *Read) Name() string { return ReadName(r.ID) }

// ReadName normalizes a FASTQ header line or a SAM QNAME to a read name.
// See Read.Name.
func ReadName(id string) string {
	id = strings.TrimPrefix(id, "@")
	if i := strings.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	if n := len(id); n > 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		id = id[:n-2]
	}
	return id
}

// maxLine bounds the length of a FASTQ line.
const maxLine = 1 << 20

// Scanner reads FASTQ records. It checks that headers start with "@" and
// separators with "+"; sequence content is not validated. Scanners are not
// threadsafe.
type Scanner struct {
	b   *bufio.Scanner
	n   int
	err error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 64<<10), maxLine)
	return &Scanner{b: b}
}

// Scan reads the next record into read. It returns false at end of input
// or on error; Err distinguishes the two.
func (s *Scanner) Scan(read *Read) bool {
	if s.err != nil {
		return false
	}
	var lines [4]string
	for i := range lines {
		if !s.b.Scan() {
			s.err = s.b.Err()
			if s.err == nil {
				if i == 0 {
					s.err = io.EOF
				} else {
					s.err = ErrShort
				}
			}
			return false
		}
		lines[i] = s.b.Text()
	}
	if !strings.HasPrefix(lines[0], "@") || !strings.HasPrefix(lines[2], "+") {
		s.err = ErrInvalid
		return false
	}
	read.ID, read.Seq, read.Unk, read.Qual = lines[0], lines[1], lines[2], lines[3]
	s.n++
	return true
}

// N returns the number of records scanned so far.
func (s *Scanner) N() int { return s.n }

// Err returns the error that stopped scanning, or nil at a clean end of
// input.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// PairScanner scans the R1 and R2 files of a paired library in lockstep.
type PairScanner struct {
	r1, r2 *Scanner
	err    error
}

// NewPairScanner creates a PairScanner from the R1 and R2 readers.
func NewPairScanner(r1, r2 io.Reader) *PairScanner {
	return &PairScanner{r1: NewScanner(r1), r2: NewScanner(r2)}
}

// Scan reads the next pair. It fails with ErrDiscordant if one file ends
// before the other or if the mates have different names.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	if p.err != nil {
		return false
	}
	ok1, ok2 := p.r1.Scan(r1), p.r2.Scan(r2)
	if ok1 != ok2 {
		p.err = ErrDiscordant
		return false
	}
	if ok1 && r1.Name() != r2.Name() {
		p.err = ErrDiscordant
		return false
	}
	return ok1
}

// Err returns the error that stopped scanning, if any.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}
