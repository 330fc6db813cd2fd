// Package vcf provides a minimal streaming scanner for VCF (Variant
// Call Format) text, reading only the fields requested by the caller.
// It understands just enough of the format to drive genotype
// benchmarking: fixed site columns, the ALT cardinality of each
// variant, and the GT entry of each sample column.
package vcf

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalid is returned when a malformed VCF record is encountered.
	ErrInvalid = errors.New("invalid VCF file")
	// ErrNoHeader is returned when the #CHROM header line is missing.
	ErrNoHeader = errors.New("VCF file has no header line")
)

var errEOF = errors.New("eof")

// MissingAllele is the call value stored for an uncalled ("." ) allele.
const MissingAllele = int8(-1)

// A Record is a single VCF data line. Only the fields requested in
// NewScanner are filled; the rest retain their zero values.
type Record struct {
	Chrom  string
	Pos    int32
	ID     string
	Ref    string
	Alt    []string
	Qual   float32
	Filter string
	// NumAlt is the number of alternate alleles at the site (0 when
	// ALT is "."). It is filled whenever the NumAlt or Alt field is
	// requested.
	NumAlt int
	// Calls holds samples*ploidy allele indexes in sample-major order,
	// MissingAllele for uncalled entries. The slice is reused across
	// Scan calls.
	Calls  []int8
	Ploidy int
}

// Field enumerates VCF fields. It is used to specify fields to read in
// NewScanner.
type Field uint

const (
	// Chrom causes the Record.Chrom field to be filled.
	Chrom Field = 1 << iota
	// Pos causes the Record.Pos field to be filled.
	Pos
	// ID causes the Record.ID field to be filled.
	ID
	// Ref causes the Record.Ref field to be filled.
	Ref
	// Alt causes the Record.Alt field to be filled.
	Alt
	// Qual causes the Record.Qual field to be filled.
	Qual
	// Filter causes the Record.Filter field to be filled.
	Filter
	// NumAlt causes the Record.NumAlt field to be filled. Scanning
	// only this field skips sample-column parsing entirely, which is
	// what the alt-cardinality prescan wants.
	NumAlt
	// Calls causes the Record.Calls and Record.Ploidy fields to be
	// filled from the GT entry of every sample column.
	Calls
	// All equals every field above.
	All = Chrom | Pos | ID | Ref | Alt | Qual | Filter | NumAlt | Calls
)

// Sites equals the per-variant fields, without sample call data.
const Sites = Chrom | Pos | ID | Ref | Alt | Qual | Filter | NumAlt

const (
	// Scanner buffer geometry. Sample-rich VCF lines routinely exceed
	// bufio's default 64KiB token limit.
	initialBufSize = 256 << 10
	maxBufSize     = 64 << 20
)

// Scanner reads VCF data lines one record at a time. The Scan method
// fills the next record, returning a boolean indicating whether the
// read succeeded. Scanners are not threadsafe.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	fields  Field
	samples []string
	line    int
	gtIndex int
	counts  []int // per-sample allele counts, reused across records
}

// NewScanner constructs a Scanner that reads raw VCF text from the
// provided reader. It consumes the meta lines and the #CHROM header
// line before returning, so the sample list is available immediately.
// Fields is a bitset of the record fields to fill during Scan.
func NewScanner(r io.Reader, fields Field) (*Scanner, error) {
	s := &Scanner{
		b:       bufio.NewScanner(r),
		fields:  fields,
		gtIndex: -1,
	}
	s.b.Buffer(make([]byte, initialBufSize), maxBufSize)
	for s.b.Scan() {
		s.line++
		text := s.b.Text()
		if strings.HasPrefix(text, "##") {
			continue
		}
		if strings.HasPrefix(text, "#CHROM") {
			cols := strings.Split(text, "\t")
			if len(cols) > fixedColumns+1 {
				s.samples = cols[fixedColumns+1:]
			}
			return s, nil
		}
		return nil, errors.Wrapf(ErrNoHeader, "line %d: unexpected data before header", s.line)
	}
	if err := s.b.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoHeader
}

// Samples returns the sample names declared on the header line, in
// column order.
func (s *Scanner) Samples() []string { return s.samples }

// The eight fixed site columns preceding FORMAT.
const fixedColumns = 8

// Scan the next record into rec. Scan returns a boolean indicating
// whether the scan succeeded. Once Scan returns false, it never
// returns true again. Upon completion, the user should check the Err
// method to determine whether scanning stopped because of an error or
// because the end of the stream was reached.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	s.line++
	return s.parse(s.b.Text(), rec)
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

func (s *Scanner) parse(text string, rec *Record) bool {
	// The prescan path reads only the fixed columns; splitting the
	// full line would copy every sample column for nothing.
	var cols []string
	if s.fields&Calls == 0 {
		cols = strings.SplitN(text, "\t", fixedColumns+1)
	} else {
		cols = strings.Split(text, "\t")
	}
	if len(cols) < fixedColumns {
		s.err = errors.Wrapf(ErrInvalid, "line %d: %d columns", s.line, len(cols))
		return false
	}
	if s.fields&Chrom != 0 {
		rec.Chrom = cols[0]
	}
	if s.fields&Pos != 0 {
		pos, err := strconv.Atoi(cols[1])
		if err != nil {
			s.err = errors.Wrapf(ErrInvalid, "line %d: bad POS %q", s.line, cols[1])
			return false
		}
		rec.Pos = int32(pos)
	}
	if s.fields&ID != 0 {
		rec.ID = cols[2]
	}
	if s.fields&Ref != 0 {
		rec.Ref = cols[3]
	}
	if s.fields&(Alt|NumAlt) != 0 {
		alt := cols[4]
		if s.fields&Alt != 0 {
			rec.Alt = rec.Alt[:0]
		}
		rec.NumAlt = 0
		if alt != "." && alt != "" {
			n := strings.Count(alt, ",") + 1
			rec.NumAlt = n
			if s.fields&Alt != 0 {
				rec.Alt = append(rec.Alt, strings.Split(alt, ",")...)
			}
		}
	}
	if s.fields&Qual != 0 {
		rec.Qual = 0
		if cols[5] != "." {
			q, err := strconv.ParseFloat(cols[5], 32)
			if err != nil {
				s.err = errors.Wrapf(ErrInvalid, "line %d: bad QUAL %q", s.line, cols[5])
				return false
			}
			rec.Qual = float32(q)
		}
	}
	if s.fields&Filter != 0 {
		rec.Filter = cols[6]
	}
	if s.fields&Calls == 0 {
		return true
	}
	return s.parseCalls(cols, rec)
}

func (s *Scanner) parseCalls(cols []string, rec *Record) bool {
	if len(cols) < fixedColumns+1 {
		s.err = errors.Wrapf(ErrInvalid, "line %d: missing FORMAT column", s.line)
		return false
	}
	if got, want := len(cols)-fixedColumns-1, len(s.samples); got != want {
		s.err = errors.Wrapf(ErrInvalid, "line %d: %d sample columns, header declares %d", s.line, got, want)
		return false
	}
	if s.gtIndex < 0 || !formatHasGTAt(cols[fixedColumns], s.gtIndex) {
		s.gtIndex = findGT(cols[fixedColumns])
		if s.gtIndex < 0 {
			s.err = errors.Wrapf(ErrInvalid, "line %d: FORMAT %q has no GT", s.line, cols[fixedColumns])
			return false
		}
	}
	rec.Calls = rec.Calls[:0]
	s.counts = s.counts[:0]
	ploidy := 0
	for _, sample := range cols[fixedColumns+1:] {
		gt := subField(sample, s.gtIndex)
		n, ok := appendAlleles(rec.Calls, gt)
		if !ok {
			s.err = errors.Wrapf(ErrInvalid, "line %d: bad GT %q", s.line, gt)
			return false
		}
		s.counts = append(s.counts, len(n)-len(rec.Calls))
		if c := len(n) - len(rec.Calls); c > ploidy {
			ploidy = c
		}
		rec.Calls = n
	}
	rec.Ploidy = ploidy
	// A lone "." is legal shorthand for a fully missing call; pad any
	// short genotype out to the record ploidy.
	for _, c := range s.counts {
		if c != ploidy {
			rec.Calls = padCalls(rec.Calls, s.counts, ploidy)
			break
		}
	}
	return true
}

// padCalls re-lays calls so that every sample occupies exactly ploidy
// entries, padding short genotypes with MissingAllele.
func padCalls(calls []int8, counts []int, ploidy int) []int8 {
	padded := make([]int8, 0, len(counts)*ploidy)
	off := 0
	for _, c := range counts {
		padded = append(padded, calls[off:off+c]...)
		for i := c; i < ploidy; i++ {
			padded = append(padded, MissingAllele)
		}
		off += c
	}
	return padded
}

// findGT locates the GT key within a FORMAT specifier like "GT:DP:GQ".
func findGT(format string) int {
	for i := 0; ; i++ {
		j := strings.IndexByte(format, ':')
		key := format
		if j >= 0 {
			key = format[:j]
		}
		if key == "GT" {
			return i
		}
		if j < 0 {
			return -1
		}
		format = format[j+1:]
	}
}

func formatHasGTAt(format string, idx int) bool {
	return subField(format, idx) == "GT"
}

// subField returns the idx'th colon-separated element of a sample
// column, or "" when the column has fewer elements (trailing fields
// may be dropped per the VCF spec).
func subField(s string, idx int) string {
	for ; idx > 0; idx-- {
		j := strings.IndexByte(s, ':')
		if j < 0 {
			return ""
		}
		s = s[j+1:]
	}
	if j := strings.IndexByte(s, ':'); j >= 0 {
		s = s[:j]
	}
	return s
}

// appendAlleles parses a GT value such as "0/1", "0|1", "./." or "."
// and appends one int8 per allele to calls.
func appendAlleles(calls []int8, gt string) ([]int8, bool) {
	if gt == "" {
		return calls, false
	}
	for len(gt) > 0 {
		j := strings.IndexAny(gt, "/|")
		tok := gt
		if j >= 0 {
			tok = gt[:j]
			gt = gt[j+1:]
		} else {
			gt = ""
		}
		if tok == "." || tok == "" {
			calls = append(calls, MissingAllele)
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v < 0 || v > 127 {
			return calls, false
		}
		calls = append(calls, int8(v))
	}
	return calls, true
}
