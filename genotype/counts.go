package genotype

import "github.com/pkg/errors"

// AlleleCounts is a variants x alleles matrix of call-value counts.
// Column a holds the number of calls equal to allele index a at each
// variant; missing calls are not counted anywhere.
type AlleleCounts struct {
	Variants int
	Alleles  int
	counts   []int32
}

// NewAlleleCounts returns a zeroed counts matrix.
func NewAlleleCounts(variants, alleles int) *AlleleCounts {
	return &AlleleCounts{
		Variants: variants,
		Alleles:  alleles,
		counts:   make([]int32, variants*alleles),
	}
}

// At returns the count of allele a at variant v.
func (c *AlleleCounts) At(v, a int) int32 {
	return c.counts[v*c.Alleles+a]
}

// Row returns the count row of variant v, aliasing internal storage.
func (c *AlleleCounts) Row(v int) []int32 {
	return c.counts[v*c.Alleles : (v+1)*c.Alleles]
}

// MaxAlleleIndex returns the highest allele index observed at variant
// v, or -1 when no call was observed at all.
func (c *AlleleCounts) MaxAlleleIndex(v int) int {
	row := c.Row(v)
	for a := len(row) - 1; a >= 0; a-- {
		if row[a] > 0 {
			return a
		}
	}
	return -1
}

// IsSingleton reports whether allele a was observed exactly once at
// variant v.
func (c *AlleleCounts) IsSingleton(v, a int) bool {
	if a >= c.Alleles {
		return false
	}
	return c.At(v, a) == 1
}

// DosageMatrix is a variants x samples matrix of alternate-allele call
// counts per genotype, the input representation for LD pruning and
// PCA.
type DosageMatrix struct {
	Variants int
	Samples  int
	values   []int8
}

// NewDosageMatrix returns a zeroed dosage matrix.
func NewDosageMatrix(variants, samples int) *DosageMatrix {
	return &DosageMatrix{
		Variants: variants,
		Samples:  samples,
		values:   make([]int8, variants*samples),
	}
}

// At returns the dosage of sample s at variant v.
func (m *DosageMatrix) At(v, s int) int8 {
	return m.values[v*m.Samples+s]
}

// Row returns the dosage row of variant v, aliasing internal storage.
func (m *DosageMatrix) Row(v int) []int8 {
	return m.values[v*m.Samples : (v+1)*m.Samples]
}

// Take returns a new matrix holding the given variant rows, in the
// given order.
func (m *DosageMatrix) Take(indices []int) *DosageMatrix {
	out := NewDosageMatrix(len(indices), m.Samples)
	for i, v := range indices {
		copy(out.Row(i), m.Row(v))
	}
	return out
}

// CompressRows returns a new matrix holding only the variants whose
// mask entry is true.
func (m *DosageMatrix) CompressRows(mask []bool) (*DosageMatrix, error) {
	if len(mask) != m.Variants {
		return nil, errors.Errorf("mask length %d, want %d", len(mask), m.Variants)
	}
	n := 0
	for _, keep := range mask {
		if keep {
			n++
		}
	}
	out := NewDosageMatrix(n, m.Samples)
	i := 0
	for v, keep := range mask {
		if keep {
			copy(out.Row(i), m.Row(v))
			i++
		}
	}
	return out, nil
}
