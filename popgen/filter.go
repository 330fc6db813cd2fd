package popgen

import "github.com/varbench/varbench/genotype"

// Each of the two allele counts at a kept site must reach this bar,
// which drops singleton-dominated variants from the PCA input.
const minAlleleCount = 2

// CountMultiallelic returns how many variants have more than two
// observed alleles.
func CountMultiallelic(ac *genotype.AlleleCounts) int {
	n := 0
	for v := 0; v < ac.Variants; v++ {
		if ac.MaxAlleleIndex(v) > 1 {
			n++
		}
	}
	return n
}

// CountBiallelicSingletons returns how many variants are biallelic
// with a singleton alternate allele.
func CountBiallelicSingletons(ac *genotype.AlleleCounts) int {
	n := 0
	for v := 0; v < ac.Variants; v++ {
		if ac.MaxAlleleIndex(v) == 1 && ac.IsSingleton(v, 1) {
			n++
		}
	}
	return n
}

// FilterMask keeps variants that are strictly biallelic and whose
// reference and alternate counts both clear the minimal-count bar.
func FilterMask(ac *genotype.AlleleCounts) []bool {
	mask := make([]bool, ac.Variants)
	for v := range mask {
		mask[v] = ac.MaxAlleleIndex(v) == 1 &&
			ac.At(v, 0) >= minAlleleCount &&
			ac.At(v, 1) >= minAlleleCount
	}
	return mask
}
