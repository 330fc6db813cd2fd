package genotype

// Block kernels shared by every backend. A block is a row-major
// rows x samples x ploidy slice of int8 allele calls covering a
// contiguous variant range; baseRow is the first variant's global
// index. Each backend decides how blocks are produced (whole tensor,
// one store chunk, one graph task) and feeds them through the same
// kernels, which is what keeps the three kinds semantically identical.

func blockCountAlleles(dst *AlleleCounts, baseRow int, block []int8, samples, ploidy int) {
	sp := samples * ploidy
	if sp == 0 {
		return
	}
	rows := len(block) / sp
	for r := 0; r < rows; r++ {
		row := dst.Row(baseRow + r)
		for _, v := range block[r*sp : (r+1)*sp] {
			if v >= 0 && int(v) < len(row) {
				row[v]++
			}
		}
	}
}

// genotypeClass reports whether the ploidy-length call group is fully
// called and, if so, whether all its alleles are equal.
func genotypeClass(calls []int8) (called, allEqual bool) {
	first := calls[0]
	allEqual = true
	for _, c := range calls {
		if c < 0 {
			return false, false
		}
		if c != first {
			allEqual = false
		}
	}
	return true, allEqual
}

// blockCountHet adds heterozygous-genotype counts to dstVar (indexed
// by global variant) and/or dstSample (indexed by sample). Either
// destination may be nil.
func blockCountHet(dstVar, dstSample []int, baseRow int, block []int8, samples, ploidy int) {
	sp := samples * ploidy
	if sp == 0 {
		return
	}
	rows := len(block) / sp
	for r := 0; r < rows; r++ {
		for s := 0; s < samples; s++ {
			off := r*sp + s*ploidy
			called, allEqual := genotypeClass(block[off : off+ploidy])
			if called && !allEqual {
				if dstVar != nil {
					dstVar[baseRow+r]++
				}
				if dstSample != nil {
					dstSample[s]++
				}
			}
		}
	}
}

// blockCountHom is the homozygous counterpart of blockCountHet.
func blockCountHom(dstVar, dstSample []int, baseRow int, block []int8, samples, ploidy int) {
	sp := samples * ploidy
	if sp == 0 {
		return
	}
	rows := len(block) / sp
	for r := 0; r < rows; r++ {
		for s := 0; s < samples; s++ {
			off := r*sp + s*ploidy
			called, allEqual := genotypeClass(block[off : off+ploidy])
			if called && allEqual {
				if dstVar != nil {
					dstVar[baseRow+r]++
				}
				if dstSample != nil {
					dstSample[s]++
				}
			}
		}
	}
}

// blockDosage writes per-genotype alternate-allele call counts into
// dst starting at baseRow. Missing calls contribute zero.
func blockDosage(dst *DosageMatrix, baseRow int, block []int8, samples, ploidy int) {
	sp := samples * ploidy
	if sp == 0 {
		return
	}
	rows := len(block) / sp
	for r := 0; r < rows; r++ {
		out := dst.Row(baseRow + r)
		for s := 0; s < samples; s++ {
			off := r*sp + s*ploidy
			d := int8(0)
			for _, c := range block[off : off+ploidy] {
				if c > 0 {
					d++
				}
			}
			out[s] = d
		}
	}
}

// blockCompress appends the rows of block whose (block-local) mask
// entry is true.
func blockCompress(dst []int8, mask []bool, block []int8, samples, ploidy int) []int8 {
	sp := samples * ploidy
	for r, keep := range mask {
		if keep {
			dst = append(dst, block[r*sp:(r+1)*sp]...)
		}
	}
	return dst
}

// popcount returns the number of true entries in mask.
func popcount(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
