// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package popgen implements the population-genetics math the benchmark
// suites exercise: windowed LD pruning over dosage matrices, variant
// subsampling, and exact plus randomized PCA with the usual genotype
// feature scalers.
package popgen

import (
	"github.com/grailbio/base/log"
	"github.com/varbench/varbench/genotype"
	"gonum.org/v1/gonum/stat"
)

// PruneOpts configures iterative LD pruning.
type PruneOpts struct {
	// Size is the window length in variants. Values < 1 or beyond the
	// variant count mean one window over the whole matrix.
	Size int
	// Step is the window advance. Values < 1 mean non-overlapping
	// windows (step = size).
	Step int
	// Threshold is the r^2 above which the later variant of a pair is
	// dropped.
	Threshold float64
	// Iterations is the number of locate-and-compress rounds.
	Iterations int
}

// LocateUnlinked scans d in sliding windows and returns a retention
// mask. Within each window, pairs of still-retained variants are
// tested in order; when the squared Pearson correlation of their
// dosage rows exceeds threshold the later variant is dropped. Constant
// rows have undefined correlation and are never dropped.
func LocateUnlinked(d *genotype.DosageMatrix, size, step int, threshold float64) []bool {
	n := d.Variants
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	if n < 2 {
		return mask
	}
	if size < 1 || size > n {
		size = n
	}
	if step < 1 {
		step = size
	}

	rows := make([][]float64, n)
	for v := 0; v < n; v++ {
		src := d.Row(v)
		row := make([]float64, len(src))
		for s, c := range src {
			row[s] = float64(c)
		}
		rows[v] = row
	}

	for start := 0; ; start += step {
		stop := start + size
		if stop > n {
			stop = n
		}
		for i := start; i < stop; i++ {
			if !mask[i] {
				continue
			}
			for j := i + 1; j < stop; j++ {
				if !mask[j] {
					continue
				}
				r := stat.Correlation(rows[i], rows[j], nil)
				// A NaN comparison is false, so undefined
				// correlations retain the variant.
				if r*r > threshold {
					mask[j] = false
				}
			}
		}
		if stop == n {
			break
		}
	}
	return mask
}

// PruneLD runs opts.Iterations rounds of LocateUnlinked, compressing
// the matrix between rounds. The retained count can only shrink from
// round to round. Each round's outcome is logged.
func PruneLD(d *genotype.DosageMatrix, opts PruneOpts) (*genotype.DosageMatrix, error) {
	for i := 1; i <= opts.Iterations; i++ {
		mask := LocateUnlinked(d, opts.Size, opts.Step, opts.Threshold)
		kept := 0
		for _, b := range mask {
			if b {
				kept++
			}
		}
		log.Printf("ld pruning iteration %d/%d: retaining %d, removing %d",
			i, opts.Iterations, kept, d.Variants-kept)
		nd, err := d.CompressRows(mask)
		if err != nil {
			return nil, err
		}
		d = nd
	}
	return d, nil
}
