// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package benchmark

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/varbench/varbench/genotype"
	"github.com/varbench/varbench/popgen"
)

// PCA pipeline step labels. The decomposition labels carry the scaler
// name so runs with different normalization stay distinguishable.
const (
	pcaCountAllelesLabel = "PCA: Count alleles"
	pcaMultiallelicLabel = "PCA: Count multiallelic SNPs"
	pcaSingletonsLabel   = "PCA: Count biallelic singletons"
	pcaFilterLabel       = "PCA: Remove singletons and multiallelic SNPs"
	pcaTransformLabel    = "PCA: Transform genotype data for PCA"
	pcaSubsampleLabel    = "PCA: Subsample variants"
	pcaPruneLabel        = "PCA: Apply LD pruning"
	pcaMemoryLabel       = "PCA: Move data set to memory"
	pcaExactLabel        = "PCA: Run conventional PCA analysis (scaler: %s)"
	pcaRandomLabel       = "PCA: Run randomized PCA analysis (scaler: %s)"
)

// PCAOpts configures the PCA pipeline.
type PCAOpts struct {
	// SubsetSize caps the number of variants carried into pruning and
	// decomposition.
	SubsetSize int
	// LDEnabled turns on windowed LD pruning of the subset. Pruning is
	// skipped with a warning on backends that cannot scan windows.
	LDEnabled    bool
	LDSize       int
	LDStep       int
	LDThreshold  float64
	LDIterations int
	// Components is the number of principal components extracted by
	// both decompositions.
	Components int
	// Scaler normalizes the dosage matrix before decomposition.
	Scaler popgen.Scaler
	// Rand drives subsampling and the randomized decomposition. Nil
	// seeds from the clock.
	Rand *rand.Rand
}

// RunPCA times the PCA pipeline over arr: allele-count diagnostics,
// variant filtering, dosage transform, subsampling, optional LD
// pruning, materialization, and the two decompositions. Every stage
// that does work is timed under its own label. The analysis outputs
// are discarded; only the timings matter.
//
// A filter that would retain zero variants is skipped with a warning
// and the pipeline continues on the unfiltered set.
func RunPCA(arr genotype.Array, prof *Profiler, opts PCAOpts) error {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	prof.Start(pcaCountAllelesLabel)
	ac, err := arr.CountAlleles().Force()
	if err != nil {
		prof.discard()
		return errors.Wrap(err, "pca: count alleles")
	}
	if err := prof.End(); err != nil {
		return err
	}

	prof.Start(pcaMultiallelicLabel)
	multi := popgen.CountMultiallelic(ac)
	if err := prof.End(); err != nil {
		return err
	}

	prof.Start(pcaSingletonsLabel)
	singletons := popgen.CountBiallelicSingletons(ac)
	if err := prof.End(); err != nil {
		return err
	}
	log.Printf("pca: %d multiallelic sites, %d biallelic singletons", multi, singletons)

	prof.Start(pcaFilterLabel)
	flt := arr
	mask := popgen.FilterMask(ac)
	if kept := countTrue(mask); kept == 0 {
		log.Error.Printf("pca: allele-count filter would remove every variant; keeping the unfiltered set")
	} else {
		if flt, err = arr.Compress(mask); err != nil {
			prof.discard()
			return errors.Wrap(err, "pca: filter variants")
		}
	}
	if err := prof.End(); err != nil {
		return err
	}
	log.Printf("pca: %d of %d variants enter the pipeline", flt.NumVariants(), arr.NumVariants())

	// The dosage transform runs where the backend runs it: immediately
	// for materialized kinds, on the later move-to-memory stage for
	// deferred ones.
	deferred := flt.Kind() == genotype.Dist
	prof.Start(pcaTransformLabel)
	mr := flt.Dosage()
	var dosage *genotype.DosageMatrix
	if !deferred {
		if dosage, err = mr.Force(); err != nil {
			prof.discard()
			return errors.Wrap(err, "pca: dosage transform")
		}
	}
	if err := prof.End(); err != nil {
		return err
	}

	var subsample []int
	if total := flt.NumVariants(); total > opts.SubsetSize {
		prof.Start(pcaSubsampleLabel)
		subsample = popgen.SubsampleIndices(rng, total, opts.SubsetSize)
		if dosage != nil {
			dosage = dosage.Take(subsample)
		}
		if err := prof.End(); err != nil {
			return err
		}
		log.Printf("pca: subsampled %d of %d variants", len(subsample), total)
	}

	switch {
	case !opts.LDEnabled:
		log.Printf("pca: ld pruning disabled")
	case !flt.CanPruneLD():
		log.Error.Printf("pca: ld pruning is not supported by the %v backend; continuing with the unpruned subset", flt.Kind())
	default:
		prof.Start(pcaPruneLabel)
		pruned, err := popgen.PruneLD(dosage, popgen.PruneOpts{
			Size:       opts.LDSize,
			Step:       opts.LDStep,
			Threshold:  opts.LDThreshold,
			Iterations: opts.LDIterations,
		})
		if err != nil {
			prof.discard()
			return errors.Wrap(err, "pca: ld pruning")
		}
		dosage = pruned
		if err := prof.End(); err != nil {
			return err
		}
	}

	prof.Start(pcaMemoryLabel)
	if dosage == nil {
		if dosage, err = mr.Force(); err != nil {
			prof.discard()
			return errors.Wrap(err, "pca: materialize dosage")
		}
		if subsample != nil {
			dosage = dosage.Take(subsample)
		}
	}
	x := popgen.Float64Matrix(dosage)
	if err := prof.End(); err != nil {
		return err
	}
	if x == nil {
		return errors.Errorf("pca: dosage matrix %d x %d is empty", dosage.Variants, dosage.Samples)
	}

	pcaOpts := popgen.Opts{
		Components: opts.Components,
		Scaler:     opts.Scaler,
		Ploidy:     flt.Ploidy(),
		Rand:       rng,
	}
	prof.Start(fmt.Sprintf(pcaExactLabel, opts.Scaler))
	if _, err := popgen.PCA(x, pcaOpts); err != nil {
		prof.discard()
		return errors.Wrap(err, "pca: exact decomposition")
	}
	if err := prof.End(); err != nil {
		return err
	}

	prof.Start(fmt.Sprintf(pcaRandomLabel, opts.Scaler))
	if _, err := popgen.RandomizedPCA(x, pcaOpts); err != nil {
		prof.discard()
		return errors.Wrap(err, "pca: randomized decomposition")
	}
	return prof.End()
}

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
