package genotype

import (
	"context"

	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/gcol"
)

// eagerArray holds the whole call tensor in memory. Every operation
// computes its value at call time, so Force on the returned result is
// a plain accessor.
type eagerArray struct {
	d     dims
	calls []int8
}

func newEager(ctx context.Context, stores []*gcol.Store, d dims) (Array, error) {
	calls := make([]int8, 0, d.variants*d.samples*d.ploidy)
	for _, store := range stores {
		block, err := store.ReadAllCalls(ctx)
		if err != nil {
			return nil, err
		}
		calls = append(calls, block...)
	}
	return &eagerArray{d: d, calls: calls}, nil
}

func (a *eagerArray) Kind() Kind       { return Eager }
func (a *eagerArray) NumVariants() int { return a.d.variants }
func (a *eagerArray) NumSamples() int  { return a.d.samples }
func (a *eagerArray) Ploidy() int      { return a.d.ploidy }
func (a *eagerArray) CanPruneLD() bool { return true }

func (a *eagerArray) CountAlleles() *CountsResult {
	counts := NewAlleleCounts(a.d.variants, a.d.alleles())
	blockCountAlleles(counts, 0, a.calls, a.d.samples, a.d.ploidy)
	return countsOf(counts, nil)
}

func (a *eagerArray) CountHet(axis Axis) *VecResult {
	dstVar, dstSample := axisDest(axis, a.d)
	blockCountHet(dstVar, dstSample, 0, a.calls, a.d.samples, a.d.ploidy)
	return vecOf(pickAxis(axis, dstVar, dstSample), nil)
}

func (a *eagerArray) CountHom(axis Axis) *VecResult {
	dstVar, dstSample := axisDest(axis, a.d)
	blockCountHom(dstVar, dstSample, 0, a.calls, a.d.samples, a.d.ploidy)
	return vecOf(pickAxis(axis, dstVar, dstSample), nil)
}

func (a *eagerArray) Dosage() *MatResult {
	mat := NewDosageMatrix(a.d.variants, a.d.samples)
	blockDosage(mat, 0, a.calls, a.d.samples, a.d.ploidy)
	return matOf(mat, nil)
}

func (a *eagerArray) Compress(mask []bool) (Array, error) {
	if len(mask) != a.d.variants {
		return nil, errors.Errorf("genotype: mask length %d does not match %d variants", len(mask), a.d.variants)
	}
	kept := popcount(mask)
	calls := make([]int8, 0, kept*a.d.samples*a.d.ploidy)
	calls = blockCompress(calls, mask, a.calls, a.d.samples, a.d.ploidy)
	nd := a.d
	nd.variants = kept
	return &eagerArray{d: nd, calls: calls}, nil
}

// axisDest allocates the destination vector(s) a counting kernel
// needs for the requested axis.
func axisDest(axis Axis, d dims) (dstVar, dstSample []int) {
	switch axis {
	case PerVariant:
		return make([]int, d.variants), nil
	case PerSample:
		return nil, make([]int, d.samples)
	}
	return nil, nil
}

func pickAxis(axis Axis, dstVar, dstSample []int) []int {
	if axis == PerSample {
		return dstSample
	}
	return dstVar
}
