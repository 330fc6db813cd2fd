// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package genotype exposes a uniform operation surface over genotype
// call sets held in gcol stores, with three interchangeable execution
// strategies: fully materialized in memory (Eager), paged row chunk by
// row chunk (Chunked), and a deferred task graph evaluated by a worker
// pool on demand (Dist).
//
// Every operation is available on every kind. Eager and Chunked
// execute when called; Dist returns a deferred result whose Force
// method blocks until the pool has materialized it. Forcing a result
// that is already materialized returns immediately, so callers that do
// not care about the kind can force unconditionally.
package genotype

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/gcol"
)

// Kind selects the execution strategy backing an Array.
type Kind int

const (
	// Unknown is the sentinel for an unrecognized kind name.
	Unknown Kind = iota
	// Eager loads the whole call tensor into memory up front.
	Eager
	// Chunked keeps the store handle and pages one row chunk at a
	// time through each operation.
	Chunked
	// Dist defers every operation into a task graph over row chunks,
	// evaluated in parallel on Force.
	Dist
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case Eager:
		return "eager"
	case Chunked:
		return "chunked"
	case Dist:
		return "dist"
	}
	return "unknown"
}

// ParseKind converts a configuration string to a Kind. It returns
// Unknown for unrecognized values; callers must treat Unknown as a
// configuration error.
func ParseKind(name string) Kind {
	switch name {
	case "eager", "memory":
		return Eager
	case "chunked", "disk":
		return Chunked
	case "dist", "distributed":
		return Dist
	}
	return Unknown
}

// Axis selects the retained axis of a per-genotype reduction.
type Axis int

const (
	// PerVariant reduces across samples, yielding one value per
	// variant.
	PerVariant Axis = iota
	// PerSample reduces across variants, yielding one value per
	// sample.
	PerSample
)

// Opts configures array construction.
type Opts struct {
	// Workers bounds the Dist force pool. Zero means GOMAXPROCS.
	Workers int
}

func (o Opts) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Array is the backend-agnostic genotype call-set surface. All
// implementations expose identical operation semantics; only the
// execution strategy differs.
type Array interface {
	// Kind reports the execution strategy.
	Kind() Kind
	// NumVariants returns the variant count. For Dist arrays this is
	// known without forcing, including after Compress.
	NumVariants() int
	// NumSamples returns the sample count.
	NumSamples() int
	// Ploidy returns the number of allele calls per genotype.
	Ploidy() int
	// CountAlleles tallies allele values per variant into a
	// variants x (altNumber+1) matrix; missing calls are ignored.
	CountAlleles() *CountsResult
	// CountHet counts fully-called genotypes whose alleles are not
	// all equal, along the given axis.
	CountHet(axis Axis) *VecResult
	// CountHom counts fully-called genotypes whose alleles are all
	// equal, along the given axis.
	CountHom(axis Axis) *VecResult
	// Compress keeps the variants whose mask entry is true. The mask
	// length must equal NumVariants.
	Compress(mask []bool) (Array, error)
	// Dosage builds the variants x samples matrix of alternate-allele
	// call counts per genotype; missing calls contribute zero.
	Dosage() *MatResult
	// CanPruneLD reports whether the backend supports the windowed
	// scans LD pruning needs. False for Dist.
	CanPruneLD() bool
}

// New wraps a store in an Array of the requested kind. Eager arrays
// read the whole call tensor before returning.
func New(ctx context.Context, store *gcol.Store, kind Kind, opts Opts) (Array, error) {
	return NewConcat(ctx, []*gcol.Store{store}, kind, opts)
}

// NewConcat wraps one or more stores in an Array, concatenating along
// the variant axis. The stores must agree on sample list length and
// ploidy. For the Dist kind the combined call data is rechunked to the
// first store's chunk geometry, so parallel tasks stay balanced.
func NewConcat(ctx context.Context, stores []*gcol.Store, kind Kind, opts Opts) (Array, error) {
	if len(stores) == 0 {
		return nil, errors.New("no stores given")
	}
	dims, err := concatDims(stores)
	if err != nil {
		return nil, err
	}
	switch kind {
	case Eager:
		return newEager(ctx, stores, dims)
	case Chunked:
		return newChunked(ctx, stores, dims)
	case Dist:
		return newDist(ctx, stores, dims, opts)
	}
	return nil, errors.Errorf("unknown genotype array kind %d", kind)
}

// dims carries the combined geometry of one or more stores.
type dims struct {
	variants  int
	samples   int
	ploidy    int
	altNumber int
}

func (d dims) alleles() int { return d.altNumber + 1 }

func concatDims(stores []*gcol.Store) (dims, error) {
	d := dims{
		samples: stores[0].NumSamples(),
		ploidy:  stores[0].Ploidy(),
	}
	for _, s := range stores {
		if s.NumSamples() != d.samples {
			return d, errors.Errorf("%v: sample count %d differs from %d; cannot concatenate",
				s.Dir(), s.NumSamples(), d.samples)
		}
		if s.Ploidy() != d.ploidy {
			return d, errors.Errorf("%v: ploidy %d differs from %d; cannot concatenate",
				s.Dir(), s.Ploidy(), d.ploidy)
		}
		d.variants += s.NumVariants()
		if s.AltNumber() > d.altNumber {
			d.altNumber = s.AltNumber()
		}
	}
	return d, nil
}
