package genotype

import (
	"context"

	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/gcol"
)

// callBlock is one contiguous run of variant rows plus a closure that
// produces its calls. Store-backed blocks decompress a row chunk per
// read; memory-backed blocks return a retained slice.
type callBlock struct {
	rows int
	read func(ctx context.Context) ([]int8, error)
}

// storeBlocks lists the row chunks of the given stores, in variant
// order, as callBlocks.
func storeBlocks(stores []*gcol.Store) []callBlock {
	var blocks []callBlock
	for _, store := range stores {
		store := store
		meta := store.Metadata()
		for r := 0; r < meta.NumRowChunks(); r++ {
			r := r
			lo, hi := meta.RowChunkBounds(r)
			blocks = append(blocks, callBlock{
				rows: hi - lo,
				read: func(ctx context.Context) ([]int8, error) {
					return store.ReadCallChunk(ctx, r)
				},
			})
		}
	}
	return blocks
}

// memoryBlocks splits a materialized call tensor into callBlocks of at
// most chunkRows rows each. The blocks alias calls.
func memoryBlocks(calls []int8, rows, samples, ploidy, chunkRows int) []callBlock {
	if chunkRows <= 0 {
		chunkRows = rows
	}
	sp := samples * ploidy
	var blocks []callBlock
	for lo := 0; lo < rows; lo += chunkRows {
		hi := lo + chunkRows
		if hi > rows {
			hi = rows
		}
		block := calls[lo*sp : hi*sp]
		blocks = append(blocks, callBlock{
			rows: hi - lo,
			read: func(context.Context) ([]int8, error) { return block, nil },
		})
	}
	return blocks
}

// chunkedArray pages one block at a time through each operation, so
// peak memory stays near a single decompressed row chunk. Operations
// still execute when called; only the data residency differs from
// Eager.
type chunkedArray struct {
	ctx      context.Context
	d        dims
	blocks   []callBlock
	chunkLen int
}

func newChunked(ctx context.Context, stores []*gcol.Store, d dims) (Array, error) {
	return &chunkedArray{
		ctx:      ctx,
		d:        d,
		blocks:   storeBlocks(stores),
		chunkLen: stores[0].Metadata().ChunkLength,
	}, nil
}

func (a *chunkedArray) Kind() Kind       { return Chunked }
func (a *chunkedArray) NumVariants() int { return a.d.variants }
func (a *chunkedArray) NumSamples() int  { return a.d.samples }
func (a *chunkedArray) Ploidy() int      { return a.d.ploidy }
func (a *chunkedArray) CanPruneLD() bool { return true }

// each reads every block in variant order and hands it to fn together
// with the block's first global row and row count.
func (a *chunkedArray) each(fn func(baseRow, rows int, block []int8)) error {
	row := 0
	for _, b := range a.blocks {
		block, err := b.read(a.ctx)
		if err != nil {
			return err
		}
		if len(block) != b.rows*a.d.samples*a.d.ploidy {
			return errors.Errorf("genotype: block at row %d has %d calls, want %d",
				row, len(block), b.rows*a.d.samples*a.d.ploidy)
		}
		fn(row, b.rows, block)
		row += b.rows
	}
	return nil
}

func (a *chunkedArray) CountAlleles() *CountsResult {
	counts := NewAlleleCounts(a.d.variants, a.d.alleles())
	err := a.each(func(baseRow, _ int, block []int8) {
		blockCountAlleles(counts, baseRow, block, a.d.samples, a.d.ploidy)
	})
	if err != nil {
		return countsOf(nil, err)
	}
	return countsOf(counts, nil)
}

func (a *chunkedArray) CountHet(axis Axis) *VecResult {
	dstVar, dstSample := axisDest(axis, a.d)
	err := a.each(func(baseRow, _ int, block []int8) {
		blockCountHet(dstVar, dstSample, baseRow, block, a.d.samples, a.d.ploidy)
	})
	if err != nil {
		return vecOf(nil, err)
	}
	return vecOf(pickAxis(axis, dstVar, dstSample), nil)
}

func (a *chunkedArray) CountHom(axis Axis) *VecResult {
	dstVar, dstSample := axisDest(axis, a.d)
	err := a.each(func(baseRow, _ int, block []int8) {
		blockCountHom(dstVar, dstSample, baseRow, block, a.d.samples, a.d.ploidy)
	})
	if err != nil {
		return vecOf(nil, err)
	}
	return vecOf(pickAxis(axis, dstVar, dstSample), nil)
}

func (a *chunkedArray) Dosage() *MatResult {
	mat := NewDosageMatrix(a.d.variants, a.d.samples)
	err := a.each(func(baseRow, _ int, block []int8) {
		blockDosage(mat, baseRow, block, a.d.samples, a.d.ploidy)
	})
	if err != nil {
		return matOf(nil, err)
	}
	return matOf(mat, nil)
}

// Compress materializes the kept rows block by block. The result keeps
// the Chunked kind and chunk geometry but is memory-backed, matching
// how a filtered copy of an on-disk array behaves.
func (a *chunkedArray) Compress(mask []bool) (Array, error) {
	if len(mask) != a.d.variants {
		return nil, errors.Errorf("genotype: mask length %d does not match %d variants", len(mask), a.d.variants)
	}
	kept := popcount(mask)
	calls := make([]int8, 0, kept*a.d.samples*a.d.ploidy)
	err := a.each(func(baseRow, rows int, block []int8) {
		calls = blockCompress(calls, mask[baseRow:baseRow+rows], block, a.d.samples, a.d.ploidy)
	})
	if err != nil {
		return nil, err
	}
	nd := a.d
	nd.variants = kept
	return &chunkedArray{
		ctx:      a.ctx,
		d:        nd,
		blocks:   memoryBlocks(calls, kept, nd.samples, nd.ploidy, a.chunkLen),
		chunkLen: a.chunkLen,
	}, nil
}
