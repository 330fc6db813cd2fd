package genotype

import (
	"context"

	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/gcol"
	"golang.org/x/sync/errgroup"
)

// distArray defers every operation into a graph of per-chunk tasks.
// Nothing reads the store until a result is forced; Force then runs
// the tasks on a bounded worker pool. Compress stacks a filter on top
// of each task instead of evaluating, so chains of operations stay
// lazy end to end.
type distArray struct {
	ctx     context.Context
	d       dims
	chunks  []callBlock
	workers int
}

// span places a callBlock at its global variant offset.
type span struct {
	base  int
	block callBlock
}

func newDist(ctx context.Context, stores []*gcol.Store, d dims, opts Opts) (Array, error) {
	var spans []span
	base := 0
	for _, store := range stores {
		for _, b := range storeBlocks([]*gcol.Store{store}) {
			spans = append(spans, span{base: base, block: b})
			base += b.rows
		}
	}
	chunkLen := stores[0].Metadata().ChunkLength
	return &distArray{
		ctx:     ctx,
		d:       d,
		chunks:  rechunk(spans, d.variants, chunkLen, d.samples*d.ploidy),
		workers: opts.workers(),
	}, nil
}

// rechunk lays target chunks of chunkRows rows over the concatenated
// spans. Each target chunk reads only the source blocks it overlaps,
// so a single-store array with matching geometry degenerates to one
// source read per task.
func rechunk(spans []span, total, chunkRows, sp int) []callBlock {
	if chunkRows <= 0 {
		chunkRows = total
	}
	var chunks []callBlock
	for lo := 0; lo < total; lo += chunkRows {
		hi := lo + chunkRows
		if hi > total {
			hi = total
		}
		lo, hi := lo, hi
		chunks = append(chunks, callBlock{
			rows: hi - lo,
			read: func(ctx context.Context) ([]int8, error) {
				out := make([]int8, 0, (hi-lo)*sp)
				for _, s := range spans {
					sLo, sHi := s.base, s.base+s.block.rows
					if sHi <= lo || sLo >= hi {
						continue
					}
					block, err := s.block.read(ctx)
					if err != nil {
						return nil, err
					}
					from := lo
					if sLo > from {
						from = sLo
					}
					to := hi
					if sHi < to {
						to = sHi
					}
					out = append(out, block[(from-sLo)*sp:(to-sLo)*sp]...)
				}
				return out, nil
			},
		})
	}
	return chunks
}

func (a *distArray) Kind() Kind       { return Dist }
func (a *distArray) NumVariants() int { return a.d.variants }
func (a *distArray) NumSamples() int  { return a.d.samples }
func (a *distArray) Ploidy() int      { return a.d.ploidy }
func (a *distArray) CanPruneLD() bool { return false }

// force evaluates every chunk on the worker pool. fn receives the
// chunk index, the chunk's first global row, and its decompressed
// block; it must confine shared writes to rows the chunk owns or to
// per-chunk slots.
func (a *distArray) force(fn func(i, baseRow int, block []int8) error) error {
	g, ctx := errgroup.WithContext(a.ctx)
	g.SetLimit(a.workers)
	sp := a.d.samples * a.d.ploidy
	row := 0
	for i, c := range a.chunks {
		i, c, baseRow := i, c, row
		row += c.rows
		g.Go(func() error {
			block, err := c.read(ctx)
			if err != nil {
				return err
			}
			if len(block) != c.rows*sp {
				return errors.Errorf("genotype: chunk %d has %d calls, want %d", i, len(block), c.rows*sp)
			}
			return fn(i, baseRow, block)
		})
	}
	return g.Wait()
}

func (a *distArray) CountAlleles() *CountsResult {
	return deferredCounts(func() (*AlleleCounts, error) {
		counts := NewAlleleCounts(a.d.variants, a.d.alleles())
		err := a.force(func(_, baseRow int, block []int8) error {
			blockCountAlleles(counts, baseRow, block, a.d.samples, a.d.ploidy)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return counts, nil
	})
}

func (a *distArray) countGenotypes(axis Axis, kernel func(dstVar, dstSample []int, baseRow int, block []int8, samples, ploidy int)) *VecResult {
	return deferredVec(func() ([]int, error) {
		if axis == PerSample {
			// Per-sample totals are shared across chunks, so each task
			// fills its own partial and the partials are summed after
			// the pool drains.
			partials := make([][]int, len(a.chunks))
			err := a.force(func(i, _ int, block []int8) error {
				dst := make([]int, a.d.samples)
				kernel(nil, dst, 0, block, a.d.samples, a.d.ploidy)
				partials[i] = dst
				return nil
			})
			if err != nil {
				return nil, err
			}
			total := make([]int, a.d.samples)
			for _, p := range partials {
				for s, v := range p {
					total[s] += v
				}
			}
			return total, nil
		}
		dstVar := make([]int, a.d.variants)
		err := a.force(func(_, baseRow int, block []int8) error {
			kernel(dstVar, nil, baseRow, block, a.d.samples, a.d.ploidy)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return dstVar, nil
	})
}

func (a *distArray) CountHet(axis Axis) *VecResult {
	return a.countGenotypes(axis, blockCountHet)
}

func (a *distArray) CountHom(axis Axis) *VecResult {
	return a.countGenotypes(axis, blockCountHom)
}

func (a *distArray) Dosage() *MatResult {
	return deferredMat(func() (*DosageMatrix, error) {
		mat := NewDosageMatrix(a.d.variants, a.d.samples)
		err := a.force(func(_, baseRow int, block []int8) error {
			blockDosage(mat, baseRow, block, a.d.samples, a.d.ploidy)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return mat, nil
	})
}

// Compress wraps each task with a row filter. The kept-variant count
// comes from the mask alone, so the new array's NumVariants is exact
// without forcing anything.
func (a *distArray) Compress(mask []bool) (Array, error) {
	if len(mask) != a.d.variants {
		return nil, errors.Errorf("genotype: mask length %d does not match %d variants", len(mask), a.d.variants)
	}
	sp := a.d.samples * a.d.ploidy
	var chunks []callBlock
	row := 0
	for _, c := range a.chunks {
		sub := mask[row : row+c.rows]
		row += c.rows
		kept := popcount(sub)
		if kept == 0 {
			continue
		}
		src := c
		chunks = append(chunks, callBlock{
			rows: kept,
			read: func(ctx context.Context) ([]int8, error) {
				block, err := src.read(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]int8, 0, kept*sp)
				return blockCompress(out, sub, block, a.d.samples, a.d.ploidy), nil
			},
		})
	}
	nd := a.d
	nd.variants = popcount(mask)
	return &distArray{ctx: a.ctx, d: nd, chunks: chunks, workers: a.workers}, nil
}
