package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
	"github.com/varbench/varbench/encoding/gcol"
	"github.com/varbench/varbench/encoding/vcf"
	"github.com/varbench/varbench/genotype"
	"github.com/varbench/varbench/popgen"
)

// buildArray writes a three-sample diploid store from the given
// per-variant call rows and opens it as the requested backend.
func buildArray(t *testing.T, ctx context.Context, dir string, kind genotype.Kind, altNumber int, rows [][]int8) (genotype.Array, *gcol.Store) {
	t.Helper()
	samples := []string{"S0", "S1", "S2"}
	w := gcol.NewWriter(ctx, dir, samples, 2, altNumber, gcol.WriteOpts{ChunkLength: 4, ChunkWidth: 2})
	alt := []string{"C", "T", "G"}[:altNumber]
	for v, calls := range rows {
		w.Append(&vcf.Record{
			Chrom:  "1",
			Pos:    int32(100 + v),
			ID:     ".",
			Ref:    "A",
			Alt:    alt,
			Qual:   30,
			Filter: "PASS",
			NumAlt: altNumber,
			Calls:  calls,
			Ploidy: 2,
		})
	}
	require.NoError(t, w.Close())
	store, err := gcol.Open(ctx, dir)
	require.NoError(t, err)
	arr, err := genotype.New(ctx, store, kind, genotype.Opts{})
	require.NoError(t, err)
	return arr, store
}

// Four biallelic non-singleton variants; all survive the filter.
var cleanRows = [][]int8{
	{0, 1, 0, 1, 1, 1},
	{0, 0, 0, 1, 1, 1},
	{0, 1, 1, 0, 0, 0},
	{0, 1, 0, 1, 0, 1},
}

func TestRunPCASmallSetSkipsSubsample(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	arr, store := buildArray(t, ctx, filepath.Join(tmpDir, "s.gcol"), genotype.Eager, 1, cleanRows)
	defer store.Close()

	prof := NewProfiler(filepath.Join(tmpDir, "results"), "pca")
	opts := PCAOpts{
		SubsetSize:   100,
		LDEnabled:    true,
		LDSize:       5,
		LDStep:       2,
		LDThreshold:  0.99,
		LDIterations: 1,
		Components:   2,
		Scaler:       popgen.PattersonScaler,
		Rand:         rand.New(rand.NewSource(1)),
	}
	require.NoError(t, RunPCA(arr, prof, opts))

	_, records := readRecords(t, prof.Path())
	ops := opSet(records)
	if ops[pcaSubsampleLabel] {
		t.Error("subsampling ran on a set smaller than the subset size")
	}
	for _, want := range []string{
		pcaCountAllelesLabel,
		pcaFilterLabel,
		pcaTransformLabel,
		pcaPruneLabel,
		pcaMemoryLabel,
		fmt.Sprintf(pcaExactLabel, popgen.PattersonScaler),
		fmt.Sprintf(pcaRandomLabel, popgen.PattersonScaler),
	} {
		if !ops[want] {
			t.Errorf("operation %q missing", want)
		}
	}
}

func TestRunPCAAllVariantsFiltered(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	// All-reference, singleton, multiallelic: the filter keeps
	// nothing, so the pipeline continues on the unfiltered set.
	rows := [][]int8{
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0},
		{0, 2, 1, 1, 0, 0},
	}
	arr, store := buildArray(t, ctx, filepath.Join(tmpDir, "s.gcol"), genotype.Chunked, 2, rows)
	defer store.Close()

	prof := NewProfiler(filepath.Join(tmpDir, "results"), "pca")
	opts := PCAOpts{
		SubsetSize: 100,
		Components: 2,
		Scaler:     popgen.CenterScaler,
		Rand:       rand.New(rand.NewSource(2)),
	}
	require.NoError(t, RunPCA(arr, prof, opts))

	_, records := readRecords(t, prof.Path())
	ops := opSet(records)
	for _, want := range []string{
		pcaFilterLabel,
		pcaMemoryLabel,
		fmt.Sprintf(pcaExactLabel, popgen.CenterScaler),
	} {
		if !ops[want] {
			t.Errorf("operation %q missing", want)
		}
	}
	if ops[pcaPruneLabel] {
		t.Error("ld pruning ran while disabled")
	}
}

func TestRunPCADistDefersDosage(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	arr, store := buildArray(t, ctx, filepath.Join(tmpDir, "s.gcol"), genotype.Dist, 1, cleanRows)
	defer store.Close()

	prof := NewProfiler(filepath.Join(tmpDir, "results"), "pca")
	opts := PCAOpts{
		SubsetSize:   2,
		LDEnabled:    true,
		LDSize:       5,
		LDStep:       2,
		LDThreshold:  0.5,
		LDIterations: 1,
		Components:   1,
		Scaler:       popgen.StandardScaler,
		Rand:         rand.New(rand.NewSource(7)),
	}
	require.NoError(t, RunPCA(arr, prof, opts))

	_, records := readRecords(t, prof.Path())
	ops := opSet(records)
	if !ops[pcaSubsampleLabel] {
		t.Error("subsampling skipped with more variants than the subset size")
	}
	// This backend cannot scan pruning windows; the subset goes to the
	// decompositions unpruned.
	if ops[pcaPruneLabel] {
		t.Error("ld pruning ran on a backend that cannot prune")
	}
	for _, want := range []string{
		pcaTransformLabel,
		pcaMemoryLabel,
		fmt.Sprintf(pcaExactLabel, popgen.StandardScaler),
		fmt.Sprintf(pcaRandomLabel, popgen.StandardScaler),
	} {
		if !ops[want] {
			t.Errorf("operation %q missing", want)
		}
	}
}
