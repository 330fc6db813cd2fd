package benchmark

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
	"github.com/varbench/varbench/config"
	"github.com/varbench/varbench/encoding/converter"
	"github.com/varbench/varbench/encoding/gcol"
)

// Six variants over three diploid samples: four biallelic
// non-singleton sites, one multiallelic site, one singleton. The
// filtered set (four variants) exceeds the test subset size, so every
// pipeline stage does work.
const sessionVCF = `##fileformat=VCFv4.1
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S0	S1	S2
1	100	.	A	C	50	PASS	.	GT	0/1	0/1	1/1
1	200	.	T	G	50	PASS	.	GT	0/0	0/1	1/1
1	300	.	G	A	50	PASS	.	GT	0/1	1/0	0/0
1	400	.	C	T	50	PASS	.	GT	0/1	0/1	0/1
1	500	.	A	T,C	50	PASS	.	GT	0/2	1/1	0/0
1	600	.	G	C	50	PASS	.	GT	0/0	0/1	0/0
`

func sessionConfig(tmpDir string) *config.Config {
	cfg := config.Default()
	cfg.Runtime.ResultsDir = filepath.Join(tmpDir, "results")
	cfg.Data.VCFDir = filepath.Join(tmpDir, "vcf")
	cfg.Data.GcolDir = filepath.Join(tmpDir, "gcol")
	cfg.Data.WorkingDir = filepath.Join(tmpDir, "working")
	cfg.Benchmark.NumberRuns = 3
	cfg.Benchmark.ArrayType = "eager"
	cfg.Benchmark.SubsetSize = 3
	cfg.Benchmark.LDSize = 5
	cfg.Benchmark.LDStep = 2
	cfg.Benchmark.LDThreshold = 0.5
	cfg.Benchmark.Components = 2
	return cfg
}

func writeSessionVCF(t *testing.T, cfg *config.Config, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(cfg.Data.VCFDir, 0775))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.VCFDir, name), []byte(body), 0644))
}

func opSet(records [][]string) map[string]bool {
	ops := make(map[string]bool)
	for _, rec := range records {
		ops[rec[2]] = true
	}
	return ops
}

func TestRunnerVCFSession(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	cfg := sessionConfig(tmpDir)
	writeSessionVCF(t, cfg, "chr1.vcf", sessionVCF)

	require.NoError(t, NewRunner(cfg).Run(ctx))

	_, records := readRecords(t, filepath.Join(cfg.Runtime.ResultsDir, "chr1.psv"))
	runsByOp := map[string][]int{}
	for _, rec := range records {
		require.Len(t, rec, 4)
		run, err := strconv.Atoi(rec[1])
		require.NoError(t, err)
		if _, err := strconv.ParseFloat(rec[3], 64); err != nil {
			t.Errorf("bad execution time %q: %v", rec[3], err)
		}
		runsByOp[rec[2]] = append(runsByOp[rec[2]], run)
	}
	wantOps := []string{
		"Read VCF file for alt number",
		"Determine maximum alt number",
		"Convert VCF to columnar store",
		"Load columnar dataset",
		"Create Genotype Array",
		"Allele Count (All Samples)",
		"Genotype Count: Heterozygous per Variant",
		"Genotype Count: Homozygous per Variant",
		"Genotype Count: Heterozygous per Sample",
		"Genotype Count: Homozygous per Sample",
		"PCA: Count alleles",
		"PCA: Count multiallelic SNPs",
		"PCA: Count biallelic singletons",
		"PCA: Remove singletons and multiallelic SNPs",
		"PCA: Transform genotype data for PCA",
		"PCA: Subsample variants",
		"PCA: Apply LD pruning",
		"PCA: Move data set to memory",
		"PCA: Run conventional PCA analysis (scaler: patterson)",
		"PCA: Run randomized PCA analysis (scaler: patterson)",
	}
	// Every operation is recorded once per run, with run numbers
	// counting up, and nothing else reaches the log.
	for _, op := range wantOps {
		require.Equal(t, []int{1, 2, 3}, runsByOp[op], "operation %q", op)
	}
	if got, want := len(records), 3*len(wantOps); got != want {
		t.Errorf("got %d records, want %d", got, want)
	}
	// The last run's working store stays on disk.
	if !gcol.Exists(ctx, filepath.Join(cfg.Data.WorkingDir, "chr1.gcol")) {
		t.Error("working store missing after session")
	}
}

func TestRunnerGcolSession(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	cfg := sessionConfig(tmpDir)
	cfg.Benchmark.DataInput = "gcol"
	cfg.Benchmark.NumberRuns = 2
	cfg.Benchmark.PCA = false
	cfg.Data.Datasets = []string{"chr1.gcol"}
	writeSessionVCF(t, cfg, "chr1.vcf", sessionVCF)

	copts, err := cfg.ConverterOpts()
	require.NoError(t, err)
	dest := filepath.Join(cfg.Data.GcolDir, "chr1.gcol")
	src := filepath.Join(cfg.Data.VCFDir, "chr1.vcf")
	require.NoError(t, converter.Convert(ctx, copts, dest, src))

	require.NoError(t, NewRunner(cfg).Run(ctx))

	_, records := readRecords(t, filepath.Join(cfg.Runtime.ResultsDir, "chr1.psv"))
	ops := opSet(records)
	for op := range ops {
		if strings.Contains(op, "VCF") || strings.Contains(op, "alt number") {
			t.Errorf("conversion operation %q recorded in gcol mode", op)
		}
	}
	for _, op := range []string{
		"Load columnar dataset",
		"Create Genotype Array",
		"Allele Count (All Samples)",
		"Genotype Count: Homozygous per Sample",
	} {
		if !ops[op] {
			t.Errorf("operation %q missing", op)
		}
	}
	// Load + array creation + five aggregations, twice.
	if got, want := len(records), 2*7; got != want {
		t.Errorf("got %d records, want %d", got, want)
	}
}

func TestRunnerConversionErrorAborts(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	cfg := sessionConfig(tmpDir)
	cfg.Benchmark.NumberRuns = 2
	writeSessionVCF(t, cfg, "broken.vcf", "not a call set\n")

	err := NewRunner(cfg).Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dataset broken")
	require.Contains(t, err.Error(), "run 1")
}

func TestDatasetLabel(t *testing.T) {
	tests := []struct{ path, want string }{
		{"data/vcf/chr21.vcf", "chr21"},
		{"data/vcf/chr21.vcf.gz", "chr21"},
		{"data/gcol/chr21.gcol", "chr21"},
		{"chr21.vcf", "chr21"},
		{"data/vcf/release.2013.vcf.gz", "release.2013"},
	}
	for _, test := range tests {
		if got := DatasetLabel(test.path); got != test.want {
			t.Errorf("%v: got %q, want %q", test.path, got, test.want)
		}
	}
}
