// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package benchmark

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/varbench/varbench/config"
	"github.com/varbench/varbench/encoding/converter"
	"github.com/varbench/varbench/encoding/gcol"
	"github.com/varbench/varbench/genotype"
	"github.com/varbench/varbench/popgen"
)

// Dataset preparation labels.
const (
	loadLabel  = "Load columnar dataset"
	arrayLabel = "Create Genotype Array"
)

// Runner drives a benchmark session: every configured dataset,
// benchmark_number_runs times each. Each run starts from a clean
// working area, obtains a genotype array of the configured kind, and
// executes the enabled suites. The last run's working store is left on
// disk for inspection.
type Runner struct {
	cfg *config.Config
}

// NewRunner returns a Runner for the given configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// dataset pairs a result-log label with the input path: a VCF file in
// vcf mode, a store directory in gcol mode.
type dataset struct {
	label string
	path  string
}

// Run executes the session. An unknown data-input mode, an unknown
// array kind, or a missing dataset is a fatal configuration error.
// Failures inside a run abort the session and propagate.
func (r *Runner) Run(ctx context.Context) error {
	mode := r.cfg.Benchmark.DataInput
	if mode != "vcf" && mode != "gcol" {
		log.Fatalf("unknown benchmark_data_input %q (want vcf or gcol)", mode)
	}
	kind := genotype.ParseKind(r.cfg.Benchmark.ArrayType)
	if kind == genotype.Unknown {
		log.Fatalf("unknown genotype_array_type %q (want eager, chunked, or dist)", r.cfg.Benchmark.ArrayType)
	}
	datasets, err := r.datasets(ctx, mode)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		log.Fatalf("no datasets found for benchmark_data_input %q", mode)
	}
	for _, ds := range datasets {
		if err := r.runDataset(ctx, mode, kind, ds); err != nil {
			return errors.Wrapf(err, "dataset %v", ds.label)
		}
	}
	return nil
}

func (r *Runner) runDataset(ctx context.Context, mode string, kind genotype.Kind, ds dataset) error {
	prof := NewProfiler(r.cfg.Runtime.ResultsDir, ds.label)
	runs := r.cfg.Benchmark.NumberRuns
	log.Printf("benchmarking %v: %d runs on the %v backend, results in %v",
		ds.label, runs, kind, prof.Path())
	for run := 1; run <= runs; run++ {
		prof.SetRunNumber(run)
		log.Printf("%v: run %d/%d", ds.label, run, runs)
		if err := r.benchmarkRun(ctx, mode, kind, ds, prof); err != nil {
			return errors.Wrapf(err, "run %d", run)
		}
	}
	return nil
}

func (r *Runner) benchmarkRun(ctx context.Context, mode string, kind genotype.Kind, ds dataset, prof *Profiler) error {
	arr, store, err := r.setupRun(ctx, mode, kind, ds, prof)
	if err != nil {
		return err
	}
	defer store.Close()
	if r.cfg.Benchmark.Aggregations {
		if err := RunAggregations(arr, prof); err != nil {
			return err
		}
	}
	if r.cfg.Benchmark.PCA {
		if err := RunPCA(arr, prof, r.pcaOpts()); err != nil {
			return err
		}
	}
	return nil
}

// setupRun obtains the run's genotype array. The working area is
// wiped at the start of every run in both modes; in vcf mode a timed
// conversion then rebuilds the working store there, in gcol mode the
// pre-converted store is used in place. Store loading and array
// construction are timed under their own labels in both modes.
func (r *Runner) setupRun(ctx context.Context, mode string, kind genotype.Kind, ds dataset, prof *Profiler) (genotype.Array, *gcol.Store, error) {
	if err := gcol.Remove(ctx, r.cfg.Data.WorkingDir); err != nil {
		return nil, nil, errors.Wrapf(err, "%v: clear working area", r.cfg.Data.WorkingDir)
	}
	storeDir := ds.path
	if mode == "vcf" {
		storeDir = filepath.Join(r.cfg.Data.WorkingDir, ds.label+".gcol")
		copts, err := r.cfg.ConverterOpts()
		if err != nil {
			return nil, nil, err
		}
		copts.Profiler = prof
		if err := converter.Convert(ctx, copts, storeDir, ds.path); err != nil {
			return nil, nil, err
		}
	}

	prof.Start(loadLabel)
	store, err := gcol.Open(ctx, storeDir)
	if err != nil {
		prof.discard()
		return nil, nil, err
	}
	if err := prof.End(); err != nil {
		store.Close()
		return nil, nil, err
	}

	prof.Start(arrayLabel)
	arr, err := genotype.New(ctx, store, kind, genotype.Opts{Workers: r.cfg.Runtime.Workers})
	if err != nil {
		prof.discard()
		store.Close()
		return nil, nil, err
	}
	if err := prof.End(); err != nil {
		store.Close()
		return nil, nil, err
	}
	return arr, store, nil
}

func (r *Runner) pcaOpts() PCAOpts {
	b := r.cfg.Benchmark
	scaler, _ := popgen.ParseScaler(b.Scaler)
	return PCAOpts{
		SubsetSize:   b.SubsetSize,
		LDEnabled:    b.LDEnabled,
		LDSize:       b.LDSize,
		LDStep:       b.LDStep,
		LDThreshold:  b.LDThreshold,
		LDIterations: b.LDIterations,
		Components:   b.Components,
		Scaler:       scaler,
	}
}

// datasets resolves the benchmark inputs. Explicitly configured names
// must exist; with no names configured, the input directory is
// scanned.
func (r *Runner) datasets(ctx context.Context, mode string) ([]dataset, error) {
	if mode == "gcol" {
		if names := r.cfg.Data.Datasets; len(names) > 0 {
			out := make([]dataset, 0, len(names))
			for _, name := range names {
				dir := filepath.Join(r.cfg.Data.GcolDir, name)
				if !gcol.Exists(ctx, dir) {
					log.Fatalf("dataset %v: no store found", dir)
				}
				out = append(out, dataset{label: DatasetLabel(dir), path: dir})
			}
			return out, nil
		}
		dirs, err := gcol.List(ctx, r.cfg.Data.GcolDir)
		if err != nil {
			return nil, err
		}
		out := make([]dataset, 0, len(dirs))
		for _, dir := range dirs {
			out = append(out, dataset{label: DatasetLabel(dir), path: dir})
		}
		return out, nil
	}

	if names := r.cfg.Data.Datasets; len(names) > 0 {
		out := make([]dataset, 0, len(names))
		for _, name := range names {
			path := filepath.Join(r.cfg.Data.VCFDir, name)
			if _, err := file.Stat(ctx, path); err != nil {
				log.Fatalf("dataset %v: %v", path, err)
			}
			out = append(out, dataset{label: DatasetLabel(path), path: path})
		}
		return out, nil
	}
	lister := file.List(ctx, r.cfg.Data.VCFDir, true)
	var out []dataset
	for lister.Scan() {
		if path := lister.Path(); strings.HasSuffix(path, ".vcf") || strings.HasSuffix(path, ".vcf.gz") {
			out = append(out, dataset{label: DatasetLabel(path), path: path})
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.Wrapf(err, "%v: list vcf files", r.cfg.Data.VCFDir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].label < out[j].label })
	return out, nil
}

// DatasetLabel derives the result-log label from an input path:
// "data/vcf/chr21.vcf.gz" and "data/gcol/chr21.gcol" both map to
// "chr21", so the two input modes log comparably. Setup-mode
// conversions name their stores with the same rule.
func DatasetLabel(path string) string {
	name := path[strings.LastIndexByte(path, '/')+1:]
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".vcf")
	name = strings.TrimSuffix(name, ".gcol")
	return name
}
