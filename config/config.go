// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package config loads and validates the varbench TOML configuration.
// Loading starts from the built-in defaults, so a file only needs the
// keys it wants to override.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/converter"
	"github.com/varbench/varbench/encoding/gcol"
	"github.com/varbench/varbench/genotype"
	"github.com/varbench/varbench/popgen"
)

// Config is the full varbench configuration.
type Config struct {
	Runtime   Runtime   `toml:"runtime"`
	Data      Data      `toml:"data"`
	FTP       FTP       `toml:"ftp"`
	HTTP      HTTP      `toml:"http"`
	Convert   Convert   `toml:"vcf_to_gcol"`
	Benchmark Benchmark `toml:"benchmark"`
}

// Runtime holds session-level execution knobs.
type Runtime struct {
	// ResultsDir receives one <label>.psv log per benchmark suite.
	ResultsDir string `toml:"results_dir"`
	// Workers bounds the dist backend's force pool. 0 means
	// GOMAXPROCS.
	Workers int `toml:"workers"`
}

// Data locates the source and store directories.
type Data struct {
	DownloadDir string `toml:"download_dir"`
	VCFDir      string `toml:"vcf_dir"`
	GcolDir     string `toml:"gcol_dir"`
	WorkingDir  string `toml:"working_dir"`
	// Datasets names the files (or stores) to benchmark. Empty means
	// everything found in the input directory.
	Datasets []string `toml:"datasets"`
}

// FTP configures the FTP mirror used by -fetch.
type FTP struct {
	Server    string `toml:"server"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	RemoteDir string `toml:"remote_dir"`
	// Files names specific files under RemoteDir to download. Empty
	// mirrors the whole directory tree.
	Files  []string `toml:"files"`
	UseTLS bool     `toml:"use_tls"`
}

// HTTP configures direct URL fetching used by -fetch.
type HTTP struct {
	URLs     []string `toml:"urls"`
	Parallel int      `toml:"parallel"`
}

// Convert configures the VCF to columnar-store conversion stage.
type Convert struct {
	Compressor  string   `toml:"compressor"`
	Algorithm   string   `toml:"blosc_compression_algorithm"`
	Level       int      `toml:"blosc_compression_level"`
	Shuffle     string   `toml:"blosc_shuffle_mode"`
	AltNumber   int      `toml:"alt_number"`
	ChunkLength int      `toml:"chunk_length"`
	ChunkWidth  int      `toml:"chunk_width"`
	Fields      []string `toml:"field_selection"`
}

// Benchmark configures the orchestrated benchmark session.
type Benchmark struct {
	NumberRuns   int     `toml:"benchmark_number_runs"`
	DataInput    string  `toml:"benchmark_data_input"`
	Aggregations bool    `toml:"benchmark_aggregations"`
	PCA          bool    `toml:"benchmark_pca"`
	ArrayType    string  `toml:"genotype_array_type"`
	SubsetSize   int     `toml:"pca_subset_size"`
	LDEnabled    bool    `toml:"pca_ld_enabled"`
	LDSize       int     `toml:"pca_ld_pruning_size"`
	LDStep       int     `toml:"pca_ld_pruning_step"`
	LDThreshold  float64 `toml:"pca_ld_pruning_threshold"`
	LDIterations int     `toml:"pca_ld_pruning_number_iterations"`
	Components   int     `toml:"pca_number_components"`
	Scaler       string  `toml:"pca_data_scaler"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			ResultsDir: "results",
		},
		Data: Data{
			DownloadDir: "data/download",
			VCFDir:      "data/vcf",
			GcolDir:     "data/gcol",
			WorkingDir:  "data/working",
		},
		FTP: FTP{
			Server:    "ftp.1000genomes.ebi.ac.uk:21",
			User:      "anonymous",
			Password:  "anonymous",
			RemoteDir: "/vol1/ftp/release/20130502",
		},
		HTTP: HTTP{
			Parallel: 4,
		},
		Convert: Convert{
			Compressor: "Blosc",
			Algorithm:  "zstd",
			Level:      1,
			Shuffle:    "auto",
		},
		Benchmark: Benchmark{
			NumberRuns:   1,
			DataInput:    "vcf",
			Aggregations: true,
			PCA:          true,
			ArrayType:    "chunked",
			SubsetSize:   100000,
			LDEnabled:    true,
			LDSize:       100,
			LDStep:       20,
			LDThreshold:  0.1,
			LDIterations: 1,
			Components:   10,
			Scaler:       "patterson",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "load config %v", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the numeric and enumerated fields that are wrong in
// every mode. The data-input mode and the compressor family are left
// to the orchestrator and the conversion stage, which own their error
// semantics. An unrecognized scaler name is not an error: it falls
// back to plain centering with a logged notice.
func (c *Config) Validate() error {
	if c.Benchmark.NumberRuns < 1 {
		return errors.Errorf("benchmark_number_runs must be positive, got %d", c.Benchmark.NumberRuns)
	}
	if kind := genotype.ParseKind(c.Benchmark.ArrayType); kind == genotype.Unknown {
		return errors.Errorf("unknown genotype_array_type %q", c.Benchmark.ArrayType)
	}
	if c.Benchmark.PCA {
		if c.Benchmark.SubsetSize < 1 {
			return errors.Errorf("pca_subset_size must be positive, got %d", c.Benchmark.SubsetSize)
		}
		if c.Benchmark.Components < 1 {
			return errors.Errorf("pca_number_components must be positive, got %d", c.Benchmark.Components)
		}
		if c.Benchmark.LDEnabled {
			if c.Benchmark.LDThreshold <= 0 || c.Benchmark.LDThreshold >= 1 {
				return errors.Errorf("pca_ld_pruning_threshold must be in (0,1), got %v", c.Benchmark.LDThreshold)
			}
			if c.Benchmark.LDSize < 1 || c.Benchmark.LDStep < 1 {
				return errors.Errorf("pca_ld_pruning_size/step must be positive, got %d/%d",
					c.Benchmark.LDSize, c.Benchmark.LDStep)
			}
			if c.Benchmark.LDIterations < 0 {
				return errors.Errorf("pca_ld_pruning_number_iterations must be non-negative, got %d", c.Benchmark.LDIterations)
			}
		}
		if _, ok := popgen.ParseScaler(c.Benchmark.Scaler); !ok {
			log.Printf("config: unknown pca_data_scaler %q, using %q", c.Benchmark.Scaler, popgen.CenterScaler)
			c.Benchmark.Scaler = popgen.CenterScaler.String()
		}
	}
	return nil
}

// ConverterOpts resolves the conversion section. Unparseable algorithm
// or shuffle names surface here as typed codec errors; the compressor
// family itself is checked by the conversion stage before it writes.
func (c *Config) ConverterOpts() (converter.Opts, error) {
	algo, err := gcol.ParseAlgorithm(c.Convert.Algorithm)
	if err != nil {
		return converter.Opts{}, err
	}
	shuffle, err := gcol.ParseShuffle(c.Convert.Shuffle)
	if err != nil {
		return converter.Opts{}, err
	}
	return converter.Opts{
		Compressor: c.Convert.Compressor,
		AltNumber:  c.Convert.AltNumber,
		Store: gcol.WriteOpts{
			ChunkLength: c.Convert.ChunkLength,
			ChunkWidth:  c.Convert.ChunkWidth,
			Codec: gcol.CodecOpts{
				Algorithm: algo,
				Level:     c.Convert.Level,
				Shuffle:   shuffle,
			},
			Fields: c.Convert.Fields,
		},
	}, nil
}

// WriteDefault writes the commented default configuration to path,
// overwriting any existing file.
func WriteDefault(path string) error {
	return errors.Wrapf(os.WriteFile(path, []byte(defaultTOML), 0644), "write config %v", path)
}

const defaultTOML = `# varbench configuration.

[runtime]
# Directory receiving one <label>.psv result log per benchmark suite.
results_dir = "results"
# Worker pool size for the dist genotype backend. 0 means GOMAXPROCS.
workers = 0

[data]
# Raw downloads land here before staging.
download_dir = "data/download"
# Source VCF files (plain or .gz).
vcf_dir = "data/vcf"
# Pre-converted columnar stores, used when benchmark_data_input = "gcol".
gcol_dir = "data/gcol"
# Working area for per-run conversions. Wiped at the start of each run.
working_dir = "data/working"
# Specific dataset names to benchmark. Unset means everything found.
# datasets = ["ALL.chr21.vcf.gz"]

[ftp]
server = "ftp.1000genomes.ebi.ac.uk:21"
user = "anonymous"
password = "anonymous"
remote_dir = "/vol1/ftp/release/20130502"
# Specific files under remote_dir to download. Unset mirrors the whole
# directory tree.
# files = ["ALL.chr21.vcf.gz"]
use_tls = false

[http]
# Direct URLs fetched by -fetch in addition to the FTP mirror.
# urls = ["https://example.org/ALL.chr21.vcf.gz"]
parallel = 4

[vcf_to_gcol]
compressor = "Blosc"
# One of: zstd, blosclz, lz4, lz4hc, zlib, snappy.
blosc_compression_algorithm = "zstd"
# 0 stores chunks raw; 1-9 trade speed for ratio.
blosc_compression_level = 1
# One of: none, byte, bit, auto.
blosc_shuffle_mode = "auto"
# Alternate-allele ceiling. 0 means determine it with a pre-scan pass.
alt_number = 0
# Chunk geometry. 0 means the store engine default.
chunk_length = 0
chunk_width = 0
# Variant fields to store. Unset means all site fields.
# field_selection = ["CHROM", "POS", "REF", "ALT"]

[benchmark]
benchmark_number_runs = 1
# "vcf" converts sources per run; "gcol" loads pre-converted stores.
benchmark_data_input = "vcf"
benchmark_aggregations = true
benchmark_pca = true
# One of: eager, chunked, dist.
genotype_array_type = "chunked"
pca_subset_size = 100000
pca_ld_enabled = true
pca_ld_pruning_size = 100
pca_ld_pruning_step = 20
pca_ld_pruning_threshold = 0.1
pca_ld_pruning_number_iterations = 1
pca_number_components = 10
# One of: patterson, standard, none.
pca_data_scaler = "patterson"
`
