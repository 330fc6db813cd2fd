// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
	"github.com/varbench/varbench/encoding/gcol"
)

func TestDefaultRoundTrip(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "varbench.toml")
	require.NoError(t, WriteDefault(path))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "varbench.toml")
	body := `
[benchmark]
benchmark_number_runs = 5
genotype_array_type = "eager"
pca_data_scaler = "standard"

[vcf_to_gcol]
blosc_compression_level = 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	if got, want := cfg.Benchmark.NumberRuns, 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Benchmark.ArrayType, "eager"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Benchmark.Scaler, "standard"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Convert.Level, 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Keys the file does not mention keep their defaults.
	if got, want := cfg.Benchmark.DataInput, "vcf"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Convert.Compressor, "Blosc"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := cfg.Benchmark.SubsetSize, 100000; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLoadErrors(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	if _, err := Load(filepath.Join(tmpDir, "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(tmpDir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("benchmark = [broken"), 0644))
	if _, err := Load(bad); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero runs", func(c *Config) { c.Benchmark.NumberRuns = 0 }, true},
		{"unknown array type", func(c *Config) { c.Benchmark.ArrayType = "mmap" }, true},
		{"zero subset", func(c *Config) { c.Benchmark.SubsetSize = 0 }, true},
		{"zero components", func(c *Config) { c.Benchmark.Components = 0 }, true},
		{"threshold too large", func(c *Config) { c.Benchmark.LDThreshold = 1.5 }, true},
		{"zero ld step", func(c *Config) { c.Benchmark.LDStep = 0 }, true},
		{"negative ld iterations", func(c *Config) { c.Benchmark.LDIterations = -1 }, true},
		{"pca disabled skips pca checks", func(c *Config) {
			c.Benchmark.PCA = false
			c.Benchmark.SubsetSize = 0
			c.Benchmark.LDThreshold = 2
		}, false},
	}
	for _, test := range tests {
		cfg := Default()
		test.mutate(cfg)
		err := cfg.Validate()
		if got, want := err != nil, test.wantErr; got != want {
			t.Errorf("%s: got error %v, want error %v", test.name, err, want)
		}
	}
}

func TestValidateScalerFallback(t *testing.T) {
	cfg := Default()
	cfg.Benchmark.Scaler = "minmax"
	require.NoError(t, cfg.Validate())
	if got, want := cfg.Benchmark.Scaler, "none"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConverterOpts(t *testing.T) {
	cfg := Default()
	opts, err := cfg.ConverterOpts()
	require.NoError(t, err)
	if got, want := opts.Compressor, "Blosc"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	want := gcol.CodecOpts{Algorithm: gcol.Zstd, Level: 1, Shuffle: gcol.AutoShuffle}
	if got := opts.Store.Codec; got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	cfg.Convert.Algorithm = "brotli"
	if _, err := cfg.ConverterOpts(); err == nil {
		t.Error("expected error for unknown algorithm")
	}
	cfg.Convert.Algorithm = "zstd"
	cfg.Convert.Shuffle = "diagonal"
	if _, err := cfg.ConverterOpts(); err == nil {
		t.Error("expected error for unknown shuffle mode")
	}
}
