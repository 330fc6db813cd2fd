// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

/*
varbench times genotype aggregation and PCA workloads over VCF call
sets, either converting each source to a columnar store inside the
timed run or loading stores converted ahead of time.

Typical flow:

	varbench -write-config            # emit varbench.toml to edit
	varbench -fetch                   # download and stage source data
	varbench -setup                   # pre-convert sources to stores
	varbench                          # run the configured session

Results accumulate under the configured results directory, one
pipe-separated .psv log per dataset.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/varbench/varbench/benchmark"
	"github.com/varbench/varbench/config"
	"github.com/varbench/varbench/datafetch"
	"github.com/varbench/varbench/encoding/converter"
)

var (
	configFlag      = flag.String("config", "varbench.toml", "Configuration file to load")
	writeConfigFlag = flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	fetchFlag       = flag.Bool("fetch", false, "Download and stage source data per the [ftp]/[http] config, then exit")
	setupFlag       = flag.Bool("setup", false, "Convert every source VCF into the pre-converted store area, then exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config varbench.toml] [-write-config | -fetch | -setup]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if *writeConfigFlag {
		if err := config.WriteDefault(*configFlag); err != nil {
			log.Fatalf("%v", err)
		}
		log.Printf("wrote default configuration to %v", *configFlag)
		return
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	ctx := vcontext.Background()
	switch {
	case *fetchFlag:
		if err := fetch(ctx, cfg); err != nil {
			log.Fatalf("fetch: %v", err)
		}
	case *setupFlag:
		if err := setup(ctx, cfg); err != nil {
			log.Fatalf("setup: %v", err)
		}
	default:
		if err := benchmark.NewRunner(cfg).Run(ctx); err != nil {
			log.Fatalf("benchmark: %v", err)
		}
	}
}

// fetch downloads the configured sources and stages them into the VCF
// source directory.
func fetch(ctx context.Context, cfg *config.Config) error {
	if cfg.FTP.Server != "" {
		opts := datafetch.FTPOpts{
			Server:    cfg.FTP.Server,
			User:      cfg.FTP.User,
			Password:  cfg.FTP.Password,
			RemoteDir: cfg.FTP.RemoteDir,
			Files:     cfg.FTP.Files,
			UseTLS:    cfg.FTP.UseTLS,
		}
		if err := datafetch.FetchFTP(ctx, opts, cfg.Data.DownloadDir); err != nil {
			return err
		}
	}
	if len(cfg.HTTP.URLs) > 0 {
		opts := datafetch.HTTPOpts{URLs: cfg.HTTP.URLs, Parallel: cfg.HTTP.Parallel}
		if err := datafetch.FetchHTTP(ctx, opts, cfg.Data.DownloadDir); err != nil {
			return err
		}
	}
	staging := filepath.Join(cfg.Data.WorkingDir, "staging")
	return datafetch.Stage(ctx, cfg.Data.DownloadDir, staging, cfg.Data.VCFDir)
}

// setup converts every VCF under the source directory into a store
// under the pre-converted area, so gcol-mode sessions skip conversion.
func setup(ctx context.Context, cfg *config.Config) error {
	copts, err := cfg.ConverterOpts()
	if err != nil {
		return err
	}
	lister := file.List(ctx, cfg.Data.VCFDir, true)
	n := 0
	for lister.Scan() {
		src := lister.Path()
		if !strings.HasSuffix(src, ".vcf") && !strings.HasSuffix(src, ".vcf.gz") {
			continue
		}
		dest := filepath.Join(cfg.Data.GcolDir, benchmark.DatasetLabel(src)+".gcol")
		log.Printf("setup: converting %v to %v", src, dest)
		if err := converter.Convert(ctx, copts, dest, src); err != nil {
			return err
		}
		n++
	}
	if err := lister.Err(); err != nil {
		return err
	}
	if n == 0 {
		log.Printf("setup: no VCF sources under %v", cfg.Data.VCFDir)
		return nil
	}
	log.Printf("setup: converted %d datasets into %v", n, cfg.Data.GcolDir)
	return nil
}
