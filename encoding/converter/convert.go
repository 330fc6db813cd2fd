// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package converter converts VCF call sets into gcol stores. The
// conversion runs in up to two passes: when the alternate-allele
// ceiling is not configured, a cheap pre-scan over the source
// determines it first, since the store's per-variant layout is
// fixed-width and must accommodate the worst case.
package converter

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/gcol"
	"github.com/varbench/varbench/encoding/vcf"
	"v.io/x/lib/vlog"
)

// DefaultCompressor is the only supported compressor type. The value
// names the codec family; the concrete algorithm inside it comes from
// gcol.CodecOpts.
const DefaultCompressor = "Blosc"

// ErrUnsupportedCompressor is returned when Opts.Compressor names
// anything but DefaultCompressor.
var ErrUnsupportedCompressor = errors.New("unexpected compressor type")

// Timing labels for the conversion stages.
const (
	prescanLabel = "Read VCF file for alt number"
	maxLabel     = "Determine maximum alt number"
	convertLabel = "Convert VCF to columnar store"
)

// Profiler receives begin/end notifications around each conversion
// stage. *benchmark.Profiler satisfies it; nil disables timing.
type Profiler interface {
	Start(operation string)
	End() error
}

// Opts configures a conversion.
type Opts struct {
	// Compressor is the compressor type. Empty means
	// DefaultCompressor; any other value fails the conversion before
	// any write happens.
	Compressor string
	// AltNumber is the alternate-allele ceiling. Zero triggers the
	// pre-scan pass.
	AltNumber int
	// Store carries chunk geometry, codec, and field selection for the
	// destination.
	Store gcol.WriteOpts
	// Profiler, when non-nil, times the pre-scan, the max computation,
	// and the conversion pass under distinct labels.
	Profiler Profiler
}

// Convert converts the VCF file at srcPath into a gcol store at
// destPath, wholly replacing any existing destination. srcPath may be
// gzip-compressed.
func Convert(ctx context.Context, opts Opts, destPath, srcPath string) error {
	if opts.Compressor == "" {
		opts.Compressor = DefaultCompressor
	}
	if opts.Compressor != DefaultCompressor {
		return errors.Wrapf(ErrUnsupportedCompressor, "%q", opts.Compressor)
	}
	// Validate the codec before touching the destination.
	codecOpts := opts.Store.Codec
	if codecOpts == (gcol.CodecOpts{}) {
		codecOpts = gcol.DefaultCodecOpts
	}
	c, err := gcol.NewCodec(codecOpts)
	if err != nil {
		return err
	}
	c.Close()

	altNumber := opts.AltNumber
	if altNumber < 0 {
		return errors.Errorf("alt number %d out of range", altNumber)
	}
	if altNumber == 0 {
		if altNumber, err = scanAltNumber(ctx, srcPath, opts.Profiler); err != nil {
			return err
		}
	}

	startTimer(opts.Profiler, convertLabel)
	if err := gcol.Remove(ctx, destPath); err != nil {
		return errors.Wrapf(err, "%v: clear destination", destPath)
	}
	if err := writeStore(ctx, opts, destPath, srcPath, altNumber); err != nil {
		return err
	}
	return endTimer(opts.Profiler)
}

// scanAltNumber is the pre-scan pass: it extracts the alternate-allele
// count of every variant, then takes the maximum. The two stages are
// timed separately so their cost stays attributable.
func scanAltNumber(ctx context.Context, srcPath string, prof Profiler) (int, error) {
	startTimer(prof, prescanLabel)
	in, closeIn, err := openVCF(ctx, srcPath)
	if err != nil {
		return 0, err
	}
	sc, err := vcf.NewScanner(in, vcf.NumAlt)
	if err != nil {
		closeIn()
		return 0, errors.Wrapf(err, "%v", srcPath)
	}
	counts := make([]int, 0, 1024)
	var rec vcf.Record
	for sc.Scan(&rec) {
		counts = append(counts, rec.NumAlt)
	}
	closeIn()
	if err := sc.Err(); err != nil {
		return 0, errors.Wrapf(err, "%v: alt-number scan", srcPath)
	}
	if err := endTimer(prof); err != nil {
		return 0, err
	}

	startTimer(prof, maxLabel)
	max := 0
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	if err := endTimer(prof); err != nil {
		return 0, err
	}
	vlog.VI(1).Infof("%v: alt number %d over %d variants", srcPath, max, len(counts))
	return max, nil
}

func writeStore(ctx context.Context, opts Opts, destPath, srcPath string, altNumber int) error {
	in, closeIn, err := openVCF(ctx, srcPath)
	if err != nil {
		return err
	}
	defer closeIn()
	storeOpts := opts.Store
	fields := storeOpts.Fields
	if fields == nil {
		fields = gcol.SiteFields
	}
	sc, err := vcf.NewScanner(in, scanFields(fields))
	if err != nil {
		return errors.Wrapf(err, "%v", srcPath)
	}

	var rec vcf.Record
	n := 0
	var w *gcol.Writer
	for sc.Scan(&rec) {
		if w == nil {
			// The first record fixes the ploidy for the whole store.
			ploidy := rec.Ploidy
			if ploidy == 0 {
				ploidy = 2
			}
			w = gcol.NewWriter(ctx, destPath, sc.Samples(), ploidy, altNumber, storeOpts)
		}
		w.Append(&rec)
		n++
	}
	if err := sc.Err(); err != nil {
		if w != nil {
			_ = w.Close()
		}
		return errors.Wrapf(err, "%v: convert", srcPath)
	}
	if w == nil {
		// Empty source: still produce a loadable store.
		w = gcol.NewWriter(ctx, destPath, sc.Samples(), 2, altNumber, storeOpts)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "%v: convert", srcPath)
	}
	vlog.Infof("%v: converted %d variants -> %v", srcPath, n, destPath)
	return nil
}

// scanFields maps the store's field selection to the scanner bitset.
// Call data is always read; NumAlt rides along because the writer pads
// ALT values to the store ceiling.
func scanFields(fields []string) vcf.Field {
	f := vcf.Calls | vcf.NumAlt
	for _, name := range fields {
		switch name {
		case gcol.FieldChrom:
			f |= vcf.Chrom
		case gcol.FieldPos:
			f |= vcf.Pos
		case gcol.FieldID:
			f |= vcf.ID
		case gcol.FieldRef:
			f |= vcf.Ref
		case gcol.FieldAlt:
			f |= vcf.Alt
		case gcol.FieldQual:
			f |= vcf.Qual
		case gcol.FieldFilter:
			f |= vcf.Filter
		}
	}
	return f
}

// openVCF opens a plain or gzip-compressed VCF for reading. The
// returned closer releases every layer.
func openVCF(ctx context.Context, path string) (io.Reader, func(), error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%v: open", path)
	}
	r := bufio.NewReaderSize(in.Reader(ctx), 1<<20)
	if !strings.HasSuffix(path, ".gz") {
		closer := func() { _ = in.Close(ctx) }
		return r, closer, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		_ = in.Close(ctx)
		return nil, nil, errors.Wrapf(err, "%v: gzip", path)
	}
	closer := func() {
		_ = gz.Close()
		_ = in.Close(ctx)
	}
	return gz, closer, nil
}

func startTimer(prof Profiler, label string) {
	if prof != nil {
		prof.Start(label)
	}
}

func endTimer(prof Profiler) error {
	if prof == nil {
		return nil
	}
	return prof.End()
}
