package datafetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Stage gathers the VCF sources for conversion: every .gz file under
// downloadDir is decompressed into tempDir with the suffix dropped,
// the .vcf files that produces are moved into vcfDir, tempDir is
// removed, and any plain .vcf already under downloadDir is copied in
// as well. Subdirectories are searched; results land flat in vcfDir,
// so two sources with the same base name collide last-writer-wins.
func Stage(ctx context.Context, downloadDir, tempDir, vcfDir string) error {
	if err := os.MkdirAll(tempDir, 0775); err != nil {
		return errors.Wrapf(err, "%v: create staging dir", tempDir)
	}
	if err := os.MkdirAll(vcfDir, 0775); err != nil {
		return errors.Wrapf(err, "%v: create vcf dir", vcfDir)
	}

	lister := file.List(ctx, downloadDir, true)
	for lister.Scan() {
		src := lister.Path()
		if !strings.HasSuffix(src, ".gz") {
			continue
		}
		dest := filepath.Join(tempDir, strings.TrimSuffix(file.Base(src), ".gz"))
		log.Printf("stage: decompressing %v to %v", src, dest)
		if err := decompress(ctx, src, dest); err != nil {
			return err
		}
	}
	if err := lister.Err(); err != nil {
		return errors.Wrapf(err, "%v: list downloads", downloadDir)
	}

	staged, err := filepath.Glob(filepath.Join(tempDir, "*.vcf"))
	if err != nil {
		return errors.Wrapf(err, "%v: list staged files", tempDir)
	}
	for _, src := range staged {
		dest := filepath.Join(vcfDir, filepath.Base(src))
		if err := os.Rename(src, dest); err != nil {
			return errors.Wrapf(err, "%v: move staged file", src)
		}
	}
	if err := os.RemoveAll(tempDir); err != nil {
		return errors.Wrapf(err, "%v: remove staging dir", tempDir)
	}

	lister = file.List(ctx, downloadDir, true)
	for lister.Scan() {
		src := lister.Path()
		if !strings.HasSuffix(src, ".vcf") {
			continue
		}
		dest := filepath.Join(vcfDir, file.Base(src))
		log.Printf("stage: copying %v to %v", src, dest)
		if err := copyFile(ctx, src, dest); err != nil {
			return err
		}
	}
	if err := lister.Err(); err != nil {
		return errors.Wrapf(err, "%v: list downloads", downloadDir)
	}
	return nil
}

// decompress streams one gzip member chain from src into a plain file
// at dest.
func decompress(ctx context.Context, src, dest string) error {
	in, err := file.Open(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "%v: open", src)
	}
	defer in.Close(ctx) // nolint: errcheck
	gz, err := gzip.NewReader(in.Reader(ctx))
	if err != nil {
		return errors.Wrapf(err, "%v: gzip", src)
	}
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "%v: create", dest)
	}
	_, err = io.Copy(out, gz)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = out.Close()     // nolint: errcheck
		_ = os.Remove(dest) // nolint: errcheck
		return errors.Wrapf(err, "%v: decompress", src)
	}
	return errors.Wrapf(out.Close(), "%v: close", dest)
}

func copyFile(ctx context.Context, src, dest string) error {
	in, err := file.Open(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "%v: open", src)
	}
	defer in.Close(ctx) // nolint: errcheck
	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "%v: create", dest)
	}
	if _, err := io.Copy(out, in.Reader(ctx)); err != nil {
		_ = out.Close()     // nolint: errcheck
		_ = os.Remove(dest) // nolint: errcheck
		return errors.Wrapf(err, "%v: copy", src)
	}
	return errors.Wrapf(out.Close(), "%v: close", dest)
}
