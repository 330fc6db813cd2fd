// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gcol implements a chunked columnar store for genotype call
// sets. A store is a directory holding a JSON metadata document plus
// one compressed chunk file per (row-chunk, column-chunk) tile of the
// call data and per row-chunk of each stored site field:
//
//	store/
//	  meta.json
//	  calldata/c000000_0000       calls, tile (row chunk 0, col chunk 0)
//	  variants/pos/c000000        POS, row chunk 0
//	  variants/chrom/c000000      CHROM, row chunk 0
//	  ...
//
// Call data is a variants x samples x ploidy tensor of int8 allele
// indexes (-1 = missing), tiled by (chunk_length x chunk_width) with
// ploidy kept whole inside a tile. Chunk payloads pass through a
// shuffle filter and a block compressor (see Codec); every chunk is
// self-describing, so readers do not consult the metadata to decode.
//
// Stores are written once and read many times; there is no append or
// in-place update.
package gcol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// StoreVersion is the metadata version written by this package.
const StoreVersion = 1

// MetaFileName is the name of the store metadata document.
const MetaFileName = "meta.json"

// Site field names storable per variant.
const (
	FieldChrom  = "chrom"
	FieldPos    = "pos"
	FieldID     = "id"
	FieldRef    = "ref"
	FieldAlt    = "alt"
	FieldQual   = "qual"
	FieldFilter = "filter"
	FieldNumAlt = "numalt"
)

// SiteFields lists every storable site field, in canonical order.
var SiteFields = []string{
	FieldChrom, FieldPos, FieldID, FieldRef,
	FieldAlt, FieldQual, FieldFilter, FieldNumAlt,
}

// CodecInfo is the JSON representation of the codec a store was
// written with.
type CodecInfo struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
	Shuffle   string `json:"shuffle"`
}

// Metadata describes a store. It is stored as meta.json at the store
// root.
type Metadata struct {
	Version     int       `json:"version"`
	Variants    int       `json:"variants"`
	Samples     []string  `json:"samples"`
	Ploidy      int       `json:"ploidy"`
	AltNumber   int       `json:"alt_number"`
	ChunkLength int       `json:"chunk_length"`
	ChunkWidth  int       `json:"chunk_width"`
	Codec       CodecInfo `json:"codec"`
	Fields      []string  `json:"fields"`
}

// NumSamples returns the sample count.
func (m *Metadata) NumSamples() int { return len(m.Samples) }

// NumRowChunks returns the number of row (variant-axis) chunks.
func (m *Metadata) NumRowChunks() int {
	if m.Variants == 0 {
		return 0
	}
	return (m.Variants + m.ChunkLength - 1) / m.ChunkLength
}

// NumColChunks returns the number of column (sample-axis) chunks.
func (m *Metadata) NumColChunks() int {
	if m.NumSamples() == 0 {
		return 0
	}
	return (m.NumSamples() + m.ChunkWidth - 1) / m.ChunkWidth
}

// RowChunkBounds returns the half-open variant range [lo,hi) covered
// by row chunk r.
func (m *Metadata) RowChunkBounds(r int) (lo, hi int) {
	lo = r * m.ChunkLength
	hi = lo + m.ChunkLength
	if hi > m.Variants {
		hi = m.Variants
	}
	return lo, hi
}

// ColChunkBounds returns the half-open sample range [lo,hi) covered by
// column chunk c.
func (m *Metadata) ColChunkBounds(c int) (lo, hi int) {
	lo = c * m.ChunkWidth
	hi = lo + m.ChunkWidth
	if hi > m.NumSamples() {
		hi = m.NumSamples()
	}
	return lo, hi
}

// HasField reports whether the store carries the named site field.
func (m *Metadata) HasField(name string) bool {
	for _, f := range m.Fields {
		if f == name {
			return true
		}
	}
	return false
}

func (m *Metadata) validate() error {
	if m.Version != StoreVersion {
		return errors.Errorf("unsupported store version %d, want %d", m.Version, StoreVersion)
	}
	if m.Variants < 0 || m.Ploidy < 1 {
		return errors.Errorf("bad store geometry: %d variants, ploidy %d", m.Variants, m.Ploidy)
	}
	if m.ChunkLength < 1 || m.ChunkWidth < 1 {
		return errors.Errorf("bad chunk geometry %dx%d", m.ChunkLength, m.ChunkWidth)
	}
	if m.AltNumber < 0 {
		return errors.Errorf("bad alt number %d", m.AltNumber)
	}
	for _, f := range m.Fields {
		if fieldElemSize(f) == 0 {
			return errors.Errorf("unknown site field %q", f)
		}
	}
	return nil
}

// MetaPath returns the path of the store metadata document.
func MetaPath(dir string) string {
	return fmt.Sprintf("%s/%s", dir, MetaFileName)
}

// CallChunkPath returns the path of the call-data tile for the given
// row and column chunk.
func CallChunkPath(dir string, row, col int) string {
	return fmt.Sprintf("%s/calldata/c%06d_%04d", dir, row, col)
}

// FieldChunkPath returns the path of the given site field's data for
// one row chunk.
func FieldChunkPath(dir, field string, row int) string {
	return fmt.Sprintf("%s/variants/%s/c%06d", dir, field, row)
}

// fieldElemSize returns the shuffle element width for a site field, or
// 0 for an unknown field name.
func fieldElemSize(field string) int {
	switch field {
	case FieldPos, FieldQual:
		return 4
	case FieldChrom, FieldID, FieldRef, FieldAlt, FieldFilter, FieldNumAlt:
		return 1
	}
	return 0
}

// Remove deletes the files under the given store directory, then the
// chunk subdirectories, then the directory itself. Removing a
// nonexistent store is not an error.
func Remove(ctx context.Context, dir string) error {
	lister := file.List(ctx, dir, true)
	subdirs := map[string]bool{}
	n := 0
	for lister.Scan() {
		path := lister.Path()
		if err := file.Remove(ctx, path); err != nil {
			return err
		}
		for p := parentDir(path); len(p) > len(dir); p = parentDir(p) {
			subdirs[p] = true
		}
		n++
	}
	if err := lister.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	// Deepest first. Object stores have no directories, so failures
	// here are ignored.
	sorted := make([]string, 0, len(subdirs))
	for d := range subdirs {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	for _, d := range sorted {
		_ = file.Remove(ctx, d) // nolint: errcheck
	}
	return file.Remove(ctx, dir)
}

func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// List returns the store directories at or under parent, in lexical
// order. A directory is a store when it holds a metadata document.
func List(ctx context.Context, parent string) ([]string, error) {
	lister := file.List(ctx, parent, true)
	suffix := "/" + MetaFileName
	var dirs []string
	for lister.Scan() {
		if path := lister.Path(); strings.HasSuffix(path, suffix) {
			dirs = append(dirs, path[:len(path)-len(suffix)])
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.Wrapf(err, "%v: list stores", parent)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Exists reports whether dir contains a store metadata document.
func Exists(ctx context.Context, dir string) bool {
	_, err := file.Stat(ctx, MetaPath(dir))
	return err == nil
}

func readMetadata(ctx context.Context, dir string) (Metadata, error) {
	var m Metadata
	in, err := file.Open(ctx, MetaPath(dir))
	if err != nil {
		return m, errors.Wrapf(err, "%s: not a readable store", dir)
	}
	data, err := io.ReadAll(in.Reader(ctx))
	if cerr := in.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return m, errors.Wrapf(err, "%s: read store metadata", dir)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.Wrapf(err, "%s: corrupt store metadata", dir)
	}
	if err := m.validate(); err != nil {
		return m, errors.Wrapf(err, "%s: invalid store metadata", dir)
	}
	return m, nil
}

func writeMetadata(ctx context.Context, dir string, m *Metadata) (err error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, MetaPath(dir))
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	_, err = out.Writer(ctx).Write(data)
	return err
}
