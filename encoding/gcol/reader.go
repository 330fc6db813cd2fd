// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gcol

import (
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
)

// Store is a read-only handle on a store directory. Chunk files are
// opened on demand; no file handle is held between reads, so a Store
// may be shared by concurrent readers.
type Store struct {
	dir   string
	meta  Metadata
	codec *Codec
}

// Open validates and opens the store at dir in read-only mode.
func Open(ctx context.Context, dir string) (*Store, error) {
	meta, err := readMetadata(ctx, dir)
	if err != nil {
		return nil, err
	}
	algo, err := ParseAlgorithm(meta.Codec.Algorithm)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid store codec", dir)
	}
	shuf, err := ParseShuffle(meta.Codec.Shuffle)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid store codec", dir)
	}
	codec, err := NewCodec(CodecOpts{Algorithm: algo, Level: meta.Codec.Level, Shuffle: shuf})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: invalid store codec", dir)
	}
	return &Store{dir: dir, meta: meta, codec: codec}, nil
}

// Dir returns the store directory path.
func (s *Store) Dir() string { return s.dir }

// Metadata returns a copy of the store metadata.
func (s *Store) Metadata() Metadata { return s.meta }

// NumVariants returns the variant count.
func (s *Store) NumVariants() int { return s.meta.Variants }

// NumSamples returns the sample count.
func (s *Store) NumSamples() int { return s.meta.NumSamples() }

// Ploidy returns the call-data ploidy.
func (s *Store) Ploidy() int { return s.meta.Ploidy }

// AltNumber returns the alternate-allele ceiling the store was written
// with.
func (s *Store) AltNumber() int { return s.meta.AltNumber }

// Close releases decoder state.
func (s *Store) Close() {
	s.codec.Close()
}

func (s *Store) readChunkFile(ctx context.Context, path string) ([]byte, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	data, err := io.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read chunk", path)
	}
	raw, err := s.codec.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decode chunk", path)
	}
	return raw, nil
}

// ReadCallChunk reads row chunk r of the call data, assembled across
// all column tiles into a row-major rows x samples x ploidy tensor.
func (s *Store) ReadCallChunk(ctx context.Context, r int) ([]int8, error) {
	lo, hi := s.meta.RowChunkBounds(r)
	rows := hi - lo
	if rows <= 0 {
		return nil, errors.Errorf("%s: row chunk %d out of range", s.dir, r)
	}
	ns, p := s.meta.NumSamples(), s.meta.Ploidy
	out := make([]int8, rows*ns*p)
	err := traverse.Each(s.meta.NumColChunks(), func(cc int) error {
		c0, c1 := s.meta.ColChunkBounds(cc)
		width := c1 - c0
		tile, err := s.readChunkFile(ctx, CallChunkPath(s.dir, r, cc))
		if err != nil {
			return err
		}
		if len(tile) != rows*width*p {
			return errors.Errorf("%s: call tile (%d,%d) has %d values, want %d",
				s.dir, r, cc, len(tile), rows*width*p)
		}
		for row := 0; row < rows; row++ {
			dst := out[row*ns*p+c0*p : row*ns*p+c1*p]
			src := tile[row*width*p:]
			for i := range dst {
				dst[i] = int8(src[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAllCalls reads the entire call tensor into memory.
func (s *Store) ReadAllCalls(ctx context.Context) ([]int8, error) {
	ns, p := s.meta.NumSamples(), s.meta.Ploidy
	out := make([]int8, s.meta.Variants*ns*p)
	for r := 0; r < s.meta.NumRowChunks(); r++ {
		chunk, err := s.ReadCallChunk(ctx, r)
		if err != nil {
			return nil, err
		}
		lo, _ := s.meta.RowChunkBounds(r)
		copy(out[lo*ns*p:], chunk)
	}
	return out, nil
}

func (s *Store) readFieldChunks(ctx context.Context, field string, want func(rows int) int) ([][]byte, error) {
	if !s.meta.HasField(field) {
		return nil, errors.Errorf("%s: store does not carry field %q", s.dir, field)
	}
	chunks := make([][]byte, s.meta.NumRowChunks())
	err := traverse.Each(len(chunks), func(r int) error {
		raw, err := s.readChunkFile(ctx, FieldChunkPath(s.dir, field, r))
		if err != nil {
			return err
		}
		lo, hi := s.meta.RowChunkBounds(r)
		if w := want(hi - lo); w >= 0 && len(raw) != w {
			return errors.Errorf("%s: field %q chunk %d has %d bytes, want %d",
				s.dir, field, r, len(raw), w)
		}
		chunks[r] = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ReadPositions reads the POS column for every variant.
func (s *Store) ReadPositions(ctx context.Context) ([]int32, error) {
	chunks, err := s.readFieldChunks(ctx, FieldPos, func(rows int) int { return 4 * rows })
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, s.meta.Variants)
	for _, raw := range chunks {
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, int32(binary.LittleEndian.Uint32(raw[i:])))
		}
	}
	return out, nil
}

// ReadQual reads the QUAL column for every variant.
func (s *Store) ReadQual(ctx context.Context) ([]float32, error) {
	chunks, err := s.readFieldChunks(ctx, FieldQual, func(rows int) int { return 4 * rows })
	if err != nil {
		return nil, err
	}
	out := make([]float32, 0, s.meta.Variants)
	for _, raw := range chunks {
		for i := 0; i+4 <= len(raw); i += 4 {
			out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
		}
	}
	return out, nil
}

// ReadNumAlt reads the per-variant alternate-allele counts.
func (s *Store) ReadNumAlt(ctx context.Context) ([]int8, error) {
	chunks, err := s.readFieldChunks(ctx, FieldNumAlt, func(rows int) int { return rows })
	if err != nil {
		return nil, err
	}
	out := make([]int8, 0, s.meta.Variants)
	for _, raw := range chunks {
		for _, b := range raw {
			out = append(out, int8(b))
		}
	}
	return out, nil
}

// ReadStrings reads a string-typed site field. For FieldAlt the result
// holds AltNumber entries per variant, flattened in variant order; for
// the other string fields, one entry per variant.
func (s *Store) ReadStrings(ctx context.Context, field string) ([]string, error) {
	switch field {
	case FieldChrom, FieldID, FieldRef, FieldFilter, FieldAlt:
	default:
		return nil, errors.Errorf("%s: field %q is not string-typed", s.dir, field)
	}
	perVariant := 1
	if field == FieldAlt {
		perVariant = s.meta.AltNumber
	}
	chunks, err := s.readFieldChunks(ctx, field, func(int) int { return -1 })
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, s.meta.Variants*perVariant)
	for r, raw := range chunks {
		lo, hi := s.meta.RowChunkBounds(r)
		want := (hi - lo) * perVariant
		got := 0
		for len(raw) > 0 {
			n, k := binary.Uvarint(raw)
			if k <= 0 || uint64(len(raw)-k) < n {
				return nil, errors.Errorf("%s: field %q chunk %d is corrupt", s.dir, field, r)
			}
			out = append(out, string(raw[k:k+int(n)]))
			raw = raw[k+int(n):]
			got++
		}
		if got != want {
			return nil, errors.Errorf("%s: field %q chunk %d has %d strings, want %d",
				s.dir, field, r, got, want)
		}
	}
	return out, nil
}
