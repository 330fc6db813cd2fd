// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gcol

import (
	"context"
	"encoding/binary"
	"math"

	grailerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	"github.com/varbench/varbench/encoding/vcf"
	"v.io/x/lib/vlog"
)

// Default chunk geometry, matching the conversion engine defaults.
const (
	DefaultChunkLength = 65536
	DefaultChunkWidth  = 64
)

// WriteOpts configures a store writer.
type WriteOpts struct {
	// ChunkLength is the number of variants per row chunk. Defaults to
	// DefaultChunkLength.
	ChunkLength int
	// ChunkWidth is the number of samples per column chunk. Defaults
	// to DefaultChunkWidth.
	ChunkWidth int
	// Codec configures chunk compression. The zero value selects
	// DefaultCodecOpts.
	Codec CodecOpts
	// Fields lists the site fields to store. Nil stores every field in
	// SiteFields.
	Fields []string
}

func (o WriteOpts) withDefaults() WriteOpts {
	if o.ChunkLength <= 0 {
		o.ChunkLength = DefaultChunkLength
	}
	if o.ChunkWidth <= 0 {
		o.ChunkWidth = DefaultChunkWidth
	}
	if o.Codec == (CodecOpts{}) {
		o.Codec = DefaultCodecOpts
	}
	if o.Fields == nil {
		o.Fields = SiteFields
	}
	return o
}

// Writer writes one store directory. Records are appended in variant
// order; a full row stripe (ChunkLength variants) is encoded and
// written at a time, one file per column tile and per site field.
// Errors are accumulated and reported by Close.
type Writer struct {
	ctx         context.Context
	dir         string
	opts        WriteOpts
	codec       *Codec
	samples     int
	metaSamples []string
	ploidy      int
	altNumber   int
	err         grailerrors.Once

	rowChunk int
	rows     int
	variants int

	calls  []int8
	pos    []int32
	numalt []int8
	qual   []float32
	chrom  []string
	id     []string
	ref    []string
	filter []string
	alt    []string
}

// NewWriter creates a store writer for the given directory. The
// destination should not exist; stale content is the caller's problem
// (see Remove). Any setup error is reported through Close.
func NewWriter(ctx context.Context, dir string, samples []string, ploidy, altNumber int, opts WriteOpts) *Writer {
	opts = opts.withDefaults()
	w := &Writer{
		ctx:       ctx,
		dir:       dir,
		opts:      opts,
		samples:   len(samples),
		ploidy:    ploidy,
		altNumber: altNumber,
	}
	codec, err := NewCodec(opts.Codec)
	if err != nil {
		w.err.Set(err)
		return w
	}
	w.codec = codec
	if ploidy < 1 {
		w.err.Set(errors.Errorf("%s: ploidy %d out of range", dir, ploidy))
		return w
	}
	if altNumber < 0 {
		w.err.Set(errors.Errorf("%s: alt number %d out of range", dir, altNumber))
		return w
	}
	for _, f := range opts.Fields {
		if fieldElemSize(f) == 0 {
			w.err.Set(errors.Errorf("%s: unknown site field %q", dir, f))
			return w
		}
	}
	w.metaSamples = make([]string, len(samples))
	copy(w.metaSamples, samples)
	return w
}

// Append adds one variant record to the store. rec.Calls must hold
// samples*ploidy entries. Append never fails synchronously; errors
// surface from Close.
func (w *Writer) Append(rec *vcf.Record) {
	if w.err.Err() != nil {
		return
	}
	if len(rec.Calls) != w.samples*w.ploidy {
		w.err.Set(errors.Errorf("%s: variant %d has %d calls, want %d",
			w.dir, w.variants, len(rec.Calls), w.samples*w.ploidy))
		return
	}
	w.calls = append(w.calls, rec.Calls...)
	for _, f := range w.opts.Fields {
		switch f {
		case FieldChrom:
			w.chrom = append(w.chrom, rec.Chrom)
		case FieldPos:
			w.pos = append(w.pos, rec.Pos)
		case FieldID:
			w.id = append(w.id, rec.ID)
		case FieldRef:
			w.ref = append(w.ref, rec.Ref)
		case FieldAlt:
			for i := 0; i < w.altNumber; i++ {
				if i < len(rec.Alt) {
					w.alt = append(w.alt, rec.Alt[i])
				} else {
					w.alt = append(w.alt, "")
				}
			}
		case FieldQual:
			w.qual = append(w.qual, rec.Qual)
		case FieldFilter:
			w.filter = append(w.filter, rec.Filter)
		case FieldNumAlt:
			n := rec.NumAlt
			if n > math.MaxInt8 {
				n = math.MaxInt8
			}
			w.numalt = append(w.numalt, int8(n))
		}
	}
	w.rows++
	w.variants++
	if w.rows == w.opts.ChunkLength {
		w.flushStripe()
	}
}

// Close flushes buffered rows, writes the store metadata, and returns
// the first error encountered during the write.
func (w *Writer) Close() error {
	if w.rows > 0 && w.err.Err() == nil {
		w.flushStripe()
	}
	if w.codec != nil {
		defer w.codec.Close()
	}
	if err := w.err.Err(); err != nil {
		return err
	}
	meta := Metadata{
		Version:     StoreVersion,
		Variants:    w.variants,
		Samples:     w.metaSamples,
		Ploidy:      w.ploidy,
		AltNumber:   w.altNumber,
		ChunkLength: w.opts.ChunkLength,
		ChunkWidth:  w.opts.ChunkWidth,
		Codec: CodecInfo{
			Algorithm: w.opts.Codec.Algorithm.String(),
			Level:     w.opts.Codec.Level,
			Shuffle:   w.opts.Codec.Shuffle.String(),
		},
		Fields: w.opts.Fields,
	}
	if err := writeMetadata(w.ctx, w.dir, &meta); err != nil {
		w.err.Set(err)
	}
	vlog.VI(1).Infof("%v: wrote %d variants in %d row chunks", w.dir, w.variants, w.rowChunk)
	return w.err.Err()
}

// flushStripe encodes and writes every file of the buffered row
// stripe: one call tile per column chunk plus one chunk per site
// field. Tiles are independent, so they are compressed and written in
// parallel.
func (w *Writer) flushStripe() {
	rows := w.rows
	colChunks := 0
	if w.samples > 0 {
		colChunks = (w.samples + w.opts.ChunkWidth - 1) / w.opts.ChunkWidth
	}
	jobs := colChunks + len(w.opts.Fields)
	row := w.rowChunk
	err := traverse.Each(jobs, func(i int) error {
		if i < colChunks {
			payload := w.callTile(rows, i)
			return w.writeChunk(CallChunkPath(w.dir, row, i), payload, 1)
		}
		f := w.opts.Fields[i-colChunks]
		payload, elemSize := w.fieldPayload(f)
		return w.writeChunk(FieldChunkPath(w.dir, f, row), payload, elemSize)
	})
	if err != nil {
		w.err.Set(err)
	}
	w.rowChunk++
	w.rows = 0
	w.calls = w.calls[:0]
	w.pos = w.pos[:0]
	w.numalt = w.numalt[:0]
	w.qual = w.qual[:0]
	w.chrom = w.chrom[:0]
	w.id = w.id[:0]
	w.ref = w.ref[:0]
	w.filter = w.filter[:0]
	w.alt = w.alt[:0]
}

// callTile extracts the column range of column chunk cc from the
// buffered stripe, row-major.
func (w *Writer) callTile(rows, cc int) []byte {
	c0 := cc * w.opts.ChunkWidth
	c1 := c0 + w.opts.ChunkWidth
	if c1 > w.samples {
		c1 = w.samples
	}
	width := c1 - c0
	p := w.ploidy
	payload := make([]byte, rows*width*p)
	for r := 0; r < rows; r++ {
		src := w.calls[r*w.samples*p+c0*p : r*w.samples*p+c1*p]
		dst := payload[r*width*p:]
		for i, v := range src {
			dst[i] = byte(v)
		}
	}
	return payload
}

func (w *Writer) fieldPayload(f string) ([]byte, int) {
	switch f {
	case FieldPos:
		payload := make([]byte, 4*len(w.pos))
		for i, v := range w.pos {
			binary.LittleEndian.PutUint32(payload[4*i:], uint32(v))
		}
		return payload, 4
	case FieldQual:
		payload := make([]byte, 4*len(w.qual))
		for i, v := range w.qual {
			binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(v))
		}
		return payload, 4
	case FieldNumAlt:
		payload := make([]byte, len(w.numalt))
		for i, v := range w.numalt {
			payload[i] = byte(v)
		}
		return payload, 1
	case FieldChrom:
		return stringPayload(w.chrom), 1
	case FieldID:
		return stringPayload(w.id), 1
	case FieldRef:
		return stringPayload(w.ref), 1
	case FieldFilter:
		return stringPayload(w.filter), 1
	case FieldAlt:
		return stringPayload(w.alt), 1
	}
	return nil, 1
}

// stringPayload packs strings as uvarint length + bytes.
func stringPayload(ss []string) []byte {
	n := 0
	for _, s := range ss {
		n += binary.MaxVarintLen32 + len(s)
	}
	payload := make([]byte, 0, n)
	var tmp [binary.MaxVarintLen32]byte
	for _, s := range ss {
		k := binary.PutUvarint(tmp[:], uint64(len(s)))
		payload = append(payload, tmp[:k]...)
		payload = append(payload, s...)
	}
	return payload
}

func (w *Writer) writeChunk(path string, payload []byte, elemSize int) (err error) {
	encoded, err := w.codec.Encode(payload, elemSize)
	if err != nil {
		return err
	}
	out, err := file.Create(w.ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(w.ctx, out, &err)
	_, err = out.Writer(w.ctx).Write(encoded)
	return err
}
