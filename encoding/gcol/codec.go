// Copyright 2024 Varbench Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gcol

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Algorithm identifies the block compressor applied to chunk payloads.
type Algorithm int

const (
	// Zstd is the default algorithm.
	Zstd Algorithm = iota
	// BloscLZ requests the blosclz family; payloads are stored as LZ4
	// blocks, which share its format lineage and decode contract.
	BloscLZ
	// LZ4 block compression.
	LZ4
	// LZ4HC is LZ4 with the high-compression match finder.
	LZ4HC
	// Zlib (RFC 1950) compression.
	Zlib
	// Snappy block compression. The level setting is ignored.
	Snappy

	// rawAlgorithm marks an uncompressed payload. Written when the
	// level is 0 or when compression would grow the block. Never
	// accepted from configuration.
	rawAlgorithm Algorithm = 0x7f
)

var algorithmNames = []string{"zstd", "blosclz", "lz4", "lz4hc", "zlib", "snappy"}

// String returns the configuration name of the algorithm.
func (a Algorithm) String() string {
	if int(a) < len(algorithmNames) {
		return algorithmNames[a]
	}
	return "raw"
}

// ParseAlgorithm converts a configuration string such as "zstd" or
// "lz4hc" into an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	for i, n := range algorithmNames {
		if n == name {
			return Algorithm(i), nil
		}
	}
	return Zstd, errors.Errorf("unknown compression algorithm %q", name)
}

// Shuffle selects the byte-reordering filter applied before
// compression. Reordering groups together the corresponding bytes (or
// bits) of consecutive elements, which compresses far better for
// fixed-width numeric data.
type Shuffle int

const (
	// NoShuffle stores element bytes in their natural order.
	NoShuffle Shuffle = iota
	// ByteShuffle transposes the element-major layout to byte-plane
	// major.
	ByteShuffle
	// BitShuffle transposes down to bit planes.
	BitShuffle
	// AutoShuffle picks ByteShuffle for multi-byte elements and
	// BitShuffle for single-byte elements.
	AutoShuffle
)

var shuffleNames = []string{"none", "byte", "bit", "auto"}

// String returns the configuration name of the shuffle mode.
func (s Shuffle) String() string {
	if int(s) < len(shuffleNames) {
		return shuffleNames[s]
	}
	return "none"
}

// ParseShuffle converts a configuration string into a Shuffle mode.
func ParseShuffle(name string) (Shuffle, error) {
	for i, n := range shuffleNames {
		if n == name {
			return Shuffle(i), nil
		}
	}
	return AutoShuffle, errors.Errorf("unknown shuffle mode %q", name)
}

// CodecOpts configures chunk compression.
type CodecOpts struct {
	// Algorithm is the block compressor.
	Algorithm Algorithm
	// Level is the compression level in [0,9]. Zero disables
	// compression (and shuffling) entirely.
	Level int
	// Shuffle is the pre-compression reordering filter.
	Shuffle Shuffle
}

// DefaultCodecOpts mirrors the stock conversion configuration: light
// zstd with automatic shuffling.
var DefaultCodecOpts = CodecOpts{Algorithm: Zstd, Level: 1, Shuffle: AutoShuffle}

const (
	codecVersion = 1
	// header: version, algorithm, shuffle, element size, raw length.
	codecHeaderLen = 4 + 4
)

// Codec encodes and decodes chunk payloads. A Codec is safe for
// concurrent use by multiple goroutines once constructed.
type Codec struct {
	opts CodecOpts

	zstdOnce sync.Once
	zstdErr  error
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
}

// NewCodec validates opts and returns a Codec.
func NewCodec(opts CodecOpts) (*Codec, error) {
	if opts.Level < 0 || opts.Level > 9 {
		return nil, errors.Errorf("compression level %d out of range [0,9]", opts.Level)
	}
	switch opts.Algorithm {
	case Zstd, BloscLZ, LZ4, LZ4HC, Zlib, Snappy:
	default:
		return nil, errors.Errorf("unknown compression algorithm %d", opts.Algorithm)
	}
	switch opts.Shuffle {
	case NoShuffle, ByteShuffle, BitShuffle, AutoShuffle:
	default:
		return nil, errors.Errorf("unknown shuffle mode %d", opts.Shuffle)
	}
	return &Codec{opts: opts}, nil
}

// Opts returns the options the codec was built from.
func (c *Codec) Opts() CodecOpts { return c.opts }

func (c *Codec) initZstd() {
	c.zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.opts.Level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			c.zstdErr = err
			return
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			c.zstdErr = err
			return
		}
		c.zstdEnc, c.zstdDec = enc, dec
	})
}

// Close releases compressor state. The codec must not be used after
// Close.
func (c *Codec) Close() {
	if c.zstdEnc != nil {
		_ = c.zstdEnc.Close()
	}
	if c.zstdDec != nil {
		c.zstdDec.Close()
	}
}

// resolveShuffle maps AutoShuffle to a concrete mode for the element
// size at hand.
func resolveShuffle(s Shuffle, elemSize int) Shuffle {
	if s != AutoShuffle {
		return s
	}
	if elemSize > 1 {
		return ByteShuffle
	}
	return BitShuffle
}

// Encode compresses src, a payload of fixed-width elemSize-byte
// elements, and returns the encoded chunk. The returned slice is newly
// allocated.
func (c *Codec) Encode(src []byte, elemSize int) ([]byte, error) {
	if elemSize < 1 || elemSize > 255 {
		return nil, errors.Errorf("element size %d out of range", elemSize)
	}
	algo := c.opts.Algorithm
	shuf := resolveShuffle(c.opts.Shuffle, elemSize)
	if c.opts.Level == 0 {
		algo, shuf = rawAlgorithm, NoShuffle
	}
	if algo == BloscLZ {
		algo = LZ4
	}
	work := src
	if shuf != NoShuffle {
		work = make([]byte, len(src))
		if shuf == ByteShuffle {
			shuffleBytes(work, src, elemSize)
		} else {
			shuffleBits(work, src, elemSize)
		}
	}
	var payload []byte
	var err error
	switch algo {
	case rawAlgorithm:
		payload = work
	case Zstd:
		c.initZstd()
		if err = c.zstdErr; err == nil {
			payload = c.zstdEnc.EncodeAll(work, nil)
		}
	case LZ4:
		payload, err = lz4Encode(work, nil)
	case LZ4HC:
		payload, err = lz4Encode(work, &lz4.CompressorHC{Level: lz4Level(c.opts.Level)})
	case Zlib:
		payload, err = zlibEncode(work, c.opts.Level)
	case Snappy:
		payload = snappy.Encode(nil, work)
	}
	if err != nil {
		return nil, err
	}
	if payload == nil {
		// Incompressible block: store it raw.
		algo, payload = rawAlgorithm, work
	}
	out := make([]byte, codecHeaderLen+len(payload))
	out[0] = codecVersion
	out[1] = byte(algo)
	out[2] = byte(shuf)
	out[3] = byte(elemSize)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(src)))
	copy(out[codecHeaderLen:], payload)
	return out, nil
}

// Decode decompresses a chunk produced by Encode and returns the raw
// payload bytes.
func (c *Codec) Decode(chunk []byte) ([]byte, error) {
	if len(chunk) < codecHeaderLen {
		return nil, errors.New("chunk too short")
	}
	if chunk[0] != codecVersion {
		return nil, errors.Errorf("unsupported chunk version %d", chunk[0])
	}
	algo := Algorithm(chunk[1])
	shuf := Shuffle(chunk[2])
	elemSize := int(chunk[3])
	rawLen := int(binary.LittleEndian.Uint32(chunk[4:]))
	payload := chunk[codecHeaderLen:]

	raw := make([]byte, rawLen)
	switch algo {
	case rawAlgorithm:
		if len(payload) != rawLen {
			return nil, errors.Errorf("raw chunk length %d, want %d", len(payload), rawLen)
		}
		copy(raw, payload)
	case Zstd:
		c.initZstd()
		if c.zstdErr != nil {
			return nil, c.zstdErr
		}
		out, err := c.zstdDec.DecodeAll(payload, raw[:0])
		if err != nil {
			return nil, errors.Wrap(err, "zstd chunk")
		}
		if len(out) != rawLen {
			return nil, errors.Errorf("zstd chunk decoded to %d bytes, want %d", len(out), rawLen)
		}
		raw = out
	case LZ4, LZ4HC:
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, errors.Wrap(err, "lz4 chunk")
		}
		if n != rawLen {
			return nil, errors.Errorf("lz4 chunk decoded to %d bytes, want %d", n, rawLen)
		}
	case Zlib:
		if err := zlibDecode(raw, payload); err != nil {
			return nil, err
		}
	case Snappy:
		out, err := snappy.Decode(raw, payload)
		if err != nil {
			return nil, errors.Wrap(err, "snappy chunk")
		}
		if len(out) != rawLen {
			return nil, errors.Errorf("snappy chunk decoded to %d bytes, want %d", len(out), rawLen)
		}
		raw = out
	default:
		return nil, errors.Errorf("unknown chunk algorithm %d", algo)
	}
	switch shuf {
	case NoShuffle:
		return raw, nil
	case ByteShuffle:
		out := make([]byte, len(raw))
		unshuffleBytes(out, raw, elemSize)
		return out, nil
	case BitShuffle:
		out := make([]byte, len(raw))
		unshuffleBits(out, raw, elemSize)
		return out, nil
	}
	return nil, errors.Errorf("unknown chunk shuffle %d", shuf)
}

type lz4Compressor interface {
	CompressBlock(src, dst []byte) (int, error)
}

// lz4Encode compresses src as a single LZ4 block. A nil result means
// the block was incompressible and should be stored raw.
func lz4Encode(src []byte, hc lz4Compressor) ([]byte, error) {
	if hc == nil {
		hc = &lz4.Compressor{}
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := hc.CompressBlock(src, dst)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 chunk")
	}
	if n == 0 {
		return nil, nil
	}
	return dst[:n], nil
}

func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Level1
	case level == 2:
		return lz4.Level2
	case level == 3:
		return lz4.Level3
	case level == 4:
		return lz4.Level4
	case level == 5:
		return lz4.Level5
	case level == 6:
		return lz4.Level6
	case level == 7:
		return lz4.Level7
	case level == 8:
		return lz4.Level8
	}
	return lz4.Level9
}

func zlibEncode(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "zlib chunk")
	}
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "zlib chunk")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "zlib chunk")
	}
	return buf.Bytes(), nil
}

func zlibDecode(dst, payload []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "zlib chunk")
	}
	defer r.Close() // nolint: errcheck
	if _, err := io.ReadFull(r, dst); err != nil {
		return errors.Wrap(err, "zlib chunk")
	}
	return nil
}

// shuffleBytes rewrites src so that byte plane j of every element is
// contiguous: dst[j*n+i] = src[i*elem+j] for n = len(src)/elem.
// Trailing bytes beyond the last whole element are copied unchanged.
func shuffleBytes(dst, src []byte, elem int) {
	if elem <= 1 {
		copy(dst, src)
		return
	}
	n := len(src) / elem
	for i := 0; i < n; i++ {
		for j := 0; j < elem; j++ {
			dst[j*n+i] = src[i*elem+j]
		}
	}
	copy(dst[n*elem:], src[n*elem:])
}

func unshuffleBytes(dst, src []byte, elem int) {
	if elem <= 1 {
		copy(dst, src)
		return
	}
	n := len(src) / elem
	for i := 0; i < n; i++ {
		for j := 0; j < elem; j++ {
			dst[i*elem+j] = src[j*n+i]
		}
	}
	copy(dst[n*elem:], src[n*elem:])
}

// shuffleBits transposes the n x (8*elem) bit matrix of whole elements
// into bit-plane-major order. Bits are addressed LSB first within each
// byte. Trailing bytes beyond the last whole element are copied
// unchanged.
func shuffleBits(dst, src []byte, elem int) {
	n := len(src) / elem
	bits := 8 * elem
	body := n * elem
	for i := range dst[:body] {
		dst[i] = 0
	}
	for i := 0; i < n; i++ {
		for b := 0; b < bits; b++ {
			bit := (src[i*elem+b>>3] >> (uint(b) & 7)) & 1
			pos := b*n + i
			dst[pos>>3] |= bit << (uint(pos) & 7)
		}
	}
	copy(dst[body:], src[body:])
}

func unshuffleBits(dst, src []byte, elem int) {
	n := len(src) / elem
	bits := 8 * elem
	body := n * elem
	for i := range dst[:body] {
		dst[i] = 0
	}
	for i := 0; i < n; i++ {
		for b := 0; b < bits; b++ {
			pos := b*n + i
			bit := (src[pos>>3] >> (uint(pos) & 7)) & 1
			dst[i*elem+b>>3] |= bit << (uint(b) & 7)
		}
	}
	copy(dst[body:], src[body:])
}
