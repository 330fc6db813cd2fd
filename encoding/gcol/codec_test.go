package gcol

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShuffleBytes(t *testing.T) {
	// Two int32-sized elements: shuffling groups byte planes.
	src := []byte{0x11, 0x22, 0x33, 0x44, 0xaa, 0xbb, 0xcc, 0xdd}
	dst := make([]byte, len(src))
	shuffleBytes(dst, src, 4)
	want := []byte{0x11, 0xaa, 0x22, 0xbb, 0x33, 0xcc, 0x44, 0xdd}
	if !bytes.Equal(dst, want) {
		t.Errorf("got %x, want %x", dst, want)
	}
	back := make([]byte, len(src))
	unshuffleBytes(back, dst, 4)
	if !bytes.Equal(back, src) {
		t.Errorf("roundtrip: got %x, want %x", back, src)
	}
}

func TestShuffleBits(t *testing.T) {
	// Eight single-byte elements, all with only bit 0 set: the shuffled
	// form packs bit plane 0 into the first byte.
	src := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	dst := make([]byte, len(src))
	shuffleBits(dst, src, 1)
	want := []byte{0xff, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(dst, want) {
		t.Errorf("got %x, want %x", dst, want)
	}
	back := make([]byte, len(src))
	unshuffleBits(back, dst, 1)
	if !bytes.Equal(back, src) {
		t.Errorf("roundtrip: got %x, want %x", back, src)
	}
}

func TestShuffleBitsUnaligned(t *testing.T) {
	// Element counts that are not multiples of 8 must still invert
	// exactly.
	rnd := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 3, 7, 9, 100, 1001} {
		src := make([]byte, n)
		rnd.Read(src)
		dst := make([]byte, n)
		shuffleBits(dst, src, 1)
		back := make([]byte, n)
		unshuffleBits(back, dst, 1)
		if !bytes.Equal(back, src) {
			t.Errorf("n=%d: bit shuffle does not invert", n)
		}
	}
}

// genotype-like payload: long runs of small values with occasional
// missing markers, the shape the shuffle filters are tuned for.
func testPayload(n int) []byte {
	rnd := rand.New(rand.NewSource(99))
	out := make([]byte, n)
	for i := range out {
		switch rnd.Intn(20) {
		case 0:
			out[i] = 0xff // missing call
		case 1, 2:
			out[i] = 1
		default:
			out[i] = 0
		}
	}
	return out
}

func TestCodecRoundTrip(t *testing.T) {
	src := testPayload(10000)
	for _, algo := range []Algorithm{Zstd, BloscLZ, LZ4, LZ4HC, Zlib, Snappy} {
		c, err := NewCodec(CodecOpts{Algorithm: algo, Level: 5, Shuffle: AutoShuffle})
		require.NoError(t, err)
		enc, err := c.Encode(src, 1)
		require.NoError(t, err, "algo %v", algo)
		dec, err := c.Decode(enc)
		require.NoError(t, err, "algo %v", algo)
		if !bytes.Equal(dec, src) {
			t.Errorf("%v: decode mismatch", algo)
		}
		if algo != Snappy && len(enc) >= len(src) {
			t.Errorf("%v: no compression on compressible payload (%d -> %d)", algo, len(src), len(enc))
		}
		c.Close()
	}
}

func TestCodecLevelZeroStoresRaw(t *testing.T) {
	src := testPayload(512)
	c, err := NewCodec(CodecOpts{Algorithm: Zstd, Level: 0, Shuffle: AutoShuffle})
	require.NoError(t, err)
	defer c.Close()
	enc, err := c.Encode(src, 1)
	require.NoError(t, err)
	if got, want := len(enc), codecHeaderLen+len(src); got != want {
		t.Errorf("encoded length: got %v, want %v", got, want)
	}
	if !bytes.Equal(enc[codecHeaderLen:], src) {
		t.Error("level 0 payload is not verbatim")
	}
	dec, err := c.Decode(enc)
	require.NoError(t, err)
	if !bytes.Equal(dec, src) {
		t.Error("decode mismatch")
	}
}

func TestCodecIncompressible(t *testing.T) {
	// Random bytes defeat LZ4's matcher; the chunk must fall back to a
	// raw block and still decode.
	src := make([]byte, 4096)
	rand.New(rand.NewSource(7)).Read(src)
	c, err := NewCodec(CodecOpts{Algorithm: LZ4, Level: 1, Shuffle: NoShuffle})
	require.NoError(t, err)
	defer c.Close()
	enc, err := c.Encode(src, 1)
	require.NoError(t, err)
	dec, err := c.Decode(enc)
	require.NoError(t, err)
	if !bytes.Equal(dec, src) {
		t.Error("decode mismatch")
	}
}

func TestCodecMultiByteElements(t *testing.T) {
	// int32 positions: byte shuffle under auto mode.
	src := make([]byte, 4*1000)
	for i := 0; i < 1000; i++ {
		v := uint32(1000000 + 137*i)
		src[4*i] = byte(v)
		src[4*i+1] = byte(v >> 8)
		src[4*i+2] = byte(v >> 16)
		src[4*i+3] = byte(v >> 24)
	}
	c, err := NewCodec(CodecOpts{Algorithm: Zstd, Level: 3, Shuffle: AutoShuffle})
	require.NoError(t, err)
	defer c.Close()
	enc, err := c.Encode(src, 4)
	require.NoError(t, err)
	dec, err := c.Decode(enc)
	require.NoError(t, err)
	if !bytes.Equal(dec, src) {
		t.Error("decode mismatch")
	}
	if len(enc) >= len(src) {
		t.Errorf("no compression on monotone int32s (%d -> %d)", len(src), len(enc))
	}
}

func TestParseNames(t *testing.T) {
	for _, name := range []string{"zstd", "blosclz", "lz4", "lz4hc", "zlib", "snappy"} {
		a, err := ParseAlgorithm(name)
		require.NoError(t, err)
		if got, want := a.String(), name; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if _, err := ParseAlgorithm("gzip"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
	for _, name := range []string{"none", "byte", "bit", "auto"} {
		s, err := ParseShuffle(name)
		require.NoError(t, err)
		if got, want := s.String(), name; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if _, err := ParseShuffle("diagonal"); err == nil {
		t.Error("expected error for unknown shuffle")
	}
}

func TestCodecRejectsBadOpts(t *testing.T) {
	if _, err := NewCodec(CodecOpts{Algorithm: Zstd, Level: 10}); err == nil {
		t.Error("expected error for level 10")
	}
	if _, err := NewCodec(CodecOpts{Algorithm: Algorithm(42), Level: 1}); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}
