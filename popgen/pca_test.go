package popgen

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/varbench/varbench/genotype"
	"gonum.org/v1/gonum/mat"
)

func TestParseScaler(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Scaler
		ok   bool
	}{
		{"", CenterScaler, true},
		{"none", CenterScaler, true},
		{"patterson", PattersonScaler, true},
		{"standard", StandardScaler, true},
		{"minmax", CenterScaler, false},
		{"Patterson", CenterScaler, false},
	} {
		got, ok := ParseScaler(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseScaler(%q): got (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestScale(t *testing.T) {
	for _, tc := range []struct {
		scaler Scaler
		want   []float64
	}{
		{CenterScaler, []float64{-1, 0, 1, 0}},
		{PattersonScaler, []float64{-2, 0, 2, 0}},
		{StandardScaler, []float64{-1 / math.Sqrt(0.5), 0, 1 / math.Sqrt(0.5), 0}},
	} {
		x := mat.NewDense(1, 4, []float64{0, 1, 2, 1})
		Scale(x, tc.scaler, 2)
		for j, want := range tc.want {
			require.InDelta(t, want, x.At(0, j), 1e-12, "scaler %v col %d", tc.scaler, j)
		}
	}
}

func TestScaleDegenerateRow(t *testing.T) {
	// An all-alt diploid row has p = 1, so the patterson denominator
	// degenerates and the row must be centered only.
	x := mat.NewDense(1, 3, []float64{2, 2, 2})
	Scale(x, PattersonScaler, 2)
	for j := 0; j < 3; j++ {
		require.Equal(t, 0.0, x.At(0, j), "col %d", j)
	}
}

func TestPCAExactRankOne(t *testing.T) {
	// Second variant is exactly twice the first, so the centered data
	// is rank one with singular value 5 and sample projections
	// {-7.5, -2.5, 2.5, 7.5}/sqrt(5) along the only component.
	x := mat.NewDense(2, 4, []float64{
		1, 2, 3, 4,
		2, 4, 6, 8,
	})
	res, err := PCA(x, Opts{Components: 2})
	require.NoError(t, err)
	require.Len(t, res.Values, 2)
	require.InDelta(t, 5.0, res.Values[0], 1e-9)
	require.InDelta(t, 0.0, res.Values[1], 1e-9)

	r, c := res.Coords.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 2, c)
	want := []float64{-7.5, -2.5, 2.5, 7.5}
	sign := 1.0
	if res.Coords.At(0, 0) > 0 {
		sign = -1
	}
	for i, w := range want {
		require.InDelta(t, w/math.Sqrt(5), sign*res.Coords.At(i, 0), 1e-9, "sample %d", i)
	}
}

func TestPCAClampsComponents(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{
		0, 1, 2,
		2, 0, 1,
	})
	res, err := PCA(x, Opts{Components: 10})
	require.NoError(t, err)
	// Thin SVD of a 3x2 observation matrix has two singular values.
	require.Len(t, res.Values, 2)
	_, c := res.Coords.Dims()
	require.Equal(t, 2, c)
}

func TestRandomizedPCAMatchesExact(t *testing.T) {
	// With oversampling past the full rank of the observation matrix
	// the sketch spans the whole range, so the randomized route must
	// reproduce the exact decomposition.
	rng := rand.New(rand.NewSource(7))
	const variants, samples = 30, 8
	data := make([]float64, variants*samples)
	for i := range data {
		data[i] = float64(rng.Intn(3))
	}
	x := mat.NewDense(variants, samples, data)

	exact, err := PCA(x, Opts{Components: 3, Scaler: PattersonScaler})
	require.NoError(t, err)
	approx, err := RandomizedPCA(x, Opts{
		Components: 3,
		Scaler:     PattersonScaler,
		Rand:       rand.New(rand.NewSource(11)),
	})
	require.NoError(t, err)

	require.Len(t, approx.Values, 3)
	for j := 0; j < 3; j++ {
		require.InDelta(t, exact.Values[j], approx.Values[j], 1e-8*exact.Values[0], "singular value %d", j)
	}
	// Projections agree up to the sign ambiguity of singular vectors;
	// compare column directions through their cosine.
	for j := 0; j < 3; j++ {
		var dot, na, nb float64
		for i := 0; i < samples; i++ {
			a, b := exact.Coords.At(i, j), approx.Coords.At(i, j)
			dot += a * b
			na += a * a
			nb += b * b
		}
		cos := math.Abs(dot) / math.Sqrt(na*nb)
		require.InDelta(t, 1.0, cos, 1e-8, "component %d direction", j)
	}
}

func TestPCAInputErrors(t *testing.T) {
	if _, err := PCA(nil, Opts{Components: 1}); err == nil {
		t.Error("nil matrix: expected error")
	}
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if _, err := PCA(x, Opts{Components: 0}); err == nil {
		t.Error("zero components: expected error")
	}
	if _, err := RandomizedPCA(nil, Opts{Components: 1}); err == nil {
		t.Error("nil matrix: expected error")
	}
}

func TestPCADoesNotMutateInput(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{0, 1, 2, 2, 0, 1})
	orig := mat.DenseCopyOf(x)
	_, err := PCA(x, Opts{Components: 1, Scaler: StandardScaler})
	require.NoError(t, err)
	require.True(t, mat.Equal(orig, x), "input matrix was modified")
}

func TestFloat64Matrix(t *testing.T) {
	d := genotype.NewDosageMatrix(2, 3)
	copy(d.Row(0), []int8{0, 1, 2})
	copy(d.Row(1), []int8{2, 0, 1})
	x := Float64Matrix(d)
	require.NotNil(t, x)
	r, c := x.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 3, c)
	if got, want := x.At(0, 2), 2.0; got != want {
		t.Errorf("At(0,2): got %v, want %v", got, want)
	}
	if got, want := x.At(1, 0), 2.0; got != want {
		t.Errorf("At(1,0): got %v, want %v", got, want)
	}

	require.Nil(t, Float64Matrix(nil))
	require.Nil(t, Float64Matrix(genotype.NewDosageMatrix(0, 3)))
}
