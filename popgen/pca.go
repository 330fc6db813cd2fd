package popgen

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/varbench/varbench/genotype"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler selects the per-variant feature scaling applied before
// decomposition.
type Scaler int

const (
	// CenterScaler subtracts the per-variant mean and nothing else.
	// Its configuration name is "none".
	CenterScaler Scaler = iota
	// PattersonScaler centers and divides by sqrt(p(1-p)), with p the
	// variant's alternate-allele frequency estimated from the mean
	// dosage and the ploidy.
	PattersonScaler
	// StandardScaler centers and divides by the per-variant population
	// standard deviation.
	StandardScaler
)

func (s Scaler) String() string {
	switch s {
	case PattersonScaler:
		return "patterson"
	case StandardScaler:
		return "standard"
	}
	return "none"
}

// ParseScaler maps a configuration name to a Scaler. Unrecognized
// names report ok=false and fall back to plain centering.
func ParseScaler(name string) (Scaler, bool) {
	switch name {
	case "", "none":
		return CenterScaler, true
	case "patterson":
		return PattersonScaler, true
	case "standard":
		return StandardScaler, true
	}
	return CenterScaler, false
}

// Opts configures a decomposition.
type Opts struct {
	// Components is the number of leading components to keep.
	Components int
	// Scaler is the feature scaling run before the decomposition.
	Scaler Scaler
	// Ploidy feeds the patterson scaler's allele-frequency estimate.
	// Zero means diploid.
	Ploidy int
	// Rand drives the randomized range finder. Nil gets a time-seeded
	// source.
	Rand *rand.Rand
}

// Result holds a decomposition's sample projection.
type Result struct {
	// Coords is the samples x components projection.
	Coords *mat.Dense
	// Values holds the matching singular values, largest first.
	Values []float64
}

// Float64Matrix converts a dosage matrix to the float64
// variants x samples matrix the decompositions run on. It returns nil
// for an empty matrix.
func Float64Matrix(d *genotype.DosageMatrix) *mat.Dense {
	if d == nil || d.Variants == 0 || d.Samples == 0 {
		return nil
	}
	x := mat.NewDense(d.Variants, d.Samples, nil)
	for v := 0; v < d.Variants; v++ {
		out := x.RawRowView(v)
		for s, c := range d.Row(v) {
			out[s] = float64(c)
		}
	}
	return x
}

// Scale applies the scaler to x in place, row by row. Rows are
// variants; columns are samples. Rows whose scale factor degenerates
// to zero are only centered.
func Scale(x *mat.Dense, s Scaler, ploidy int) {
	if ploidy < 1 {
		ploidy = 2
	}
	r, _ := x.Dims()
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		mean := stat.Mean(row, nil)
		denom := 1.0
		switch s {
		case PattersonScaler:
			p := mean / float64(ploidy)
			if v := p * (1 - p); v > 0 {
				denom = math.Sqrt(v)
			}
		case StandardScaler:
			if sd := stat.PopStdDev(row, nil); sd > 0 {
				denom = sd
			}
		}
		for j := range row {
			row[j] = (row[j] - mean) / denom
		}
	}
}

// PCA runs an exact decomposition of x (variants x samples) and
// projects the samples onto the leading components. The input is not
// modified; scaling happens on a copy.
func PCA(x *mat.Dense, opts Opts) (*Result, error) {
	y, err := prepare(x, opts)
	if err != nil {
		return nil, err
	}
	var svd mat.SVD
	if !svd.Factorize(y, mat.SVDThin) {
		return nil, errors.New("popgen: svd did not converge")
	}
	s := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)
	k := opts.Components
	if k > len(s) {
		k = len(s)
	}
	return &Result{Coords: project(&u, s, k), Values: append([]float64(nil), s[:k]...)}, nil
}

const (
	randOversample = 10
	randPowerIters = 3
)

// RandomizedPCA approximates PCA with a Gaussian range finder
// (oversampled sketch plus power iterations), then decomposes the
// small projected matrix exactly. With enough oversampling relative to
// the matrix rank the leading components match the exact ones.
func RandomizedPCA(x *mat.Dense, opts Opts) (*Result, error) {
	y, err := prepare(x, opts)
	if err != nil {
		return nil, err
	}
	n, m := y.Dims()
	minDim := n
	if m < minDim {
		minDim = m
	}
	k := opts.Components
	if k > minDim {
		k = minDim
	}
	l := k + randOversample
	if l > minDim {
		l = minDim
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	omega := mat.NewDense(m, l, nil)
	for i := 0; i < m; i++ {
		row := omega.RawRowView(i)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}
	var z mat.Dense
	z.Mul(y, omega)
	q, err := orthonormal(&z)
	if err != nil {
		return nil, err
	}
	for it := 0; it < randPowerIters; it++ {
		var w mat.Dense
		w.Mul(y.T(), q)
		qw, err := orthonormal(&w)
		if err != nil {
			return nil, err
		}
		z.Mul(y, qw)
		if q, err = orthonormal(&z); err != nil {
			return nil, err
		}
	}
	var b mat.Dense
	b.Mul(q.T(), y)
	var svd mat.SVD
	if !svd.Factorize(&b, mat.SVDThin) {
		return nil, errors.New("popgen: svd of projected matrix did not converge")
	}
	s := svd.Values(nil)
	var ub mat.Dense
	svd.UTo(&ub)
	var u mat.Dense
	u.Mul(q, &ub)
	if k > len(s) {
		k = len(s)
	}
	return &Result{Coords: project(&u, s, k), Values: append([]float64(nil), s[:k]...)}, nil
}

// prepare validates opts, scales a copy of x and transposes it into
// the samples x variants observation matrix.
func prepare(x *mat.Dense, opts Opts) (*mat.Dense, error) {
	if opts.Components < 1 {
		return nil, errors.New("popgen: component count must be positive")
	}
	if x == nil {
		return nil, errors.New("popgen: empty matrix")
	}
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return nil, errors.Errorf("popgen: empty matrix %dx%d", r, c)
	}
	scaled := mat.DenseCopyOf(x)
	Scale(scaled, opts.Scaler, opts.Ploidy)
	var y mat.Dense
	y.CloneFrom(scaled.T())
	return &y, nil
}

// orthonormal returns a thin orthonormal basis for the range of z.
func orthonormal(z *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(z, mat.SVDThin) {
		return nil, errors.New("popgen: range finder svd did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	return &u, nil
}

func project(u *mat.Dense, s []float64, k int) *mat.Dense {
	n, _ := u.Dims()
	coords := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			coords.Set(i, j, u.At(i, j)*s[j])
		}
	}
	return coords
}
