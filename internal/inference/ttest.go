// Package inference runs the between-group significance tests on the cleaned
// latencies: a two-way ANOVA and Welch or paired t-tests.
package inference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TailTwoSided is the only alternative hypothesis used.
const TailTwoSided = "two-sided"

// ErrTooFewSamples is returned when a group has fewer than two observations.
var ErrTooFewSamples = errors.New("at least two observations per group are required")

// ErrTooFewLevels is returned when a factor has fewer than two levels.
var ErrTooFewLevels = errors.New("at least two levels per factor are required")

// TTest is the result of a two-sample t-test of A against B.
type TTest struct {
	T      float64
	DOF    float64
	Tail   string
	PValue float64
	// CILow and CIHigh bound the 95% confidence interval of mean(A) - mean(B).
	CILow  float64
	CIHigh float64
	CohenD float64
	Hedges float64
	NA     int
	NB     int
}

func twoSidedP(t, dof float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
	return 2 * dist.Survival(math.Abs(t))
}

func confidence(diff, se, dof float64) (float64, float64) {
	crit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}.Quantile(0.975)
	return diff - crit*se, diff + crit*se
}

// hedgesCorrection turns Cohen's d into Hedges' g.
func hedgesCorrection(d float64, na, nb int) float64 {
	return d * (1 - 3/(4*float64(na+nb)-9))
}

// Welch runs Welch's unequal variances t-test.
func Welch(a, b []float64) (TTest, error) {
	na, nb := len(a), len(b)
	if na < 2 || nb < 2 {
		return TTest{}, fmt.Errorf("welch t-test with %d and %d observations: %w", na, nb, ErrTooFewSamples)
	}
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)

	sa, sb := va/float64(na), vb/float64(nb)
	se := math.Sqrt(sa + sb)
	diff := ma - mb
	t := diff / se
	dof := (sa + sb) * (sa + sb) / (sa*sa/float64(na-1) + sb*sb/float64(nb-1))

	pooled := math.Sqrt((float64(na-1)*va + float64(nb-1)*vb) / float64(na+nb-2))
	d := diff / pooled
	low, high := confidence(diff, se, dof)

	return TTest{
		T:      t,
		DOF:    dof,
		Tail:   TailTwoSided,
		PValue: twoSidedP(t, dof),
		CILow:  low,
		CIHigh: high,
		CohenD: d,
		Hedges: hedgesCorrection(d, na, nb),
		NA:     na,
		NB:     nb,
	}, nil
}

// Paired runs a paired t-test; a[i] and b[i] are one pair.
func Paired(a, b []float64) (TTest, error) {
	if len(a) != len(b) {
		return TTest{}, fmt.Errorf("paired t-test needs equally long samples, got %d and %d", len(a), len(b))
	}
	n := len(a)
	if n < 2 {
		return TTest{}, fmt.Errorf("paired t-test with %d pairs: %w", n, ErrTooFewSamples)
	}

	diffs := make([]float64, n)
	for i := range a {
		diffs[i] = a[i] - b[i]
	}
	md, vd := stat.MeanVariance(diffs, nil)
	se := math.Sqrt(vd / float64(n))
	t := md / se
	dof := float64(n - 1)

	va := stat.Variance(a, nil)
	vb := stat.Variance(b, nil)
	d := (stat.Mean(a, nil) - stat.Mean(b, nil)) / math.Sqrt((va+vb)/2)
	low, high := confidence(md, se, dof)

	return TTest{
		T:      t,
		DOF:    dof,
		Tail:   TailTwoSided,
		PValue: twoSidedP(t, dof),
		CILow:  low,
		CIHigh: high,
		CohenD: d,
		Hedges: hedgesCorrection(d, n, n),
		NA:     n,
		NB:     n,
	}, nil
}
