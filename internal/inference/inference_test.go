package inference

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func approx(t *testing.T, name string, got, expect, tol float64) {
	t.Helper()
	if math.Abs(got-expect) > tol {
		t.Fatalf("%s: expected %v but got %v", name, expect, got)
	}
}

func TestTwoSidedP(t *testing.T) {
	// with one degree of freedom the t distribution is the standard Cauchy
	approx(t, "p", twoSidedP(1, 1), 0.5, 1e-9)
	approx(t, "p", twoSidedP(0, 10), 1, 1e-12)
}

func TestWelch(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	res, err := Welch(a, b)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "T", res.T, -3/math.Sqrt(2.5), 1e-12)
	approx(t, "dof", res.DOF, 6.25/1.0625, 1e-12)
	approx(t, "cohen-d", res.CohenD, -3/math.Sqrt(6.25), 1e-12)
	approx(t, "hedges", res.Hedges, res.CohenD*(1-3.0/31.0), 1e-12)
	if res.PValue <= 0.05 || res.PValue >= 0.2 {
		t.Fatal("unexpected p-value", res.PValue)
	}
	if res.CILow >= -3 || res.CIHigh <= -3 || res.CIHigh < 0 {
		t.Fatalf("confidence interval [%v, %v] does not cover the difference and zero", res.CILow, res.CIHigh)
	}

	swapped, err := Welch(b, a)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "T", swapped.T, -res.T, 1e-12)
	approx(t, "p", swapped.PValue, res.PValue, 1e-12)

	if _, err := Welch([]float64{1}, b); !errors.Is(err, ErrTooFewSamples) {
		t.Fatal("expected ErrTooFewSamples but got", err)
	}
}

func TestPaired(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{0, 2, 2, 5}
	res, err := Paired(a, b)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "T", res.T, 0.25/math.Sqrt(2.75/3/4), 1e-12)
	approx(t, "dof", res.DOF, 3, 0)
	if res.NA != 4 || res.NB != 4 {
		t.Fatal("unexpected sample sizes", res.NA, res.NB)
	}

	if _, err := Paired(a, b[:3]); err == nil {
		t.Fatal("expected an error for unequal lengths")
	}
}

func obsOf(osCode, channel string, values ...float64) []Observation {
	var out []Observation
	for _, v := range values {
		out = append(out, Observation{OS: osCode, Channel: channel, Value: v})
	}
	return out
}

func TestTwoWayANOVABalanced(t *testing.T) {
	var obs []Observation
	obs = append(obs, obsOf("lin", "a", 1, 3)...)
	obs = append(obs, obsOf("lin", "b", 4, 6)...)
	obs = append(obs, obsOf("win", "a", 2, 4)...)
	obs = append(obs, obsOf("win", "b", 7, 9)...)

	table, err := TwoWayANOVA(obs)
	if err != nil {
		t.Fatal(err)
	}
	type summary struct {
		Source string
		SS     float64
		DF     int
		F      float64
		NP2    float64
	}
	var got []summary
	for _, row := range table {
		got = append(got, summary{row.Source, row.SS, row.DF, row.F, row.NP2})
	}
	expect := []summary{
		{SourceOS, 8, 1, 4, 0.5},
		{SourceChannel, 32, 1, 16, 0.8},
		{SourceInteraction, 2, 1, 1, 0.2},
		{SourceResidual, 8, 4, math.NaN(), math.NaN()},
	}
	if diff := cmp.Diff(expect, got, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatal(diff)
	}
	for _, row := range table[:3] {
		if row.PValue <= 0 || row.PValue >= 1 {
			t.Fatal("unexpected p-value", row.Source, row.PValue)
		}
	}
	if !(table[1].PValue < table[0].PValue && table[0].PValue < table[2].PValue) {
		t.Fatal("p-values do not follow the F statistics")
	}
}

func TestTwoWayANOVAUnbalancedAdditive(t *testing.T) {
	var obs []Observation
	obs = append(obs, obsOf("lin", "a", 0, 2)...)
	obs = append(obs, obsOf("lin", "b", 2, 3, 4)...)
	obs = append(obs, obsOf("win", "a", 1, 2, 3, 2)...)
	obs = append(obs, obsOf("win", "b", 3, 5)...)

	table, err := TwoWayANOVA(obs)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "interaction SS", table[2].SS, 0, 1e-9)
	if table[0].SS <= 0 || table[1].SS <= 0 {
		t.Fatal("main effects must explain variance", table)
	}
	approx(t, "residual SS", table[3].SS, 2+2+2+2, 1e-9)
	if table[3].DF != 11-4 {
		t.Fatal("unexpected residual df", table[3].DF)
	}
}

func TestTwoWayANOVANeedsTwoLevels(t *testing.T) {
	obs := obsOf("lin", "a", 1, 2, 3)
	obs = append(obs, obsOf("win", "a", 1, 2, 3)...)
	if _, err := TwoWayANOVA(obs); !errors.Is(err, ErrTooFewLevels) {
		t.Fatal("expected ErrTooFewLevels but got", err)
	}
}

func TestBonferroni(t *testing.T) {
	got := Bonferroni([]float64{0.01, 0.2, 0.5})
	if diff := cmp.Diff([]float64{0.03, 0.6, 1}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatal(diff)
	}
}

func TestPairwiseTTests(t *testing.T) {
	var obs []Observation
	for i, ch := range []string{"a", "b", "c"} {
		base := float64(i + 1)
		obs = append(obs, obsOf("lin", ch, base, base+0.5, base+1, base+0.2)...)
		obs = append(obs, obsOf("win", ch, base+2, base+2.5, base+3, base+2.4)...)
	}

	res, err := PairwiseTTests(obs, []string{"lin", "win"}, []string{"c", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	type key struct{ Contrast, Channel, A, B string }
	var got []key
	for _, c := range res {
		got = append(got, key{c.Contrast, c.Channel, c.A, c.B})
	}
	expect := []key{
		{ContrastOS, "", "lin", "win"},
		{ContrastChannel, "", "c", "a"},
		{ContrastChannel, "", "c", "b"},
		{ContrastChannel, "", "a", "b"},
		{ContrastInteraction, "c", "lin", "win"},
		{ContrastInteraction, "a", "lin", "win"},
		{ContrastInteraction, "b", "lin", "win"},
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal(diff)
	}

	approx(t, "os p-corr", res[0].PCorr, res[0].PValue, 0)
	for _, c := range res[1:] {
		approx(t, "p-corr", c.PCorr, math.Min(1, 3*c.PValue), 1e-15)
		if c.PAdjust != AdjustBonferroni {
			t.Fatal("unexpected adjustment", c.PAdjust)
		}
	}
}

func TestPairwiseTTestsEmptyGroup(t *testing.T) {
	obs := obsOf("lin", "a", 1, 2, 3)
	obs = append(obs, obsOf("win", "a", 2, 3, 4)...)
	obs = append(obs, obsOf("lin", "b", 5, 6, 8)...)

	res, err := PairwiseTTests(obs, []string{"lin", "win"}, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	last := res[len(res)-1]
	if last.Channel != "b" || !math.IsNaN(last.T) || !math.IsNaN(last.PCorr) || last.NB != 0 {
		t.Fatalf("unexpected comparison for the empty group %+v", last)
	}
	if math.IsNaN(res[0].PValue) {
		t.Fatal("os comparison must not be affected by the empty group")
	}
}

func TestPairwiseTTestsTooFewLevels(t *testing.T) {
	obs := obsOf("lin", "a", 1, 2, 3)
	obs = append(obs, obsOf("lin", "b", 1, 2, 3)...)
	if _, err := PairwiseTTests(obs, []string{"lin"}, []string{"a", "b"}); !errors.Is(err, ErrTooFewLevels) {
		t.Fatal("expected ErrTooFewLevels but got", err)
	}
}
