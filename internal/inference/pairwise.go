package inference

import (
	"errors"
	"fmt"
	"math"
)

// Contrast families of the pairwise comparisons.
const (
	ContrastOS          = "os"
	ContrastChannel     = "channel"
	ContrastInteraction = "os * channel"
)

// AdjustBonferroni names the multiple comparison correction.
const AdjustBonferroni = "bonf"

// Comparison is one pairwise Welch t-test. Channel is set for the interaction
// contrast only.
type Comparison struct {
	Contrast string
	Channel  string
	A        string
	B        string
	TTest
	PCorr   float64
	PAdjust string
}

// Bonferroni multiplies every p-value by the family size, capped at 1.
func Bonferroni(p []float64) []float64 {
	out := make([]float64, len(p))
	m := float64(len(p))
	for i, v := range p {
		out[i] = math.Min(1, v*m)
	}
	return out
}

// PairwiseTTests compares every pair of OS levels, every pair of channel levels,
// and, within every channel, every pair of OS levels. The levels fix the order
// of the comparisons; each contrast family is Bonferroni corrected on its own.
func PairwiseTTests(obs []Observation, osLevels, chLevels []string) ([]Comparison, error) {
	if len(osLevels) < 2 || len(chLevels) < 2 {
		return nil, fmt.Errorf("pairwise t-tests with %d os and %d channel levels: %w", len(osLevels), len(chLevels), ErrTooFewLevels)
	}
	byOS := make(map[string][]float64)
	byCh := make(map[string][]float64)
	byCell := make(map[[2]string][]float64)
	for _, o := range obs {
		byOS[o.OS] = append(byOS[o.OS], o.Value)
		byCh[o.Channel] = append(byCh[o.Channel], o.Value)
		byCell[[2]string{o.Channel, o.OS}] = append(byCell[[2]string{o.Channel, o.OS}], o.Value)
	}

	var out []Comparison

	family, err := pairs(ContrastOS, "", osLevels, func(l string) []float64 { return byOS[l] })
	if err != nil {
		return nil, err
	}
	out = append(out, family...)

	family, err = pairs(ContrastChannel, "", chLevels, func(l string) []float64 { return byCh[l] })
	if err != nil {
		return nil, err
	}
	out = append(out, family...)

	var interaction []Comparison
	for _, ch := range chLevels {
		ch := ch
		family, err := pairs(ContrastInteraction, ch, osLevels, func(l string) []float64 { return byCell[[2]string{ch, l}] })
		if err != nil {
			return nil, err
		}
		interaction = append(interaction, family...)
	}
	correct(interaction)
	out = append(out, interaction...)
	return out, nil
}

// nanTest stands in for a comparison with an empty or single observation side.
func nanTest(na, nb int) TTest {
	nan := math.NaN()
	return TTest{T: nan, DOF: nan, Tail: TailTwoSided, PValue: nan, CILow: nan, CIHigh: nan, CohenD: nan, Hedges: nan, NA: na, NB: nb}
}

// pairs runs the Welch tests of one family and corrects them. Pairs with too
// few observations are reported with NaN statistics.
func pairs(contrast, channel string, levels []string, values func(string) []float64) ([]Comparison, error) {
	var family []Comparison
	for i := 0; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			a, b := values(levels[i]), values(levels[j])
			res, err := Welch(a, b)
			if errors.Is(err, ErrTooFewSamples) {
				res = nanTest(len(a), len(b))
			} else if err != nil {
				return nil, fmt.Errorf("%s %s vs %s: %w", contrast, levels[i], levels[j], err)
			}
			family = append(family, Comparison{
				Contrast: contrast,
				Channel:  channel,
				A:        levels[i],
				B:        levels[j],
				TTest:    res,
			})
		}
	}
	if contrast != ContrastInteraction {
		correct(family)
	}
	return family, nil
}

func correct(family []Comparison) {
	p := make([]float64, len(family))
	for i, c := range family {
		p[i] = c.PValue
	}
	for i, corrected := range Bonferroni(p) {
		family[i].PCorr = corrected
		family[i].PAdjust = AdjustBonferroni
	}
}
