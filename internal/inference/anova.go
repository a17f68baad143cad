package inference

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Observation is one latency with its two between-subject factors.
type Observation struct {
	OS      string
	Channel string
	Value   float64
}

// ANOVARow is one line of the ANOVA table. F, PValue, and NP2 are NaN for the
// residual row.
type ANOVARow struct {
	Source string
	SS     float64
	DF     int
	MS     float64
	F      float64
	PValue float64
	// NP2 is the partial eta squared.
	NP2 float64
}

// Source names of the two-way ANOVA table.
const (
	SourceOS          = "os"
	SourceChannel     = "channel"
	SourceInteraction = "os * channel"
	SourceResidual    = "Residual"
)

var errSingularDesign = errors.New("additive model has a singular design matrix")

type cell struct {
	a, b int
	n    int
	mean float64
	ssw  float64
}

// TwoWayANOVA fits latency ~ os * channel and returns the type II sums of
// squares table. Empty factor combinations are allowed; they reduce the
// interaction degrees of freedom.
func TwoWayANOVA(obs []Observation) ([]ANOVARow, error) {
	osLevels := levels(obs, func(o Observation) string { return o.OS })
	chLevels := levels(obs, func(o Observation) string { return o.Channel })
	if len(osLevels) < 2 || len(chLevels) < 2 {
		return nil, fmt.Errorf("two-way anova with %d os and %d channel levels: %w", len(osLevels), len(chLevels), ErrTooFewLevels)
	}

	cells := cellStats(obs, osLevels, chLevels)
	n := len(obs)
	dfResid := n - len(cells)
	if dfResid <= 0 {
		return nil, fmt.Errorf("two-way anova with %d observations in %d cells: %w", n, len(cells), ErrTooFewSamples)
	}

	rssFull := 0.0
	for _, c := range cells {
		rssFull += c.ssw
	}
	rssOS := rssMarginal(cells, len(osLevels), func(c cell) int { return c.a })
	rssCh := rssMarginal(cells, len(chLevels), func(c cell) int { return c.b })
	rssAdd, err := rssAdditive(cells, len(osLevels), len(chLevels))
	if err != nil {
		return nil, err
	}

	dfOS := len(osLevels) - 1
	dfCh := len(chLevels) - 1
	dfInt := len(cells) - len(osLevels) - len(chLevels) + 1
	msResid := rssFull / float64(dfResid)

	row := func(source string, ss float64, df int) ANOVARow {
		ss = math.Max(ss, 0)
		r := ANOVARow{Source: source, SS: ss, DF: df, MS: math.NaN(), F: math.NaN(), PValue: math.NaN(), NP2: math.NaN()}
		if df <= 0 {
			return r
		}
		r.MS = ss / float64(df)
		r.F = r.MS / msResid
		r.PValue = distuv.F{D1: float64(df), D2: float64(dfResid)}.Survival(r.F)
		r.NP2 = ss / (ss + rssFull)
		return r
	}

	return []ANOVARow{
		row(SourceOS, rssCh-rssAdd, dfOS),
		row(SourceChannel, rssOS-rssAdd, dfCh),
		row(SourceInteraction, rssAdd-rssFull, dfInt),
		{Source: SourceResidual, SS: rssFull, DF: dfResid, MS: msResid, F: math.NaN(), PValue: math.NaN(), NP2: math.NaN()},
	}, nil
}

func levels(obs []Observation, factor func(Observation) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range obs {
		if l := factor(o); !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func cellStats(obs []Observation, osLevels, chLevels []string) []cell {
	osIndex := indexOf(osLevels)
	chIndex := indexOf(chLevels)
	values := make(map[[2]int][]float64)
	for _, o := range obs {
		key := [2]int{osIndex[o.OS], chIndex[o.Channel]}
		values[key] = append(values[key], o.Value)
	}

	keys := make([][2]int, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	cells := make([]cell, 0, len(keys))
	for _, key := range keys {
		v := values[key]
		mean := stat.Mean(v, nil)
		ssw := 0.0
		for _, x := range v {
			ssw += (x - mean) * (x - mean)
		}
		cells = append(cells, cell{a: key[0], b: key[1], n: len(v), mean: mean, ssw: ssw})
	}
	return cells
}

func indexOf(levels []string) map[string]int {
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	return index
}

// rssMarginal is the residual sum of squares of the one-factor model. The
// predictions are constant within a cell, so RSS = sum(ssw) + sum(n*(mean-fit)^2).
func rssMarginal(cells []cell, nLevels int, level func(cell) int) float64 {
	sum := make([]float64, nLevels)
	count := make([]float64, nLevels)
	for _, c := range cells {
		sum[level(c)] += float64(c.n) * c.mean
		count[level(c)] += float64(c.n)
	}
	rss := 0.0
	for _, c := range cells {
		fit := sum[level(c)] / count[level(c)]
		rss += c.ssw + float64(c.n)*(c.mean-fit)*(c.mean-fit)
	}
	return rss
}

// rssAdditive fits latency ~ os + channel by weighted least squares on the cell
// means, using treatment coding with the first level of each factor as baseline.
func rssAdditive(cells []cell, nOS, nCh int) (float64, error) {
	p := 1 + (nOS - 1) + (nCh - 1)
	design := func(c cell) []float64 {
		x := make([]float64, p)
		x[0] = 1
		if c.a > 0 {
			x[c.a] = 1
		}
		if c.b > 0 {
			x[nOS-1+c.b] = 1
		}
		return x
	}

	xtx := mat.NewSymDense(p, nil)
	xty := mat.NewVecDense(p, nil)
	for _, c := range cells {
		x := design(c)
		w := float64(c.n)
		for i := 0; i < p; i++ {
			if x[i] == 0 {
				continue
			}
			xty.SetVec(i, xty.AtVec(i)+w*c.mean)
			for j := i; j < p; j++ {
				if x[j] != 0 {
					xtx.SetSym(i, j, xtx.At(i, j)+w)
				}
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(xtx); !ok {
		return 0, errSingularDesign
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, xty); err != nil {
		return 0, fmt.Errorf("solving additive model: %w", err)
	}

	rss := 0.0
	for _, c := range cells {
		fit := mat.Dot(mat.NewVecDense(p, design(c)), &beta)
		rss += c.ssw + float64(c.n)*(c.mean-fit)*(c.mean-fit)
	}
	return rss, nil
}
