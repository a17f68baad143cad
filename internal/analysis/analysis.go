// Package analysis runs the latency analysis from the raw measurement files to
// the result files: Loader -> Cleaner -> Aggregator -> Reporter.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"go.uber.org/zap"

	"comtrust/latency/internal/aggregate"
	"comtrust/latency/internal/cleaner"
	"comtrust/latency/internal/config"
	"comtrust/latency/internal/inference"
	"comtrust/latency/internal/loader"
	"comtrust/latency/internal/measurement"
	"comtrust/latency/internal/report"
	"comtrust/latency/internal/store"
)

// Result holds everything one run produced.
type Result struct {
	Raw        *measurement.Table
	Yield      aggregate.Yield
	Exclusions []aggregate.Exclusion
	Samples    []measurement.Sample
	Summaries  []aggregate.Summary
	// Order lists the plotted and tested devices, fastest first.
	Order    []string
	ANOVA    []inference.ANOVARow
	Pairwise []inference.Comparison
	OSDiff   report.OSDifference
	Figures  []string
}

type Pipeline struct {
	cfg      config.Analysis
	logger   *zap.Logger
	stdout   io.Writer
	progress io.Writer
}

func NewPipeline(cfg config.Analysis, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		stdout: io.Discard,
	}
}

// WithStdout prints the summary table to w.
func (p *Pipeline) WithStdout(w io.Writer) *Pipeline {
	p.stdout = w
	return p
}

// WithProgress draws a progress bar while loading.
func (p *Pipeline) WithProgress(w io.Writer) *Pipeline {
	p.progress = w
	return p
}

// Run executes the whole analysis once. Rerunning it on the same files and
// configuration rewrites identical outputs.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	res := &Result{}

	ld := loader.NewLoader(p.cfg, p.logger)
	if p.progress != nil {
		ld.WithProgress(p.progress)
	}
	raw, err := ld.Load(p.cfg.Files)
	if err != nil {
		return nil, err
	}
	res.Raw = raw

	if res.Yield, err = aggregate.DeviceYield(raw); err != nil {
		p.logger.Warn("[analysis] no device rows recorded", zap.Error(err))
	} else {
		p.logger.Info("[analysis] device rows per group",
			zap.Int("min", res.Yield.Min),
			zap.Int("max", res.Yield.Max),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cl := cleaner.NewCleaner(p.cfg.Criteria, p.logger)
	res.Exclusions = aggregate.ExclusionTable(raw, cl.FilterUncertainty(raw))
	if res.Samples, err = cl.Clean(raw); err != nil {
		return nil, err
	}

	reporter, err := report.NewReporter(p.cfg.OutDir, p.logger)
	if err != nil {
		return nil, err
	}
	if err := reporter.WriteExclusionCriteria(p.cfg.Criteria); err != nil {
		return nil, err
	}
	if err := reporter.WriteExclusionCounts(res.Exclusions); err != nil {
		return nil, err
	}

	if res.Summaries, err = aggregate.Summarize(res.Samples, aggregate.Groups(raw)...); err != nil {
		return nil, fmt.Errorf("[aggregate] %w", err)
	}
	if err := reporter.WriteSummary(res.Summaries); err != nil {
		return nil, err
	}
	if err := report.PrintSummary(p.stdout, res.Summaries); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Order = DeviceOrder(res.Summaries)
	systems := operatingSystems(res.Samples)
	p.logger.Info("[analysis] plotting order", zap.Strings("devices", res.Order))

	groups := measurement.GroupLatencies(deviceSamples(res.Samples))
	opts := report.FigureOptionsFrom(p.cfg)
	if len(res.Order) > 0 && len(systems) > 0 {
		fig, err := report.Figure(groups, res.Order, systems, opts)
		if err != nil {
			return nil, err
		}
		if res.Figures, err = reporter.WriteFigure(fig, opts); err != nil {
			return nil, err
		}
	} else {
		p.logger.Warn("[analysis] no device samples survived cleaning, skipping the figure")
	}

	if err := p.runTests(res, reporter, systems); err != nil {
		return nil, err
	}

	if p.cfg.SQLitePath != "" {
		db, err := store.Open(p.cfg.SQLitePath, p.logger)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := db.Replace(ctx, res.Samples, res.Summaries); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runTests feeds the device samples, reference channel excluded, to the
// significance tests and writes their tables.
func (p *Pipeline) runTests(res *Result, reporter *report.Reporter, systems []string) error {
	devices := deviceSamples(res.Samples)
	obs := make([]inference.Observation, 0, len(devices))
	for _, s := range devices {
		obs = append(obs, inference.Observation{
			OS:      config.OSLabel(s.OS),
			Channel: config.DeviceLabel(s.Device),
			Value:   s.LatencyMS,
		})
	}

	var err error
	res.ANOVA, err = inference.TwoWayANOVA(obs)
	switch {
	case errors.Is(err, inference.ErrTooFewLevels):
		p.logger.Warn("[analysis] skipping the omnibus test", zap.Error(err))
	case err != nil:
		return fmt.Errorf("[inference] %w", err)
	default:
		if err := reporter.WriteANOVA(res.ANOVA); err != nil {
			return err
		}
	}

	osLevels := make([]string, len(systems))
	for i, code := range systems {
		osLevels[i] = config.OSLabel(code)
	}
	chLevels := make([]string, len(res.Order))
	for i, code := range res.Order {
		chLevels[i] = config.DeviceLabel(code)
	}
	res.Pairwise, err = inference.PairwiseTTests(obs, osLevels, chLevels)
	switch {
	case errors.Is(err, inference.ErrTooFewLevels):
		p.logger.Warn("[analysis] skipping the pairwise tests", zap.Error(err))
	case err != nil:
		return fmt.Errorf("[inference] %w", err)
	default:
		if err := reporter.WritePairwise(res.Pairwise); err != nil {
			return err
		}
	}

	res.OSDiff = OSDifference(devices, p.cfg.FirstOS, p.cfg.SecondOS)
	if res.OSDiff.Test == nil {
		p.logger.Warn("[analysis] paired OS comparison skipped", zap.String("reason", res.OSDiff.Note))
	}
	return reporter.WriteOSDifference(res.OSDiff)
}

// DeviceOrder sorts the devices by their lowest mean latency over all
// operating systems. The reference channel is left out.
func DeviceOrder(summaries []aggregate.Summary) []string {
	best := make(map[string]float64)
	for _, s := range summaries {
		if s.Device == measurement.ReferenceChannel || math.IsNaN(s.Mean) {
			continue
		}
		if v, ok := best[s.Device]; !ok || s.Mean < v {
			best[s.Device] = s.Mean
		}
	}
	order := make([]string, 0, len(best))
	for device := range best {
		order = append(order, device)
	}
	sort.Slice(order, func(a, b int) bool {
		if best[order[a]] != best[order[b]] {
			return best[order[a]] < best[order[b]]
		}
		return order[a] < order[b]
	})
	return order
}

// OSDifference computes mean(first) - mean(second) over the device samples
// and pairs the samples of both systems by (device, i) for a paired t-test.
func OSDifference(samples []measurement.Sample, first, second string) report.OSDifference {
	diff := report.OSDifference{
		First:  config.OSLabel(first),
		Second: config.OSLabel(second),
		DiffMS: math.NaN(),
	}

	type pairKey struct {
		device string
		i      int
	}
	a := make(map[pairKey]float64)
	b := make(map[pairKey]float64)
	var sumA, sumB float64
	for _, s := range samples {
		switch s.OS {
		case first:
			a[pairKey{s.Device, s.I}] = s.LatencyMS
			sumA += s.LatencyMS
		case second:
			b[pairKey{s.Device, s.I}] = s.LatencyMS
			sumB += s.LatencyMS
		}
	}
	if len(a) == 0 || len(b) == 0 {
		diff.Note = fmt.Sprintf("no samples for %s or %s", diff.First, diff.Second)
		return diff
	}
	diff.DiffMS = sumA/float64(len(a)) - sumB/float64(len(b))

	if len(a) != len(b) {
		diff.Note = fmt.Sprintf("%s has %d samples but %s has %d", diff.First, len(a), diff.Second, len(b))
		return diff
	}
	keys := make([]pairKey, 0, len(a))
	for key := range a {
		if _, ok := b[key]; !ok {
			diff.Note = fmt.Sprintf("%s trial %s/%d has no %s counterpart", diff.First, key.device, key.i, diff.Second)
			return diff
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(x, y int) bool {
		if keys[x].device != keys[y].device {
			return keys[x].device < keys[y].device
		}
		return keys[x].i < keys[y].i
	})

	xs := make([]float64, len(keys))
	ys := make([]float64, len(keys))
	for n, key := range keys {
		xs[n] = a[key]
		ys[n] = b[key]
	}
	test, err := inference.Paired(xs, ys)
	if err != nil {
		diff.Note = err.Error()
		return diff
	}
	diff.Test = &test
	return diff
}

func deviceSamples(samples []measurement.Sample) []measurement.Sample {
	out := make([]measurement.Sample, 0, len(samples)/2)
	for _, s := range samples {
		if !s.IsReference() {
			out = append(out, s)
		}
	}
	return out
}

func operatingSystems(samples []measurement.Sample) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range samples {
		if !seen[s.OS] {
			seen[s.OS] = true
			out = append(out, s.OS)
		}
	}
	sort.Strings(out)
	return out
}
