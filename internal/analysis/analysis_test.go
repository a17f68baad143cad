package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"comtrust/latency/internal/aggregate"
	"comtrust/latency/internal/config"
	"comtrust/latency/internal/fixture"
	"comtrust/latency/internal/measurement"
	"comtrust/latency/internal/report"
	"comtrust/latency/internal/store"
)

var deviceBase = map[string]float64{"leo": 1.0, "par": 0.3}
var osOffset = map[string]float64{"win": 0.2, "lin": 0}

func session(rng *rand.Rand, osCode, device string, n int) []fixture.Trial {
	trials := fixture.Trials(n)
	for i := range trials {
		trials[i].DeviceLatency = deviceBase[device] + osOffset[osCode] + rng.Float64()*0.05
		trials[i].KbdLatency = 2 + rng.Float64()*0.1
	}
	return trials
}

func studyConfig(t *testing.T) config.Analysis {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(7))
	cfg := config.DefaultAnalysis()
	cfg.Files = nil
	for _, osCode := range []string{"win", "lin"} {
		for _, device := range []string{"leo", "par"} {
			trials := session(rng, osCode, device, 20)
			if device == "leo" {
				trials[3].DeviceUnc = 0.02
			}
			cfg.Files = append(cfg.Files, fixture.WriteFile(t, dir, osCode, device, trials))
		}
	}
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.FigureFormats = []string{"png", "svg"}
	return cfg
}

func TestRunWritesAllOutputs(t *testing.T) {
	cfg := studyConfig(t)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "latency.db")
	var stdout bytes.Buffer

	res, err := NewPipeline(cfg, zap.NewNop()).WithStdout(&stdout).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		report.SummaryFile,
		report.ExclusionCriteriaFile,
		report.ExclusionCountsFile,
		report.ANOVAFile,
		report.PairwiseFile,
		report.OSDiffFile,
		report.FigureBaseName + ".png",
		report.FigureBaseName + ".svg",
	} {
		info, err := os.Stat(filepath.Join(cfg.OutDir, name))
		if err != nil {
			t.Errorf("missing output: %v", err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}

	if diff := cmp.Diff([]string{"par", "leo"}, res.Order); diff != "" {
		t.Errorf("device order mismatch (-want +got):\n%s", diff)
	}
	// 2 devices and the reference channel, on 2 operating systems.
	if got := len(res.Summaries); got != 6 {
		t.Errorf("got %d summary rows, want 6", got)
	}
	if !strings.Contains(stdout.String(), "Arduino Leonardo") {
		t.Errorf("summary not printed:\n%s", stdout.String())
	}
	if got := len(res.Samples); got != 2*(20+20+19+19) {
		t.Errorf("got %d samples, want %d", got, 2*(20+20+19+19))
	}
	if res.Yield != (aggregate.Yield{Min: 20, Max: 20}) {
		t.Errorf("yield = %+v", res.Yield)
	}

	// win is 0.2 ms slower by construction and both systems lost the same trial.
	if res.OSDiff.Test == nil {
		t.Fatalf("paired test skipped: %s", res.OSDiff.Note)
	}
	if math.Abs(res.OSDiff.DiffMS-0.2) > 0.05 {
		t.Errorf("DiffMS = %v, want about 0.2", res.OSDiff.DiffMS)
	}
	if res.OSDiff.Test.T <= 0 {
		t.Errorf("T = %v, want positive", res.OSDiff.Test.T)
	}

	f, err := os.Open(filepath.Join(cfg.OutDir, report.SummaryFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 7 {
		t.Errorf("summary has %d records, want header and 6 rows", len(records))
	}

	db, err := store.Open(cfg.SQLitePath, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stored, err := db.Samples(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != len(res.Samples) {
		t.Errorf("stored %d samples, want %d", len(stored), len(res.Samples))
	}
}

func TestRunIsReproducible(t *testing.T) {
	cfg := studyConfig(t)
	p := NewPipeline(cfg, zap.NewNop())
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := readOutputs(t, cfg.OutDir)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, readOutputs(t, cfg.OutDir)); diff != "" {
		t.Errorf("outputs changed between runs (-first +second):\n%s", diff)
	}
}

func readOutputs(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, name := range []string{report.SummaryFile, report.ExclusionCountsFile, report.ANOVAFile, report.PairwiseFile, report.OSDiffFile} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		out[name] = string(b)
	}
	return out
}

func TestRunSingleOSSkipsTests(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	cfg := config.DefaultAnalysis()
	cfg.Files = []string{
		fixture.WriteFile(t, dir, "lin", "leo", session(rng, "lin", "leo", 10)),
		fixture.WriteFile(t, dir, "lin", "par", session(rng, "lin", "par", 10)),
	}
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.FigureFormats = []string{"svg"}

	res, err := NewPipeline(cfg, zap.NewNop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ANOVA != nil || res.Pairwise != nil {
		t.Errorf("tests ran on a single OS: %v %v", res.ANOVA, res.Pairwise)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, report.ANOVAFile)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("anova file written for a single OS: %v", err)
	}
	if res.OSDiff.Test != nil {
		t.Error("paired OS test ran without a win session")
	}
}

func TestRunStopsOnLoadError(t *testing.T) {
	cfg := studyConfig(t)
	cfg.Files = append(cfg.Files, filepath.Join(t.TempDir(), "NLS-win-uno.txt.gz"))
	if _, err := NewPipeline(cfg, zap.NewNop()).Run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want a missing file error", err)
	}
	if _, err := os.Stat(cfg.OutDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output directory created after a load error: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := studyConfig(t)
	cfg.Criteria.NFirstMeasurements = 0
	if _, err := NewPipeline(cfg, zap.NewNop()).Run(context.Background()); err == nil {
		t.Error("expected a configuration error")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	cfg := studyConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPipeline(cfg, zap.NewNop()).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestDeviceOrder(t *testing.T) {
	summaries := []aggregate.Summary{
		{Device: "kbd", OS: "lin", Mean: 0.01},
		{Device: "leo", OS: "lin", Mean: 1.2},
		{Device: "leo", OS: "win", Mean: 0.9},
		{Device: "par", OS: "lin", Mean: 0.95},
		{Device: "uno", OS: "win", Mean: math.NaN()},
		{Device: "t32", OS: "win", Mean: 0.9},
	}
	if diff := cmp.Diff([]string{"leo", "t32", "par"}, DeviceOrder(summaries)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOSDifferenceNeedsMatchingTrials(t *testing.T) {
	samples := []measurement.Sample{
		{OS: "win", Device: "leo", I: 0, LatencyMS: 2},
		{OS: "win", Device: "leo", I: 1, LatencyMS: 4},
		{OS: "lin", Device: "leo", I: 0, LatencyMS: 1},
		{OS: "lin", Device: "leo", I: 2, LatencyMS: 1},
	}
	diff := OSDifference(samples, "win", "lin")
	if diff.DiffMS != 2 {
		t.Errorf("DiffMS = %v, want 2", diff.DiffMS)
	}
	if diff.Test != nil || !strings.Contains(diff.Note, "no Linux counterpart") {
		t.Errorf("got test %v note %q", diff.Test, diff.Note)
	}
	if diff.First != "Windows" || diff.Second != "Linux" {
		t.Errorf("labels %q %q", diff.First, diff.Second)
	}
}
