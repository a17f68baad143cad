package aggregate

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"comtrust/latency/internal/measurement"
)

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	tests := []struct {
		p      float64
		expect float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{100, 4},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); math.Abs(got-tt.expect) > 1e-12 {
			t.Fatalf("percentile %v: expected %v but got %v", tt.p, tt.expect, got)
		}
	}
	if diff := cmp.Diff([]float64{4, 1, 3, 2}, values); diff != "" {
		t.Fatal("input modified", diff)
	}
	if !math.IsNaN(Percentile(nil, 50)) {
		t.Fatal("expected NaN for an empty input")
	}
	if got := Percentile([]float64{7}, 25); got != 7 {
		t.Fatal("expected 7 but got", got)
	}
}

func samplesOf(device, osCode string, latencies ...float64) []measurement.Sample {
	var out []measurement.Sample
	for i, v := range latencies {
		out = append(out, measurement.Sample{
			Meas: measurement.MeasID(osCode, device), OS: osCode, Device: device, I: i, LatencyMS: v,
		})
	}
	return out
}

func TestSummarize(t *testing.T) {
	samples := samplesOf("kbd", "win", 5)
	samples = append(samples, samplesOf("leo", "win", 1, 2, 3, 4)...)

	got, err := Summarize(samples)
	if err != nil {
		t.Fatal(err)
	}
	// Arduino Leonardo sorts before Teensy 3.2 Keyboard
	expect := []Summary{
		{Device: "leo", OS: "win", N: 4, Mean: 2.5, Std: math.Sqrt(5.0 / 3.0), Median: 2.5, IQR: 1.5},
		{Device: "kbd", OS: "win", N: 1, Mean: 5, Std: math.NaN(), Median: 5, IQR: 0},
	}
	if diff := cmp.Diff(expect, got, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatal(diff)
	}
}

func TestSummarizeEmptyGroup(t *testing.T) {
	samples := samplesOf("leo", "win", 1, 2)
	got, err := Summarize(samples, measurement.GroupKey{Device: "leo", OS: "lin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatal("expected 2 groups but got", len(got))
	}
	empty := got[0]
	if empty.OS != "lin" || empty.N != 0 || !math.IsNaN(empty.Mean) || !math.IsNaN(empty.IQR) {
		t.Fatalf("unexpected empty group %+v", empty)
	}
}

func TestSummarizeSortsByLabel(t *testing.T) {
	var samples []measurement.Sample
	for _, device := range []string{"ljr", "par", "kbd", "tlc", "leo"} {
		for _, osCode := range []string{"win", "lin"} {
			samples = append(samples, samplesOf(device, osCode, 1, 2)...)
		}
	}
	got, err := Summarize(samples)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, s := range got {
		order = append(order, s.Device+"/"+s.OS)
	}
	expect := []string{
		"leo/lin", "leo/win",
		"ljr/lin", "ljr/win",
		"par/lin", "par/win",
		"kbd/lin", "kbd/win",
		"tlc/lin", "tlc/win",
	}
	if diff := cmp.Diff(expect, order); diff != "" {
		t.Fatal(diff)
	}
}

func TestSummarizeIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var samples []measurement.Sample
	for _, device := range []string{"leo", "uno", "par"} {
		for _, osCode := range []string{"win", "lin"} {
			var latencies []float64
			for i := 0; i < 200; i++ {
				latencies = append(latencies, rng.ExpFloat64())
			}
			samples = append(samples, samplesOf(device, osCode, latencies...)...)
		}
	}
	first, err := Summarize(samples)
	if err != nil {
		t.Fatal(err)
	}
	rng.Shuffle(len(samples), func(a, b int) { samples[a], samples[b] = samples[b], samples[a] })
	second, err := Summarize(samples)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatal(diff)
	}
}

func rowsOf(osCode, device string, n int) []measurement.Row {
	var rows []measurement.Row
	for i := 0; i < n; i++ {
		rows = append(rows, measurement.Row{OS: osCode, Channel: device, Meas: measurement.MeasID(osCode, device), Idx: i})
	}
	return rows
}

func TestExclusionTable(t *testing.T) {
	before := &measurement.Table{}
	before.Rows = append(before.Rows, rowsOf("win", "leo", 5)...)
	before.Rows = append(before.Rows, rowsOf("lin", "leo", 3)...)
	after := &measurement.Table{Rows: rowsOf("win", "leo", 4)}

	expect := []Exclusion{
		{OS: "lin", Device: "leo", Before: 3, After: 0, Excluded: 3},
		{OS: "win", Device: "leo", Before: 5, After: 4, Excluded: 1},
	}
	if diff := cmp.Diff(expect, ExclusionTable(before, after)); diff != "" {
		t.Fatal(diff)
	}
}

func TestDeviceYield(t *testing.T) {
	table := &measurement.Table{}
	table.Rows = append(table.Rows, rowsOf("win", "kbd", 100)...)
	table.Rows = append(table.Rows, rowsOf("win", "leo", 5)...)
	table.Rows = append(table.Rows, rowsOf("lin", "leo", 3)...)
	table.Rows = append(table.Rows, rowsOf("lin", "par", 9)...)

	got, err := DeviceYield(table)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Yield{Min: 3, Max: 9}, got); diff != "" {
		t.Fatal(diff)
	}

	_, err = DeviceYield(&measurement.Table{Rows: rowsOf("win", "kbd", 2)})
	if !errors.Is(err, ErrNoDeviceRows) {
		t.Fatal("expected ErrNoDeviceRows but got", err)
	}
}

func TestGroups(t *testing.T) {
	table := &measurement.Table{}
	table.Rows = append(table.Rows, rowsOf("win", "leo", 1)...)
	table.Rows = append(table.Rows, rowsOf("lin", "kbd", 1)...)
	expect := []measurement.GroupKey{{Device: "kbd", OS: "lin"}, {Device: "leo", OS: "win"}}
	if diff := cmp.Diff(expect, Groups(table)); diff != "" {
		t.Fatal(diff)
	}
}
