package measurement

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSortSamples(t *testing.T) {
	samples := []Sample{
		{Meas: "win-leo", OS: "win", Device: "leo", I: 1, LatencyMS: 4},
		{Meas: "lin-leo", OS: "lin", Device: "leo", I: 0, LatencyMS: 1},
		{Meas: "win-leo", OS: "win", Device: "kbd", I: 0, LatencyMS: 2},
		{Meas: "win-leo", OS: "win", Device: "leo", I: 0, LatencyMS: 3},
	}
	SortSamples(samples)
	var got []float64
	for _, s := range samples {
		got = append(got, s.LatencyMS)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestGroupLatencies(t *testing.T) {
	samples := []Sample{
		{OS: "win", Device: "leo", LatencyMS: 1},
		{OS: "win", Device: "kbd", LatencyMS: 2},
		{OS: "win", Device: "leo", LatencyMS: 3},
	}
	expect := map[GroupKey][]float64{
		{Device: "leo", OS: "win"}: {1, 3},
		{Device: "kbd", OS: "win"}: {2},
	}
	if diff := cmp.Diff(expect, GroupLatencies(samples)); diff != "" {
		t.Fatal(diff)
	}
}

func TestTableFilter(t *testing.T) {
	table := &Table{Columns: []string{"x"}, Rows: []Row{{Idx: 0}, {Idx: 1}, {Idx: 2}}}
	out := table.Filter(func(r Row) bool { return r.Idx != 1 })
	if out.Len() != 2 {
		t.Fatal("expected 2 but got", out.Len())
	}
	if table.Len() != 3 {
		t.Fatal("filter must not modify the input table")
	}
	if diff := cmp.Diff([]string{"x"}, out.Columns); diff != "" {
		t.Fatal(diff)
	}
}

func TestMeasID(t *testing.T) {
	if got := MeasID("lin", "t32"); got != "lin-t32" {
		t.Fatal("unexpected meas id", got)
	}
}
