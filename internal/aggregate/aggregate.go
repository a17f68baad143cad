// Package aggregate computes the descriptive statistics and row counts of the
// cleaned latency samples.
package aggregate

import (
	"errors"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"comtrust/latency/internal/config"
	"comtrust/latency/internal/measurement"
)

// Summary holds the descriptive statistics of one (device, os) group.
type Summary struct {
	Device string
	OS     string
	N      int
	Mean   float64
	Std    float64
	Median float64
	IQR    float64
}

// Summarize computes mean, sample standard deviation, median, and IQR of the
// latency per (device, os). The result is sorted by device label then OS label,
// the row order of the summary table, and does not depend on the order of samples. Groups listed in expected that have no samples
// are reported with N = 0 and NaN statistics.
func Summarize(samples []measurement.Sample, expected ...measurement.GroupKey) ([]Summary, error) {
	groups := measurement.GroupLatencies(samples)
	for _, key := range expected {
		if _, ok := groups[key]; !ok {
			groups[key] = nil
		}
	}

	keys := make([]measurement.GroupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sortByLabel(keys)

	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		summary, err := describe(key, groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func describe(key measurement.GroupKey, latencies []float64) (Summary, error) {
	summary := Summary{
		Device: key.Device,
		OS:     key.OS,
		N:      len(latencies),
		Mean:   math.NaN(),
		Std:    math.NaN(),
		Median: math.NaN(),
		IQR:    math.NaN(),
	}
	if len(latencies) == 0 {
		return summary, nil
	}

	// sorting first makes the floating point sums independent of sample order
	data := stats.Float64Data(append([]float64(nil), latencies...))
	sort.Float64s(data)

	var err error
	if summary.Mean, err = stats.Mean(data); err != nil {
		return summary, err
	}
	if summary.Median, err = stats.Median(data); err != nil {
		return summary, err
	}
	if len(data) > 1 {
		if summary.Std, err = stats.StandardDeviationSample(data); err != nil {
			return summary, err
		}
	}
	summary.IQR = IQR(data)
	return summary, nil
}

func sortKeys(keys []measurement.GroupKey) {
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].Device != keys[b].Device {
			return keys[a].Device < keys[b].Device
		}
		return keys[a].OS < keys[b].OS
	})
}

func sortByLabel(keys []measurement.GroupKey) {
	sort.Slice(keys, func(a, b int) bool {
		da, db := config.DeviceLabel(keys[a].Device), config.DeviceLabel(keys[b].Device)
		if da != db {
			return da < db
		}
		oa, ob := config.OSLabel(keys[a].OS), config.OSLabel(keys[b].OS)
		if oa != ob {
			return oa < ob
		}
		if keys[a].Device != keys[b].Device {
			return keys[a].Device < keys[b].Device
		}
		return keys[a].OS < keys[b].OS
	})
}

// CrossTab counts rows per (device, os).
func CrossTab(table *measurement.Table) map[measurement.GroupKey]int {
	counts := make(map[measurement.GroupKey]int)
	for _, row := range table.Rows {
		counts[measurement.GroupKey{Device: row.Channel, OS: row.OS}]++
	}
	return counts
}

// Exclusion compares the row count of a group before and after a filter.
type Exclusion struct {
	OS       string
	Device   string
	Before   int
	After    int
	Excluded int
}

// ExclusionTable cross-tabulates the row counts of two tables per (os, device),
// sorted by OS then device.
func ExclusionTable(before, after *measurement.Table) []Exclusion {
	countsBefore := CrossTab(before)
	countsAfter := CrossTab(after)

	keys := make([]measurement.GroupKey, 0, len(countsBefore))
	for key := range countsBefore {
		keys = append(keys, key)
	}
	for key := range countsAfter {
		if _, ok := countsBefore[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].OS != keys[b].OS {
			return keys[a].OS < keys[b].OS
		}
		return keys[a].Device < keys[b].Device
	})

	out := make([]Exclusion, 0, len(keys))
	for _, key := range keys {
		out = append(out, Exclusion{
			OS:       key.OS,
			Device:   key.Device,
			Before:   countsBefore[key],
			After:    countsAfter[key],
			Excluded: countsBefore[key] - countsAfter[key],
		})
	}
	return out
}

// Yield is the smallest and largest number of device rows recorded for any
// (device, os) group, the reference channel excluded.
type Yield struct {
	Min int
	Max int
}

// ErrNoDeviceRows is returned by DeviceYield when only reference rows exist.
var ErrNoDeviceRows = errors.New("no device rows")

// DeviceYield computes the yield of the raw table.
func DeviceYield(table *measurement.Table) (Yield, error) {
	var yield Yield
	first := true
	for key, n := range CrossTab(table) {
		if key.Device == measurement.ReferenceChannel {
			continue
		}
		if first || n < yield.Min {
			yield.Min = n
		}
		if first || n > yield.Max {
			yield.Max = n
		}
		first = false
	}
	if first {
		return yield, ErrNoDeviceRows
	}
	return yield, nil
}

// Groups lists the (device, os) combinations of a raw table.
func Groups(table *measurement.Table) []measurement.GroupKey {
	counts := CrossTab(table)
	keys := make([]measurement.GroupKey, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}
