// Package measurement holds the row types shared by every pipeline stage.
package measurement

import (
	"fmt"
	"sort"
)

// ReferenceChannel is the logical channel of the keyboard reference row of a trial.
const ReferenceChannel = "kbd"

// Column names of the raw measurement files that every stage relies on.
const (
	ColTime       = "time_s"
	ColLatency    = "latency_ms"
	ColNetworkUnc = "network_unc_ms"
	ColChannel    = "channel"
	ColEvent      = "event"
)

// RequiredColumns must be present in every measurement file.
var RequiredColumns = []string{ColTime, ColLatency, ColNetworkUnc, ColChannel}

// Row is one sensor reading as produced by the loader.
type Row struct {
	TimeS        float64
	LatencyMS    float64
	NetworkUncMS float64
	// Channel is either ReferenceChannel or the device code of the file.
	Channel string
	OS      string
	Meas    string
	// Idx is shared by the reference and device row of the same trial.
	Idx int
	// Extra carries the optional columns every loaded file had in common.
	Extra map[string]string
}

// IsReference reports whether the row belongs to the keyboard reference channel.
func (r Row) IsReference() bool {
	return r.Channel == ReferenceChannel
}

// Table is the unified, concatenated view over all loaded files.
type Table struct {
	// Columns lists the optional columns kept in Row.Extra, in file order.
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Columns: t.Columns, Rows: make([]Row, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Sample is a cleaned row: one channel of one surviving trial.
type Sample struct {
	Meas string
	OS   string
	// Device is the channel of the sample, ReferenceChannel included.
	Device    string
	I         int
	LatencyMS float64
}

// IsReference reports whether the sample belongs to the keyboard reference channel.
func (s Sample) IsReference() bool {
	return s.Device == ReferenceChannel
}

// MeasID builds the measurement group identifier of an (os, device) session.
func MeasID(os, device string) string {
	return fmt.Sprintf("%s-%s", os, device)
}

// GroupKey identifies one (device, os) combination.
type GroupKey struct {
	Device string
	OS     string
}

// SortSamples orders samples by (os, device, i) and breaks ties by meas.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(a, b int) bool {
		sa, sb := samples[a], samples[b]
		if sa.OS != sb.OS {
			return sa.OS < sb.OS
		}
		if sa.Device != sb.Device {
			return sa.Device < sb.Device
		}
		if sa.I != sb.I {
			return sa.I < sb.I
		}
		return sa.Meas < sb.Meas
	})
}

// GroupLatencies collects latencies per (device, os) in sample order.
func GroupLatencies(samples []Sample) map[GroupKey][]float64 {
	groups := make(map[GroupKey][]float64)
	for _, s := range samples {
		key := GroupKey{Device: s.Device, OS: s.OS}
		groups[key] = append(groups[key], s.LatencyMS)
	}
	return groups
}
