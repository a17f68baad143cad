// Package cleaner removes implausible rows and incomplete trials from the loaded
// table and renumbers the surviving trials of every measurement group.
package cleaner

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"comtrust/latency/internal/config"
	"comtrust/latency/internal/measurement"
)

// IntegrityError reports a trial that still has more than two rows after the
// filters. It points to a labeling bug upstream and is never dropped silently.
type IntegrityError struct {
	Meas     string
	Idx      int
	Channels []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("[cleaner] trial %s/%d resolves to channels %v, want at most one reference and one device row", e.Meas, e.Idx, e.Channels)
}

type Cleaner struct {
	criteria config.Criteria
	logger   *zap.Logger
}

func NewCleaner(criteria config.Criteria, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		criteria: criteria,
		logger:   logger,
	}
}

type trialKey struct {
	meas string
	idx  int
}

// FilterUncertainty keeps the rows whose network uncertainty does not exceed the
// maximum. Rows without an uncertainty estimate are dropped.
func (c *Cleaner) FilterUncertainty(table *measurement.Table) *measurement.Table {
	return table.Filter(func(row measurement.Row) bool {
		return row.NetworkUncMS <= c.criteria.MaxUncertainty && !math.IsNaN(row.LatencyMS)
	})
}

// filterLatency drops device rows that are faster than physically possible.
// Reference rows are always kept.
func (c *Cleaner) filterLatency(table *measurement.Table) *measurement.Table {
	return table.Filter(func(row measurement.Row) bool {
		return row.IsReference() || row.LatencyMS >= c.criteria.MinLatency
	})
}

// filterPairs keeps the trials that still have their reference and device row.
func (c *Cleaner) filterPairs(table *measurement.Table) (*measurement.Table, error) {
	channels := make(map[trialKey][]string)
	var order []trialKey
	for _, row := range table.Rows {
		key := trialKey{meas: row.Meas, idx: row.Idx}
		if _, ok := channels[key]; !ok {
			order = append(order, key)
		}
		channels[key] = append(channels[key], row.Channel)
	}

	complete := make(map[trialKey]bool, len(channels))
	sameRole := 0
	for _, key := range order {
		chs := channels[key]
		switch {
		case len(chs) > 2:
			return nil, &IntegrityError{Meas: key.meas, Idx: key.idx, Channels: chs}
		case len(chs) == 2:
			// two reference or two device rows leave the trial without its partner
			if (chs[0] == measurement.ReferenceChannel) == (chs[1] == measurement.ReferenceChannel) {
				sameRole++
				continue
			}
			complete[key] = true
		}
	}
	if sameRole > 0 {
		c.logger.Warn("[cleaner] dropped trials left with two rows of the same role",
			zap.Int("trials", sameRole),
		)
	}

	return table.Filter(func(row measurement.Row) bool {
		return complete[trialKey{meas: row.Meas, idx: row.Idx}]
	}), nil
}

// renumber maps the distinct idx values of every measurement group to a
// contiguous 0-based index in ascending idx order.
func renumber(table *measurement.Table) map[trialKey]int {
	idxByMeas := make(map[string][]int)
	seen := make(map[trialKey]bool)
	for _, row := range table.Rows {
		key := trialKey{meas: row.Meas, idx: row.Idx}
		if seen[key] {
			continue
		}
		seen[key] = true
		idxByMeas[row.Meas] = append(idxByMeas[row.Meas], row.Idx)
	}

	index := make(map[trialKey]int, len(seen))
	for meas, idxs := range idxByMeas {
		sort.Ints(idxs)
		for i, idx := range idxs {
			index[trialKey{meas: meas, idx: idx}] = i
		}
	}
	return index
}

// Clean applies the exclusion criteria in order and returns the surviving
// samples sorted by (os, device, i). The same input and criteria always yield
// the same samples.
func (c *Cleaner) Clean(table *measurement.Table) ([]measurement.Sample, error) {
	if err := c.criteria.Validate(); err != nil {
		return nil, fmt.Errorf("[cleaner] %w", err)
	}

	certain := c.FilterUncertainty(table)
	plausible := c.filterLatency(certain)
	paired, err := c.filterPairs(plausible)
	if err != nil {
		return nil, err
	}

	index := renumber(paired)
	samples := make([]measurement.Sample, 0, paired.Len())
	trials := make(map[string]int)
	for _, row := range paired.Rows {
		i := index[trialKey{meas: row.Meas, idx: row.Idx}]
		if i >= c.criteria.NFirstMeasurements {
			continue
		}
		samples = append(samples, measurement.Sample{
			Meas:      row.Meas,
			OS:        row.OS,
			Device:    row.Channel,
			I:         i,
			LatencyMS: row.LatencyMS,
		})
		if row.IsReference() {
			trials[row.Meas]++
		}
	}
	measurement.SortSamples(samples)

	c.logger.Info("[cleaner] applied exclusion criteria",
		zap.Int("rowsIn", table.Len()),
		zap.Int("afterUncertainty", certain.Len()),
		zap.Int("afterMinLatency", plausible.Len()),
		zap.Int("afterPairing", paired.Len()),
		zap.Int("rowsOut", len(samples)),
	)
	measIDs := make([]string, 0, len(trials))
	for meas := range trials {
		measIDs = append(measIDs, meas)
	}
	sort.Strings(measIDs)
	for _, meas := range measIDs {
		if n := trials[meas]; n < c.criteria.NFirstMeasurements {
			c.logger.Info("[cleaner] measurement group has fewer valid trials than requested",
				zap.String("meas", meas),
				zap.Int("trials", n),
				zap.Int("requested", c.criteria.NFirstMeasurements),
			)
		}
	}
	return samples, nil
}
