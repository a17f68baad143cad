// Package report persists the analysis results: delimited tables, text
// records, and the distribution figure.
package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"comtrust/latency/internal/aggregate"
	"comtrust/latency/internal/config"
	"comtrust/latency/internal/inference"
)

// Output file names.
const (
	SummaryFile           = "summary_table.csv"
	ExclusionCriteriaFile = "exclusion_criteria.txt"
	ExclusionCountsFile   = "counts_before_after_uncertainty.csv"
	ANOVAFile             = "anova_results.csv"
	PairwiseFile          = "anova_pairwise_ttests_results.csv"
	OSDiffFile            = "os_diff_results.txt"
	FigureBaseName        = "figure2_raincloud"
)

type Reporter struct {
	outDir string
	logger *zap.Logger
}

// NewReporter creates outDir when it does not exist.
func NewReporter(outDir string, logger *zap.Logger) (*Reporter, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("[report] creating output directory: %w", err)
	}
	return &Reporter{
		outDir: outDir,
		logger: logger,
	}, nil
}

// Path returns the location of an output file.
func (r *Reporter) Path(name string) string {
	return filepath.Join(r.outDir, name)
}

// write opens name in the output directory, truncating it, and hands a buffered
// writer to fill.
func (r *Reporter) write(name string, fill func(w io.Writer) error) error {
	path := r.Path(name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("[report] opening %s: %w", path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := fill(writer); err != nil {
		return fmt.Errorf("[report] writing %s: %w", path, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("[report] flushing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("[report] closing %s: %w", path, err)
	}
	r.logger.Info("[report] wrote output", zap.String("file", path))
	return nil
}

func (r *Reporter) writeCSV(name string, header []string, records [][]string) error {
	return r.write(name, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(records); err != nil {
			return err
		}
		return cw.Error()
	})
}

// round formats v with the given number of decimals; NaN is written empty.
func round(v float64, decimals int) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// number formats a test statistic.
func number(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// pValue formats a p-value; p-values that underflow to zero are below any
// reportable precision.
func pValue(p float64) string {
	if p == 0 {
		return "<0.0001"
	}
	return number(p)
}

// WriteExclusionCriteria records the thresholds used for cleaning.
func (r *Reporter) WriteExclusionCriteria(criteria config.Criteria) error {
	return r.write(ExclusionCriteriaFile, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "MAX_UNCERTAINTY: %v\nMIN_LATENCY: %v\nN_FIRST_MEASUREMENTS: %d\n",
			criteria.MaxUncertainty, criteria.MinLatency, criteria.NFirstMeasurements)
		return err
	})
}

// WriteExclusionCounts writes the row counts before and after the uncertainty filter.
func (r *Reporter) WriteExclusionCounts(rows []aggregate.Exclusion) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{
			config.OSLabel(row.OS),
			config.DeviceLabel(row.Device),
			strconv.Itoa(row.Before),
			strconv.Itoa(row.After),
			strconv.Itoa(row.Excluded),
		})
	}
	return r.writeCSV(ExclusionCountsFile, []string{"os", "device", "before", "after", "excluded"}, records)
}

// WriteSummary writes one row per (device, os), values rounded to 3 decimals.
func (r *Reporter) WriteSummary(summaries []aggregate.Summary) error {
	records := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		records = append(records, []string{
			config.DeviceLabel(s.Device),
			config.OSLabel(s.OS),
			round(s.Mean, 3),
			round(s.Std, 3),
			round(s.Median, 3),
			round(s.IQR, 3),
		})
	}
	header := []string{"channel", "os", "latency-ms-mean", "latency-ms-std", "latency-ms-median", "latency-ms-iqr"}
	return r.writeCSV(SummaryFile, header, records)
}

// WriteANOVA writes the omnibus test table.
func (r *Reporter) WriteANOVA(rows []inference.ANOVARow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		p := ""
		if !math.IsNaN(row.PValue) {
			p = pValue(row.PValue)
		}
		records = append(records, []string{
			row.Source,
			number(row.SS),
			strconv.Itoa(row.DF),
			number(row.MS),
			number(row.F),
			p,
			number(row.NP2),
		})
	}
	return r.writeCSV(ANOVAFile, []string{"Source", "SS", "DF", "MS", "F", "p-unc", "np2"}, records)
}

// WritePairwise writes the pairwise comparison table.
func (r *Reporter) WritePairwise(comparisons []inference.Comparison) error {
	records := make([][]string, 0, len(comparisons))
	for _, c := range comparisons {
		channel := c.Channel
		if channel == "" {
			channel = "-"
		}
		records = append(records, []string{
			c.Contrast,
			channel,
			c.A,
			c.B,
			"False",
			"True",
			number(c.T),
			number(c.DOF),
			c.Tail,
			pValue(c.PValue),
			pValue(c.PCorr),
			c.PAdjust,
			number(c.Hedges),
		})
	}
	header := []string{"Contrast", "channel", "A", "B", "Paired", "Parametric", "T", "dof", "Tail", "p-unc", "p-corr", "p-adjust", "hedges"}
	return r.writeCSV(PairwiseFile, header, records)
}

// OSDifference is the mean latency difference between two operating systems
// and, when the samples pair up, the paired t-test between them.
type OSDifference struct {
	First  string
	Second string
	DiffMS float64
	// Test is nil when the paired test could not be run.
	Test *inference.TTest
	Note string
}

// WriteOSDifference writes the OS difference record.
func (r *Reporter) WriteOSDifference(diff OSDifference) error {
	return r.write(OSDiffFile, func(w io.Writer) error {
		fmt.Fprintf(w, "Difference between operating systems: %.3fms\n", diff.DiffMS)
		fmt.Fprintf(w, "(%s minus %s)\n", diff.First, diff.Second)
		if diff.Test == nil {
			_, err := fmt.Fprintf(w, "paired t-test skipped: %s\n", diff.Note)
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tT\tdof\ttail\tp-val\tCI95%\tcohen-d")
		fmt.Fprintf(tw, "T-test\t%s\t%s\t%s\t%s\t[%s, %s]\t%s\n",
			number(diff.Test.T), number(diff.Test.DOF), diff.Test.Tail, pValue(diff.Test.PValue),
			round(diff.Test.CILow, 3), round(diff.Test.CIHigh, 3), number(diff.Test.CohenD))
		return tw.Flush()
	})
}

// PrintSummary prints the summary sorted by OS then device with a combined
// mean ± std column.
func PrintSummary(w io.Writer, summaries []aggregate.Summary) error {
	sorted := append([]aggregate.Summary(nil), summaries...)
	sort.SliceStable(sorted, func(a, b int) bool {
		oa, ob := config.OSLabel(sorted[a].OS), config.OSLabel(sorted[b].OS)
		if oa != ob {
			return oa < ob
		}
		return config.DeviceLabel(sorted[a].Device) < config.DeviceLabel(sorted[b].Device)
	})

	header := color.New(color.Bold)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header.Fprintln(tw, strings.Join([]string{"Operating System", "Device", "Mean ± Std", "Median", "IQR", "N"}, "\t"))
	for _, s := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%s ± %s\t%s\t%s\t%d\n",
			config.OSLabel(s.OS), config.DeviceLabel(s.Device), round(s.Mean, 3), round(s.Std, 3),
			round(s.Median, 3), round(s.IQR, 3), s.N)
	}
	return tw.Flush()
}
