// Package loader reads the per-session latency files written by the LabStreamer
// and concatenates them into one table.
package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"comtrust/latency/internal/config"
	"comtrust/latency/internal/measurement"
)

type Loader struct {
	headerLines      int
	missingToken     string
	referenceChannel string
	deviceChannel    string
	logger           *zap.Logger
	progress         io.Writer
}

// fileTable is the content of one measurement file.
type fileTable struct {
	path    string
	columns []string
	rows    []measurement.Row
}

func NewLoader(cfg config.Analysis, logger *zap.Logger) *Loader {
	return &Loader{
		headerLines:      cfg.HeaderLines,
		missingToken:     cfg.MissingToken,
		referenceChannel: cfg.ReferenceChannel,
		deviceChannel:    cfg.DeviceChannel,
		logger:           logger,
	}
}

// WithProgress draws a progress bar over the file list on w.
func (l *Loader) WithProgress(w io.Writer) *Loader {
	l.progress = w
	return l
}

// Load reads every file in order and concatenates the results. All malformed
// files are reported together.
func (l *Loader) Load(paths []string) (*measurement.Table, error) {
	if len(paths) == 0 {
		return nil, errors.New("[loader] no files to load")
	}

	var bar *progressbar.ProgressBar
	if l.progress != nil {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(l.progress),
			progressbar.OptionSetDescription("loading measurement files"),
			progressbar.OptionClearOnFinish(),
		)
	}

	var errs error
	tables := make([]*fileTable, 0, len(paths))
	for _, path := range paths {
		ft, err := l.loadFile(path)
		if bar != nil {
			_ = bar.Add(1)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		tables = append(tables, ft)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if errs != nil {
		return nil, errs
	}

	columns := commonColumns(tables)
	table := &measurement.Table{Columns: columns}
	for _, ft := range tables {
		for _, row := range ft.rows {
			row.Extra = keepColumns(row.Extra, columns)
			table.Rows = append(table.Rows, row)
		}
	}

	l.logger.Info("[loader] loaded measurement files",
		zap.Int("files", len(tables)),
		zap.Int("rows", table.Len()),
		zap.Strings("extraColumns", columns),
	)
	return table, nil
}

// loadFile reads one gzip compressed (or plain) tab separated measurement file.
func (l *Loader) loadFile(path string) (*fileTable, error) {
	osCode, device, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("[loader] opening %s: %w", path, err)
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("[loader] %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	ft, err := l.parse(path, src, osCode, device)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("[loader] parsed file",
		zap.String("file", path),
		zap.String("meas", measurement.MeasID(osCode, device)),
		zap.Int("rows", len(ft.rows)),
	)
	return ft, nil
}

func (l *Loader) parse(path string, src io.Reader, osCode, device string) (*fileTable, error) {
	buffered := bufio.NewReader(src)
	for i := 0; i < l.headerLines; i++ {
		if _, err := buffered.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("[loader] %s: file ends inside its %d line header: %w", path, l.headerLines, err)
		}
	}

	reader := csv.NewReader(buffered)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("[loader] %s: reading column header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, name := range measurement.RequiredColumns {
		if _, ok := index[name]; !ok {
			return nil, &ColumnError{File: path, Column: name}
		}
	}

	var extra []string
	for _, name := range header {
		if isRequired(name) || name == measurement.ColEvent || name == "" {
			continue
		}
		extra = append(extra, name)
	}

	meas := measurement.MeasID(osCode, device)
	ft := &fileTable{path: path, columns: extra}
	idxByTime := make(map[float64]int)
	var missing, unknown int
	line := l.headerLines + 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("[loader] %s:%d: %w", path, line, err)
		}
		field := func(name string) string {
			if i := index[name]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		rawLatency := field(measurement.ColLatency)
		if rawLatency == "" || rawLatency == l.missingToken {
			missing++
			continue
		}

		var channel string
		switch field(measurement.ColChannel) {
		case l.referenceChannel:
			channel = measurement.ReferenceChannel
		case l.deviceChannel:
			channel = device
		default:
			unknown++
			continue
		}

		row := measurement.Row{Channel: channel, OS: osCode, Meas: meas}
		if row.LatencyMS, err = l.number(path, line, measurement.ColLatency, rawLatency); err != nil {
			return nil, err
		}
		// ParseFloat reads "nan" in any case without error
		if math.IsNaN(row.LatencyMS) {
			missing++
			continue
		}
		if row.TimeS, err = l.number(path, line, measurement.ColTime, field(measurement.ColTime)); err != nil {
			return nil, err
		}
		if row.NetworkUncMS, err = l.number(path, line, measurement.ColNetworkUnc, field(measurement.ColNetworkUnc)); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			row.Extra = make(map[string]string, len(extra))
			for _, name := range extra {
				row.Extra[name] = field(name)
			}
		}

		// rows recorded at the same time_s belong to the same trial
		idx, ok := idxByTime[row.TimeS]
		if !ok {
			idx = len(idxByTime)
			idxByTime[row.TimeS] = idx
		}
		row.Idx = idx
		ft.rows = append(ft.rows, row)
	}

	sort.SliceStable(ft.rows, func(a, b int) bool {
		return ft.rows[a].Idx < ft.rows[b].Idx
	})

	if unknown > 0 {
		l.logger.Warn("[loader] dropped rows with an unknown channel label",
			zap.String("file", path),
			zap.Int("rows", unknown),
		)
	}
	l.logger.Debug("[loader] dropped rows without latency",
		zap.String("file", path),
		zap.Int("rows", missing),
	)
	return ft, nil
}

// number parses a numeric field; the missing token reads as NaN.
func (l *Loader) number(path string, line int, column, value string) (float64, error) {
	if value == "" || value == l.missingToken {
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &ValueError{File: path, Line: line, Column: column, Value: value}
	}
	return f, nil
}

// ParseFileName derives the OS and device codes from a file name such as
// NLS-win-leo.txt.gz. The device code is the first three characters of the
// third dash separated token.
func ParseFileName(path string) (osCode, device string, err error) {
	tokens := strings.Split(filepath.Base(path), "-")
	if len(tokens) < 3 || tokens[1] == "" || len(tokens[2]) < 3 {
		return "", "", &FileNameError{File: path}
	}
	device = tokens[2][:3]
	if strings.ContainsAny(device, ".") {
		return "", "", &FileNameError{File: path}
	}
	return tokens[1], device, nil
}

func isRequired(name string) bool {
	for _, required := range measurement.RequiredColumns {
		if name == required {
			return true
		}
	}
	return false
}

// commonColumns returns the optional columns every file has, in the order of the first file.
func commonColumns(tables []*fileTable) []string {
	if len(tables) == 0 {
		return nil
	}
	var columns []string
	for _, name := range tables[0].columns {
		shared := true
		for _, ft := range tables[1:] {
			if !contains(ft.columns, name) {
				shared = false
				break
			}
		}
		if shared {
			columns = append(columns, name)
		}
	}
	return columns
}

func keepColumns(extra map[string]string, columns []string) map[string]string {
	if len(columns) == 0 {
		return nil
	}
	kept := make(map[string]string, len(columns))
	for _, name := range columns {
		kept[name] = extra[name]
	}
	return kept
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
