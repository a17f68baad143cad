// Package fixture writes synthetic LabStreamer latency files for tests.
package fixture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// HeaderLines is the length of the preamble written before the column header.
const HeaderLines = 13

// Trial describes the two rows of one trial.
type Trial struct {
	TimeS float64
	// KbdLatency and DeviceLatency are in ms; NaN writes the NAN token.
	KbdLatency    float64
	DeviceLatency float64
	KbdUnc        float64
	DeviceUnc     float64
}

// Trials returns n well formed trials with distinct timestamps.
func Trials(n int) []Trial {
	trials := make([]Trial, n)
	for i := range trials {
		trials[i] = Trial{
			TimeS:         10 + float64(i)*0.5,
			KbdLatency:    2 + float64(i%3)*0.1,
			DeviceLatency: 1 + float64(i)*0.01,
			KbdUnc:        0.005,
			DeviceUnc:     0.005,
		}
	}
	return trials
}

// Render returns the uncompressed file content for the given trials.
func Render(trials []Trial) []byte {
	var buf bytes.Buffer
	for i := 0; i < HeaderLines; i++ {
		fmt.Fprintf(&buf, "# LabStreamer latency test export, header line %d\n", i)
	}
	buf.WriteString("time_s\tlatency_ms\tnetwork_unc_ms\tchannel\tevent\tnote\n")
	for _, trial := range trials {
		fmt.Fprintf(&buf, "%v\t%s\t%v\tAnalog 0\t1\tok\n", trial.TimeS, latency(trial.KbdLatency), trial.KbdUnc)
		fmt.Fprintf(&buf, "%v\t%s\t%v\tAnalog 2\t1\tok\n", trial.TimeS, latency(trial.DeviceLatency), trial.DeviceUnc)
	}
	return buf.Bytes()
}

// WriteFile writes a gzip compressed NLS-<os>-<device>.txt.gz file into dir and
// returns its path.
func WriteFile(tb testing.TB, dir, osCode, device string, trials []Trial) string {
	tb.Helper()
	return WriteRaw(tb, dir, fmt.Sprintf("NLS-%s-%s.txt.gz", osCode, device), Render(trials))
}

// WriteRaw gzip compresses content into dir/name.
func WriteRaw(tb testing.TB, dir, name string, content []byte) string {
	tb.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		tb.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		tb.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		tb.Fatal(err)
	}
	return path
}

func latency(v float64) string {
	if v != v {
		return "NAN"
	}
	return fmt.Sprint(v)
}
