package main

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"comtrust/latency/internal/config"
)

func TestAnalyzeFlags(t *testing.T) {
	o := &analyzeOptions{cfg: config.DefaultAnalysis()}
	cmd := &cobra.Command{}
	o.register(cmd)
	if err := cmd.ParseFlags([]string{"--data-dir", "raw", "--max-uncertainty", "0.02", "--linear", "--formats", "svg"}); err != nil {
		t.Fatal(err)
	}

	cfg := o.config(nil)
	if cfg.LogScale {
		t.Error("--linear kept the log scale")
	}
	if cfg.Criteria.MaxUncertainty != 0.02 {
		t.Errorf("max uncertainty = %v", cfg.Criteria.MaxUncertainty)
	}
	if diff := cmp.Diff([]string{"svg"}, cfg.FigureFormats); diff != "" {
		t.Errorf("formats mismatch (-want +got):\n%s", diff)
	}
	if got, want := cfg.Files[0], filepath.Join("raw", "NLS-win-leo.txt.gz"); got != want {
		t.Errorf("first file %q, want %q", got, want)
	}
	if got := o.config([]string{"a.txt.gz"}).Files; !cmp.Equal(got, []string{"a.txt.gz"}) {
		t.Errorf("file arguments ignored: %v", got)
	}
}

func TestSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	if diff := cmp.Diff([]string{"analyze", "trigger"}, names); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
}
