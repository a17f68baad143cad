package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comtrust/latency/internal/analysis"
	"comtrust/latency/internal/config"
)

type analyzeOptions struct {
	dataDir    string
	linear     bool
	noProgress bool
	cfg        config.Analysis
}

// analyzeSubcommand returns the analyze subcommand.
func analyzeSubcommand(g *globals) *cobra.Command {
	o := &analyzeOptions{cfg: config.DefaultAnalysis()}
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Clean the latency files and write the summary, tests and figure",
		Long: "Loads the NLS-<os>-<device> latency files, applies the exclusion criteria, " +
			"and writes the result tables and figure to the output directory. Without file " +
			"arguments the study files below --data-dir are read.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.config(args)
			p := analysis.NewPipeline(cfg, g.logger).WithStdout(cmd.OutOrStdout())
			if !o.noProgress {
				p.WithProgress(os.Stderr)
			}
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			g.logger.Info("[analysis] done",
				zap.String("outDir", cfg.OutDir),
				zap.Int("samples", len(res.Samples)),
				zap.Strings("figures", res.Figures),
			)
			return nil
		},
	}

	o.register(cmd)
	return cmd
}

func (o *analyzeOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.dataDir, "data-dir", config.DefaultDataDir, "directory holding the study files")
	f.StringVarP(&o.cfg.OutDir, "out", "o", o.cfg.OutDir, "output directory")
	f.IntVar(&o.cfg.HeaderLines, "header-lines", o.cfg.HeaderLines, "preamble lines before the column header")
	f.Float64Var(&o.cfg.Criteria.MaxUncertainty, "max-uncertainty", o.cfg.Criteria.MaxUncertainty, "largest network uncertainty kept, in ms")
	f.Float64Var(&o.cfg.Criteria.MinLatency, "min-latency", o.cfg.Criteria.MinLatency, "smallest device latency kept, in ms")
	f.IntVar(&o.cfg.Criteria.NFirstMeasurements, "n-first", o.cfg.Criteria.NFirstMeasurements, "trials kept per measurement group")
	f.BoolVar(&o.linear, "linear", false, "plot latencies on a linear axis")
	f.StringSliceVar(&o.cfg.FigureFormats, "formats", o.cfg.FigureFormats, "figure formats")
	f.StringVar(&o.cfg.FirstOS, "first-os", o.cfg.FirstOS, "minuend of the OS difference")
	f.StringVar(&o.cfg.SecondOS, "second-os", o.cfg.SecondOS, "subtrahend of the OS difference")
	f.StringVar(&o.cfg.SQLitePath, "sqlite", "", "also export trials and summary to this SQLite database")
	f.BoolVar(&o.noProgress, "no-progress", false, "hide the loading progress bar")
}

func (o *analyzeOptions) config(args []string) config.Analysis {
	cfg := o.cfg
	cfg.Files = config.StudyFiles(o.dataDir)
	if len(args) > 0 {
		cfg.Files = args
	}
	cfg.LogScale = !o.linear
	return cfg
}
