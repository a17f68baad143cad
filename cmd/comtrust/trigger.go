package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comtrust/latency/internal/config"
	"comtrust/latency/internal/trigger"
)

// triggerSubcommand returns the trigger subcommand.
func triggerSubcommand(g *globals) *cobra.Command {
	cfg := config.DefaultTrigger()
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Fire trials and broadcast a marker for each one",
		Long: "Fires the serial trigger device once per trial, pushes a timestamped marker " +
			"to the recording host and waits for the reference keyboard to type one " +
			"character on stdin before the next trial.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runTrigger(cmd, cfg, g.logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Port, "port", "p", cfg.Port, "serial port of the trigger device")
	f.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "baud rate")
	f.StringVar(&cfg.Payload, "payload", cfg.Payload, "bytes written per trigger")
	f.StringVar(&cfg.PinPort, "pin-port", "", "serial adapter whose DTR line is pulsed per trial")
	f.DurationVar(&cfg.PulseWidth, "pulse-width", cfg.PulseWidth, "time the trigger level is held")
	f.StringVar(&cfg.MarkerAddr, "marker-addr", cfg.MarkerAddr, "UDP address receiving the markers")
	f.StringVar(&cfg.StreamName, "stream", cfg.StreamName, "marker stream name")
	f.StringVar(&cfg.EventLog, "event-log", cfg.EventLog, "CSV file recording every trial")
	f.IntVarP(&cfg.Count, "count", "n", 0, "trials to fire, 0 runs until interrupted")
	return cmd
}

func runTrigger(cmd *cobra.Command, cfg config.Trigger, logger *zap.Logger) error {
	serialSink, err := trigger.OpenSerialSink(cfg.Port, cfg.BaudRate, []byte(cfg.Payload), logger)
	if err != nil {
		return err
	}
	defer serialSink.Close()
	sinks := trigger.MultiSink{serialSink}

	if cfg.PinPort != "" {
		pin, err := trigger.OpenPinSink(cfg.PinPort, cfg.BaudRate)
		if err != nil {
			return err
		}
		defer pin.Close()
		sinks = append(trigger.MultiSink{pin}, sinks...)
	}

	outlet, err := trigger.NewUDPOutlet(cfg.MarkerAddr, cfg.StreamName, logger)
	if err != nil {
		return err
	}
	defer outlet.Close()

	logger.Info("[trigger] starting",
		zap.String("port", cfg.Port),
		zap.String("pinPort", cfg.PinPort),
		zap.String("markerAddr", cfg.MarkerAddr),
		zap.Int("count", cfg.Count),
	)
	fired, err := trigger.NewLoop(cfg, sinks, outlet, os.Stdin, logger).Run(cmd.Context())
	logger.Info("[trigger] stopped", zap.Int("trials", fired), zap.String("eventLog", cfg.EventLog))
	return err
}
