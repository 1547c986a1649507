package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"streamprobe/internal/infra/config"
)

// flags are the persistent overrides shared by every subcommand. Only flags
// the user actually set are applied over the loaded config.
type flags struct {
	configPath string
	region     string
	trials     int
	delay      time.Duration
	timeout    time.Duration
	maxTokens  int
	raw        bool
	json       bool
	ascii      bool
	color      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "streamprobe",
		Short: "Probe Bedrock models for empty answers after tool results",
		Long: `streamprobe sends scripted conversations to AWS Bedrock ConverseStream,
drains the streamed events and classifies every trial as OK, EMPTY, TIMEOUT
or ERROR. It exists to catch models that go silent after a tool result.

Exit status is 0 when every trial is OK, 2 when any trial is not, and 1 on
a fatal error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&f.region, "region", "", "AWS region (overrides AWS_REGION and BEDROCK_REGION)")
	pf.IntVar(&f.trials, "trials", 0, "number of trials for repeated runs")
	pf.DurationVar(&f.delay, "delay", 0, "pause between trials")
	pf.DurationVar(&f.timeout, "timeout", 0, "per-trial timeout")
	pf.IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens to generate per trial")
	pf.BoolVar(&f.raw, "raw", false, "dump every stream event as JSON")
	pf.BoolVar(&f.json, "json", false, "print the batch summary as JSON")
	pf.BoolVar(&f.ascii, "ascii", false, "use ASCII status glyphs")
	pf.BoolVar(&f.color, "color", false, "colorize the report")

	root.AddCommand(
		newConsistencyCmd(f),
		newFormatsCmd(f),
		newAfterToolResultCmd(f),
		newDebugCmd(f),
		newShapesCmd(f),
	)
	return root
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("region") && f.region != "" {
		cfg.Bedrock.Region = f.region
	}
	if changed("trials") {
		cfg.Probe.Trials = f.trials
	}
	if changed("delay") {
		cfg.Probe.Delay = f.delay
	}
	if changed("timeout") {
		cfg.Probe.Timeout = f.timeout
	}
	if changed("max-tokens") {
		cfg.Probe.MaxTokens = f.maxTokens
	}
	if changed("raw") {
		cfg.Probe.Output.Raw = f.raw
	}
	if changed("json") {
		cfg.Probe.Output.JSON = f.json
	}
	if changed("ascii") {
		cfg.Probe.Output.ASCII = f.ascii
	}
	if changed("color") {
		cfg.Probe.Output.Color = f.color
	}
}

// modelArg returns the first positional argument or the configured model.
func modelArg(args []string, cfg *config.Config) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return cfg.Probe.Model
}
