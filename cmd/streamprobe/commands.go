package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"streamprobe/internal/adapter/report"
	"streamprobe/internal/domain"
	"streamprobe/internal/infra/config"
	"streamprobe/internal/usecase/fixture"
	"streamprobe/internal/usecase/probe"
)

// Single-trial diagnostics allow a longer answer and a longer wait.
const (
	diagnosticMaxTokens = 200
	diagnosticTimeout   = 20 * time.Second
)

func diagnosticDefaults(cfg *config.Config) {
	cfg.Probe.MaxTokens = diagnosticMaxTokens
	cfg.Probe.Timeout = diagnosticTimeout
	cfg.Probe.Output.Raw = true
}

func newConsistencyCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "consistency [model]",
		Short: "Repeat one tool-result conversation to expose intermittent empty answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, f, nil)
			if err != nil {
				return err
			}
			defer a.close()

			model := modelArg(args, a.cfg)
			specs := probe.Repeat(domain.TrialSpec{
				Model:      model,
				ToolCallID: fixture.DefaultToolCallID,
				Scenario:   string(fixture.ScenarioToolResult),
			}, a.cfg.Probe.Trials)

			a.human("%s\n\n", report.Heading("Consistency: "+model, a.opts...))
			a.human("Running %d identical requests to check for intermittent failures...\n\n", len(specs))

			summary, err := a.run(cmd.Context(), specs, hooks{after: a.printTrial})
			if err != nil {
				return err
			}
			return a.finish(summary, func() {
				a.human("\n%s", report.Summary(summary, a.opts...))
			})
		},
	}
}

func newFormatsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "formats [model...]",
		Short: "Cross models with tool-call id formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, f, nil)
			if err != nil {
				return err
			}
			defer a.close()

			models := args
			if len(models) == 0 {
				models = a.cfg.Probe.Models
			}
			formats := make([]probe.IDFormat, 0, len(a.cfg.Probe.ToolIDFormats))
			for _, tf := range a.cfg.Probe.ToolIDFormats {
				formats = append(formats, probe.IDFormat{ID: tf.ID, Name: tf.Name})
			}
			specs := probe.Matrix(models, formats, string(fixture.ScenarioToolResult))

			a.human("%s\n", report.Heading("Tool ID Format Compatibility", a.opts...))

			var lastModel string
			summary, err := a.run(cmd.Context(), specs, hooks{
				before: func(_ int, spec domain.TrialSpec) {
					if spec.Model != lastModel {
						lastModel = spec.Model
						a.human("\n--- %s ---\n\n", spec.Model)
					}
				},
				after: a.printTrial,
			})
			if err != nil {
				return err
			}
			return a.finish(summary, func() {
				a.human("\n%s", report.Summary(summary, a.opts...))
			})
		},
	}
}

func newAfterToolResultCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "after-tool-result [model]",
		Short: "Send one tool-result conversation and dump every stream event",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, f, diagnosticDefaults)
			if err != nil {
				return err
			}
			defer a.close()

			model := modelArg(args, a.cfg)
			specs := []domain.TrialSpec{{
				Label:      "after tool result",
				Model:      model,
				ToolCallID: "tooluse_123abc",
				Scenario:   string(fixture.ScenarioToolResultPreamble),
			}}

			a.human("%s\n", report.Heading("Response After Tool Result", a.opts...))
			a.human("Model: %s\n\n", model)

			summary, err := a.run(cmd.Context(), specs, hooks{
				before: func(int, domain.TrialSpec) {
					if a.cfg.Probe.Output.Raw {
						a.human("--- Raw Events ---\n\n")
					}
				},
			})
			if err != nil {
				return err
			}
			return a.finish(summary, func() {
				res := summary.Trials[0]
				a.human("\n--- Result ---\n%s\n%s\n", report.Detail(res, a.opts...), verdict(res, a.cfg.Probe.Timeout))
			})
		},
	}
}

func newDebugCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "debug [model]",
		Short: "Run basic chat, tool call and after-tool-result checks with raw events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, f, diagnosticDefaults)
			if err != nil {
				return err
			}
			defer a.close()

			model := modelArg(args, a.cfg)
			specs := []domain.TrialSpec{
				{Label: "basic chat", Model: model, Scenario: string(fixture.ScenarioBasicChat)},
				{Label: "tool call", Model: model, Scenario: string(fixture.ScenarioToolCall)},
				{Label: "after tool result", Model: model, ToolCallID: "tool_001", Scenario: string(fixture.ScenarioToolResult)},
			}

			a.human("%s\n", report.Heading("Bedrock Debug: "+model, a.opts...))
			a.human("Region: %s\n", a.cfg.Bedrock.Region)

			summary, err := a.run(cmd.Context(), specs, hooks{
				before: func(i int, spec domain.TrialSpec) {
					a.human("\n--- Test %d: %s ---\n\n", i+1, spec.Label)
				},
				after: func(_ int, _ domain.TrialSpec, res domain.TrialResult) {
					a.human("\n%s", report.Detail(res, a.opts...))
				},
			})
			if err != nil {
				return err
			}
			return a.finish(summary, func() {
				a.human("\n%s\n%s", report.Heading("Summary", a.opts...), report.Render(summary, a.opts...))
				a.human("\n--- Diagnosis ---\n%s\n", verdict(summary.Trials[len(summary.Trials)-1], a.cfg.Probe.Timeout))
			})
		},
	}
}

func newShapesCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "shapes [model]",
		Short: "Compare tool-result conversations with and without assistant text before the tool call",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, f, func(cfg *config.Config) {
				cfg.Probe.MaxTokens = diagnosticMaxTokens
				cfg.Probe.Timeout = diagnosticTimeout
			})
			if err != nil {
				return err
			}
			defer a.close()

			model := modelArg(args, a.cfg)
			specs := []domain.TrialSpec{
				{Label: "text + tool use", Model: model, ToolCallID: "tooluse_123abc", Scenario: string(fixture.ScenarioToolResultPreamble)},
				{Label: "tool use only", Model: model, ToolCallID: "tooluse_abc123", Scenario: string(fixture.ScenarioToolResult)},
			}

			a.human("%s\n\n", report.Heading("Message Shapes: "+model, a.opts...))

			summary, err := a.run(cmd.Context(), specs, hooks{after: a.printTrial})
			if err != nil {
				return err
			}
			return a.finish(summary, func() {
				a.human("\n%s", report.Summary(summary, a.opts...))
			})
		},
	}
}

// verdict explains the outcome of the critical after-tool-result trial.
func verdict(res domain.TrialResult, timeout time.Duration) string {
	switch res.Status {
	case domain.StatusOK:
		return "Model returned content after the tool result"
	case domain.StatusEmpty:
		return fmt.Sprintf("BUG CONFIRMED: model returned EMPTY content after the tool result (stop reason %s, %d events, %d content events)",
			stopOrNone(res.StopReason), res.EventCount, res.ContentEventCount)
	case domain.StatusTimeout:
		return fmt.Sprintf("No terminal event within %s", timeout)
	default:
		return fmt.Sprintf("Request failed (%s): %s", res.ErrorCode, res.Excerpt)
	}
}

func stopOrNone(s domain.StopReason) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
