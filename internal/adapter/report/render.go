// Package report formats trial results for the console.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"streamprobe/internal/domain"
)

const (
	DiagnosisStable       = "stable"
	DiagnosisIntermittent = "intermittent failures detected"
)

// Option configures rendering.
type Option func(*options)

type options struct {
	symbols SymbolSet
	styles  *Styles
}

// WithStyle enables lipgloss coloring.
func WithStyle(enabled bool) Option {
	return func(o *options) {
		if enabled {
			s := DefaultStyles()
			o.styles = &s
		} else {
			o.styles = nil
		}
	}
}

// WithASCII selects the ASCII glyph set.
func WithASCII(ascii bool) Option {
	return func(o *options) {
		if ascii {
			o.symbols = ASCIISymbols
		} else {
			o.symbols = UnicodeSymbols
		}
	}
}

// WithSymbols sets an explicit glyph set.
func WithSymbols(s SymbolSet) Option {
	return func(o *options) { o.symbols = s }
}

func buildOptions(opts []Option) options {
	o := options{symbols: UnicodeSymbols}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) paint(style func(Styles) string, plain string) string {
	if o.styles == nil {
		return plain
	}
	return style(*o.styles)
}

// Diagnosis returns the one-line verdict for a batch.
func Diagnosis(s *domain.BatchSummary) string {
	if s.Failed == 0 {
		return DiagnosisStable
	}
	return DiagnosisIntermittent
}

// Render returns the full report for a batch: one line per trial, the
// pass/fail counts and the diagnosis. Output depends only on s and opts.
func Render(s *domain.BatchSummary, opts ...Option) string {
	o := buildOptions(opts)
	var sb strings.Builder

	for i, r := range s.Trials {
		sb.WriteString(trialLine(o, i, r))
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(summary(o, s))
	return sb.String()
}

// Summary returns the pass/fail counts and the diagnosis line, for callers
// that printed the trial lines as they completed.
func Summary(s *domain.BatchSummary, opts ...Option) string {
	return summary(buildOptions(opts), s)
}

func summary(o options, s *domain.BatchSummary) string {
	diag := Diagnosis(s)
	painted := o.paint(func(st Styles) string {
		if s.Failed == 0 {
			return st.OK.Render(diag)
		}
		return st.Timeout.Render(diag)
	}, diag)
	return Counts(s) + "Diagnosis: " + painted + "\n"
}

// Counts returns the "Passed: p/n" and "Failed: f/n" lines.
func Counts(s *domain.BatchSummary) string {
	n := s.Total()
	return fmt.Sprintf("Passed: %d/%d\nFailed: %d/%d\n", s.Passed, n, s.Failed, n)
}

// TrialLine renders a single trial. index is zero-based.
func TrialLine(index int, r domain.TrialResult, opts ...Option) string {
	return trialLine(buildOptions(opts), index, r)
}

func trialLine(o options, index int, r domain.TrialResult) string {
	glyph := o.symbols.Glyph(r.Status)
	word := fmt.Sprintf("%-7s", r.Status)
	status := o.paint(func(st Styles) string {
		style := st.forStatus(r.Status)
		return style.Render(glyph) + " " + style.Render(word)
	}, glyph+" "+word)

	line := fmt.Sprintf("Test %2d: %s", index+1, status)
	if r.Label != "" {
		line += " " + o.paint(func(st Styles) string { return st.Muted.Render("[" + r.Label + "]") }, "["+r.Label+"]")
	}
	if r.Excerpt != "" {
		line += " " + r.Excerpt
	}
	return strings.TrimRight(line, " ")
}

// Heading renders a section title.
func Heading(title string, opts ...Option) string {
	o := buildOptions(opts)
	plain := "=== " + title + " ==="
	return o.paint(func(st Styles) string { return st.Heading.Render(plain) }, plain)
}

// Detail renders the diagnostic block for one trial.
func Detail(r domain.TrialResult, opts ...Option) string {
	o := buildOptions(opts)
	var sb strings.Builder

	text := r.Excerpt
	if r.Status == domain.StatusEmpty {
		text = "(empty)"
	}
	if r.Status == domain.StatusTimeout {
		text = "(timed out)"
	}

	fmt.Fprintf(&sb, "Status:         %s\n", o.paint(func(st Styles) string {
		return st.forStatus(r.Status).Render(string(r.Status))
	}, string(r.Status)))
	if r.Model != "" {
		fmt.Fprintf(&sb, "Model:          %s\n", r.Model)
	}
	if r.ToolCallID != "" {
		fmt.Fprintf(&sb, "Tool call id:   %s\n", r.ToolCallID)
	}
	fmt.Fprintf(&sb, "Text:           %s\n", text)
	stop := string(r.StopReason)
	if stop == "" {
		stop = "(none)"
	}
	fmt.Fprintf(&sb, "Stop reason:    %s\n", stop)
	fmt.Fprintf(&sb, "Total events:   %d\n", r.EventCount)
	fmt.Fprintf(&sb, "Content events: %d\n", r.ContentEventCount)
	if r.ToolUse != nil {
		fmt.Fprintf(&sb, "Tool use:       %s %s %s\n", r.ToolUse.Name, r.ToolUse.ID, r.ToolUse.Input)
	}
	if r.Usage != nil {
		fmt.Fprintf(&sb, "Usage:          in=%d out=%d total=%d\n",
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens)
	}
	if r.ErrorCode != "" {
		fmt.Fprintf(&sb, "Error code:     %s\n", r.ErrorCode)
	}
	fmt.Fprintf(&sb, "Duration:       %s\n", r.Duration.Round(time.Millisecond))
	return sb.String()
}

// EventLine renders one stream event as indented JSON. The provider's raw
// event is preferred when present. n is one-based.
func EventLine(n int, ev domain.StreamEvent) string {
	var v any = ev
	if ev.Raw != nil {
		v = ev.Raw
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("Event %d: %+v", n, v)
	}
	return fmt.Sprintf("Event %d: %s", n, data)
}

// JSON returns the machine-readable form of a batch.
func JSON(s *domain.BatchSummary) ([]byte, error) {
	out := struct {
		*domain.BatchSummary
		Total     int    `json:"total"`
		Diagnosis string `json:"diagnosis"`
	}{s, s.Total(), Diagnosis(s)}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return append(data, '\n'), nil
}
