package report

import (
	"errors"
	"fmt"
	"strings"

	"streamprobe/internal/domain"
	"streamprobe/internal/infra/config"
)

// FriendlyError is a fatal error explained for the operator.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string
}

// Render formats fe as an indented block.
func (fe FriendlyError) Render(opts ...Option) string {
	o := buildOptions(opts)
	var sb strings.Builder
	sb.WriteString(o.paint(func(st Styles) string { return st.Error.Render(fe.Title) }, fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			fmt.Fprintf(&sb, "\n    %s %s", o.symbols.Bullet, h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(error) bool
	produce func(error) FriendlyError
}

var patterns = []errorPattern{
	{
		match: func(err error) bool {
			var ve *config.ValidationError
			return errors.As(err, &ve)
		},
		produce: constantError("Invalid Configuration", "The configuration did not pass validation.",
			[]string{"Fix the listed fields in the config file", "Check STREAMPROBE_* environment overrides"}),
	},
	{
		match: isErr(domain.ErrConfigLoad),
		produce: constantError("Configuration Not Loaded", "The configuration file could not be read.",
			[]string{"Check the --config path", "Validate the YAML syntax"}),
	},
	{
		match: isErr(domain.ErrInvalidFixture),
		produce: constantError("Invalid Conversation Fixture", "A scripted conversation is malformed, so no request was sent.",
			[]string{"Use a non-empty tool-call id", "Check the scenario name"}),
	},
	{
		match: isErr(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "AWS rejected the credentials.",
			[]string{"Check AWS_PROFILE or the bedrock.profile setting", "Refresh expired session credentials", "Verify bedrock:InvokeModelWithResponseStream is allowed"}),
	},
	{
		match: isErr(domain.ErrModelNotFound),
		produce: constantError("Model Not Found", "The model id is unknown in this region.",
			[]string{"Check the model id spelling", "Try another region with --region", "Enable model access in the Bedrock console"}),
	},
	{
		match: isErr(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Bedrock throttled the requests.",
			[]string{"Increase --delay", "Set probe.rate_limit_per_minute"}),
	},
}

// Humanize converts err into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			fe.Message = fe.Message + "\n  " + err.Error()
			return fe
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Run with STREAMPROBE_LOGGER_LEVEL=debug for more details"},
		Raw:     err.Error(),
	}
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
