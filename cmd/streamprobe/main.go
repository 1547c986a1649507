// Command streamprobe replays scripted tool-use conversations against AWS
// Bedrock models and reports which ones answer with empty text.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"streamprobe/internal/adapter/report"
	"streamprobe/internal/domain"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitFailed = 2
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrTrialsFailed):
		return exitFailed
	default:
		fmt.Fprintln(stderr, report.Humanize(err).Render())
		return exitFatal
	}
}
