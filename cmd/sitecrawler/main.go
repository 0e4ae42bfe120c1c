package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/masahif/sitecrawler/internal/cmd"
)

// Version information set by build flags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime)

	// the first signal stops the crawl gracefully, the job stays resumable
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()

	os.Exit(cmd.ExitCode(err))
}
