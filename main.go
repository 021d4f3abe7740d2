// Command vod-chat archives the chat replay of Twitch VODs to text files.
//
// Settings come from ~/.config/tcd/settings.yaml, TCD_* environment variables
// (a local .env file is loaded first) and flags. Run with --help for usage.
//
// A SIGINT/SIGTERM cancels the run; unfinished output files are removed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/vod-chat/cli"
)

func main() {
	// Load .env file if present (local dev convenience only)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
