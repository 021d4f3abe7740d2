// Package cli implements the vod-chat command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/onnwee/vod-chat/config"
)

// Version is set at build time with -ldflags "-X github.com/onnwee/vod-chat/cli.Version=...".
var Version = "dev"

// Process exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1 // at least one job or channel failed
	ExitUsage  = 2 // bad flags, settings or formats; nothing was archived
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: ExitUsage, err: err} }

type rootOptions struct {
	stdout io.Writer
	stderr io.Writer

	verbosity    verbosity
	listFormats  bool
	showSettings bool
	initSettings bool
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	_, _ = fmt.Fprintln(stderr, "error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitUsage
}

// NewRootCommand builds the root command. Each call has its own settings
// registry, so commands do not share state.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := config.New()
	o := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "vod-chat",
		Short: "Archive the chat replay of Twitch VODs to text files",
		Long: `vod-chat downloads the chat replay of Twitch VODs and renders it into
text files using configurable formats. VODs are named directly with --video
or discovered from the most recent archives of a --channel.`,
		Example: `  vod-chat -v 123456789 -f srt
  vod-chat -c somechannel --first 3 -u alice -u bob -o ./chat
  vod-chat --formats`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), v)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("vod-chat version {{.Version}}\n")

	f := cmd.Flags()
	f.StringSliceP("video", "v", nil, "video id(s) to archive, repeatable or comma separated")
	f.StringSliceP("channel", "c", nil, "channel(s) whose recent VODs to archive")
	f.Int("first", 5, "number of recent VODs per channel")
	f.StringSliceP("user", "u", nil, "only keep messages from these users")
	f.String("includes", "", "only keep messages containing this text")
	f.String("client-id", "", "Twitch client id")
	f.String("client-secret", "", "Twitch client secret")
	f.StringP("output", "o", ".", "output directory")
	f.StringP("format", "f", "default", `output format, or "all"`)
	f.String("timezone", "", "IANA timezone for wall-clock timestamps (default: time since the VOD start)")
	f.Int("concurrency", 1, "VODs archived in parallel")
	f.Bool("preview", false, "print rendered lines while archiving")
	f.String("settings-file", "", "settings file (default ~/.config/tcd/settings.yaml)")
	f.Bool("log", false, "also save the log to "+config.LogFileName+" in the output directory")
	f.BoolVar(&o.listFormats, "formats", false, "list available formats and exit")
	f.BoolVar(&o.showSettings, "settings", false, "print the settings file location and resolved settings, then exit")
	f.BoolVar(&o.initSettings, "init", false, "write a starter settings file and exit")
	f.BoolVar(&o.verbosity.debug, "debug", false, "debug logging")
	f.BoolVar(&o.verbosity.verbose, "verbose", false, "log progress")
	f.BoolVarP(&o.verbosity.quiet, "quiet", "q", false, "only log errors")
	bindFlags(v, f)

	cmd.AddCommand(newVersionCommand())
	return cmd
}

// bindFlags ties each settings flag to its key so flags override the
// settings file and environment.
func bindFlags(v *viper.Viper, f *pflag.FlagSet) {
	keys := map[string]string{
		"video":         config.KeyVideo,
		"channel":       config.KeyChannel,
		"first":         config.KeyFirst,
		"user":          config.KeyUser,
		"includes":      config.KeyIncludes,
		"client-id":     config.KeyClientID,
		"client-secret": config.KeyClientSecret,
		"output":        config.KeyOutput,
		"format":        config.KeyFormat,
		"timezone":      config.KeyTimezone,
		"concurrency":   config.KeyConcurrency,
		"preview":       config.KeyPreview,
		"log":           config.KeyLog,
		"settings-file": config.KeySettingsFile,
	}
	for name, key := range keys {
		// only fails for a nil flag
		_ = v.BindPFlag(key, f.Lookup(name))
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "vod-chat version %s\n", Version)
		},
	}
}

func (o *rootOptions) run(ctx context.Context, v *viper.Viper) error {
	log := newLogger(o.stderr, o.verbosity)

	if o.initSettings {
		return o.writeStarter(v)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return usageError(err)
	}
	formats, err := cfg.FormatSet()
	if err != nil {
		return usageError(err)
	}
	if o.listFormats {
		printFormats(o.stdout, formats)
		return nil
	}
	if o.showSettings {
		location := cfg.SettingsFile
		if location == "" {
			location = "none (default " + config.DefaultSettingsFile() + ")"
		}
		_, _ = fmt.Fprintf(o.stdout, "# settings file: %s\n", location)
		return cfg.Write(o.stdout)
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}
	if cfg.Log {
		teed, closeLog, err := withLogFile(log, cfg.LogFile(), o.verbosity)
		if err != nil {
			return usageError(err)
		}
		defer func() { _ = closeLog() }()
		log = teed
	}
	if cfg.SettingsFile != "" {
		log.Debug("settings file loaded", slog.String("path", cfg.SettingsFile))
	}
	return archiveRun(ctx, cfg, formats, log, o.stdout)
}

// writeStarter creates the settings file named by --settings-file, or the
// default one, from flags and environment.
func (o *rootOptions) writeStarter(v *viper.Viper) error {
	path := v.GetString(config.KeySettingsFile)
	if path == "" {
		path = config.DefaultSettingsFile()
	}
	if path == "" {
		return usageError(errors.New("no home directory: pass --settings-file"))
	}
	cfg, err := config.LoadWithoutFile(v)
	if err != nil {
		return usageError(err)
	}
	if err := cfg.WriteStarter(path); err != nil {
		return usageError(err)
	}
	_, _ = fmt.Fprintf(o.stdout, "settings written to %s\n", path)
	return nil
}
