package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/vod-chat/archive"
	"github.com/onnwee/vod-chat/config"
	"github.com/onnwee/vod-chat/format"
	"github.com/onnwee/vod-chat/telemetry"
	"github.com/onnwee/vod-chat/twitchapi"
)

const (
	httpTimeout = 30 * time.Second
	pushTimeout = 10 * time.Second
	pushJob     = "vodchat"
)

// newClients builds the Helix and comments clients. They share one
// credential source and one request budget.
func newClients(cfg *config.Config, hc *http.Client, metrics *telemetry.Metrics, log *slog.Logger) (*twitchapi.HelixClient, *twitchapi.CommentsClient) {
	var creds twitchapi.Credentials
	if cfg.OAuthToken != "" {
		creds = twitchapi.StaticToken(cfg.OAuthToken)
	} else {
		creds = &twitchapi.TokenSource{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			HTTPClient:   hc,
		}
	}
	burst := max(1, int(cfg.RequestsPerSecond))
	budget := twitchapi.NewBudget(cfg.RequestsPerSecond, burst, cfg.RateLimitLowWater)
	retry := twitchapi.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.BackoffBase,
		MaxInterval:     cfg.BackoffMax,
		Notify:          metrics.RetryNotifier(log.With(slog.String("component", "twitchapi"))),
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: creds,
		ClientID:       cfg.ClientID,
		HTTPClient:     hc,
		BaseURL:        cfg.HelixURL,
		Budget:         budget,
		Retry:          retry,
	}
	comments := &twitchapi.CommentsClient{
		AppTokenSource: creds,
		ClientID:       cfg.ClientID,
		HTTPClient:     hc,
		BaseURL:        cfg.CommentsURL,
		Budget:         budget,
		Retry:          retry,
	}
	return helix, comments
}

// archiveRun plans and runs one batch, prints the summary table and pushes
// metrics. It fails with ExitFailed when any target failed.
func archiveRun(ctx context.Context, cfg *config.Config, formats *format.Set, log *slog.Logger, stdout io.Writer) error {
	runID := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, runID)
	log = telemetry.LoggerWithCorr(ctx, log)

	shutdown, err := telemetry.InitTracing("vod-chat", Version)
	if err != nil {
		log.Warn("tracing disabled", slog.Any("err", err))
	} else {
		defer shutdown()
	}

	metrics := telemetry.NewMetrics(nil)
	hc := &http.Client{Timeout: httpTimeout}
	helix, comments := newClients(cfg, hc, metrics, log)
	var preview io.Writer
	if cfg.Preview {
		preview = stdout
	}
	p := archive.New(archive.Options{
		Catalog:     helix,
		Comments:    comments,
		Metrics:     metrics,
		Logger:      log,
		Concurrency: cfg.Concurrency,
		Preview:     preview,
	})

	batch, err := p.Plan(ctx, archive.Request{
		VideoIDs:  cfg.Videos,
		Channels:  cfg.Channels,
		First:     cfg.First,
		OutputDir: cfg.Output,
		Format:    cfg.Format,
		Timezone:  cfg.Timezone,
		Usernames: cfg.Users,
		Includes:  cfg.Includes,
	}, formats)
	if err != nil {
		var ae *archive.Error
		if errors.As(err, &ae) && ae.Kind == archive.KindConfiguration {
			return usageError(err)
		}
		return &exitError{code: ExitFailed, err: err}
	}
	log.Info("archiving chat",
		slog.Int("jobs", len(batch.Jobs)),
		slog.Int("unresolved_channels", len(batch.Failures)),
		slog.String("format", cfg.Format),
		slog.String("output", cfg.Output))

	start := time.Now()
	results := append(batch.Failures, p.Run(ctx, batch.Jobs)...)
	printSummary(stdout, results)
	log.Info("run finished", slog.Duration("duration", time.Since(start)))

	if cfg.MetricsPushURL != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		if err := metrics.Push(pctx, cfg.MetricsPushURL, pushJob, runID, hc); err != nil {
			log.Warn("metrics push failed", slog.Any("err", err))
		}
		cancel()
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return &exitError{code: ExitFailed, err: fmt.Errorf("%d of %d targets failed", failed, len(results))}
	}
	return nil
}
