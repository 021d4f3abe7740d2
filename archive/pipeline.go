package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/vod-chat/chat"
	"github.com/onnwee/vod-chat/format"
	"github.com/onnwee/vod-chat/telemetry"
	"github.com/onnwee/vod-chat/twitchapi"
)

// DefaultFirst is how many recent VODs are archived per channel when the
// request does not say.
const DefaultFirst = 5

// CommentSource opens a comment stream for a video.
type CommentSource interface {
	Comments(videoID string) chat.Pager
}

// Options configures a Pipeline.
type Options struct {
	Catalog     Catalog
	Comments    CommentSource
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	Concurrency int       // jobs in flight, default 1
	Preview     io.Writer // receives the first format's rendered lines
}

// Pipeline plans and runs archival jobs.
type Pipeline struct {
	catalog     Catalog
	comments    CommentSource
	resolver    *Resolver
	metrics     *telemetry.Metrics
	log         *slog.Logger
	concurrency int
	preview     *lineWriter
}

// New returns a pipeline. Catalog and Comments are required.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		catalog:     opts.Catalog,
		comments:    opts.Comments,
		resolver:    &Resolver{Catalog: opts.Catalog},
		metrics:     opts.Metrics,
		log:         opts.Logger,
		concurrency: opts.Concurrency,
	}
	if p.metrics == nil {
		p.metrics = telemetry.NewMetrics(nil)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With(slog.String("component", "archive"))
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if opts.Preview != nil {
		p.preview = &lineWriter{w: opts.Preview}
	}
	return p
}

// Request is what the user asked for, before validation.
type Request struct {
	VideoIDs  []string
	Channels  []string
	First     int
	OutputDir string
	Format    string
	Timezone  string
	Usernames []string
	Includes  string
}

// Batch is a validated set of jobs plus the channels that failed to resolve.
type Batch struct {
	Jobs     []Job
	Failures []Result
}

// Plan validates req and expands it into jobs. Configuration errors affect
// the whole batch and are returned before any network call. A channel that
// cannot be resolved becomes a failed Result; the rest of the batch proceeds.
func (p *Pipeline) Plan(ctx context.Context, req Request, formats *format.Set) (*Batch, error) {
	formatName := strings.TrimSpace(req.Format)
	if formatName == "" {
		formatName = "default"
	}
	specs, err := formats.Resolve(formatName)
	if err != nil {
		return nil, &Error{Target: "format " + formatName, Kind: KindConfiguration, Op: "plan", Err: err}
	}
	loc, err := chat.ParseLocation(req.Timezone)
	if err != nil {
		return nil, &Error{Target: "timezone " + req.Timezone, Kind: KindConfiguration, Op: "plan", Err: err}
	}
	if len(req.VideoIDs) == 0 && len(req.Channels) == 0 {
		return nil, &Error{Kind: KindConfiguration, Op: "plan", Err: errors.New("no videos or channels requested")}
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = "."
	}
	first := req.First
	if first <= 0 {
		first = DefaultFirst
	}

	base := Job{
		OutputDir:  outDir,
		FormatName: strings.ToLower(formatName),
		Formats:    specs,
		Filter:     chat.NewFilter(req.Usernames, req.Includes),
		Location:   loc,
	}
	batch := &Batch{}
	seen := make(map[string]struct{})
	add := func(id, channel string) {
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		job := base
		job.VideoID = id
		job.Channel = channel
		batch.Jobs = append(batch.Jobs, job)
	}

	for _, raw := range req.VideoIDs {
		id := twitchapi.NormalizeVideoID(raw)
		if id == "" {
			return nil, &Error{Target: "video " + raw, Kind: KindConfiguration, Op: "plan", Err: errors.New("empty video id")}
		}
		add(id, "")
	}
	for _, raw := range req.Channels {
		channel := strings.ToLower(strings.TrimSpace(raw))
		if channel == "" {
			continue
		}
		ids, err := p.resolver.Resolve(ctx, channel, first)
		if err != nil {
			e := newError("channel "+channel, "resolve", err)
			p.log.Error("channel resolution failed", slog.String("channel", channel), slog.String("kind", e.Kind.String()), slog.Any("err", err))
			batch.Failures = append(batch.Failures, Result{Target: e.Target, Channel: channel, State: StateFailed, Err: e})
			continue
		}
		if len(ids) == 0 {
			p.log.Warn("channel has no archived videos", slog.String("channel", channel))
		}
		for _, id := range ids {
			add(id, channel)
		}
	}
	return batch, nil
}

// Run executes jobs with bounded concurrency. A failing job never affects
// its siblings; results are returned in job order.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = p.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) runJob(ctx context.Context, job Job) (res Result) {
	start := time.Now()
	log := telemetry.LoggerWithCorr(ctx, p.log).With(slog.String("vod_id", job.VideoID))
	res = Result{Target: job.Target(), VideoID: job.VideoID, Channel: job.Channel, State: StatePending}

	ctx, span := telemetry.StartSpan(ctx, "archive.job",
		attribute.String("vod_id", job.VideoID),
		attribute.String("format", job.FormatName),
	)
	defer func() {
		res.Duration = time.Since(start)
		var err error
		if res.Err != nil {
			err = res.Err
		}
		telemetry.EndSpan(span, err)
	}()

	fail := func(op string, err error) Result {
		res.Err = newError(res.Target, op, err)
		log.Error("archive failed",
			slog.String("state", res.State.String()),
			slog.String("op", op),
			slog.String("kind", res.Err.Kind.String()),
			slog.Any("err", err))
		res.State = StateFailed
		p.metrics.JobsFailed.WithLabelValues(res.Err.Kind.String()).Inc()
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail("start", err)
	}
	p.metrics.JobsStarted.Inc()
	p.metrics.JobsInFlight.Inc()
	defer p.metrics.JobsInFlight.Dec()

	// PENDING: decide which formats still need writing.
	var (
		todo  []*format.Spec
		paths []string
	)
	for _, spec := range job.Formats {
		name, err := spec.FileName(job.VideoID)
		if err != nil {
			return fail("file name", err)
		}
		path := filepath.Join(job.OutputDir, name)
		if removed, err := sweepPending(path, time.Now()); err != nil {
			log.Warn("failed to remove stale pending files", slog.String("path", path), slog.Any("err", err))
		} else if len(removed) > 0 {
			log.Info("removed stale pending files", slog.Any("files", removed))
		}
		done, err := isComplete(path, spec)
		if err != nil {
			return fail("inspect output", err)
		}
		if done {
			res.Skipped = append(res.Skipped, path)
			continue
		}
		todo = append(todo, spec)
		paths = append(paths, path)
	}
	if len(todo) == 0 {
		res.State = StateDone
		p.metrics.JobsSkipped.Inc()
		log.Info("already archived, skipping", slog.Any("files", res.Skipped))
		return res
	}

	res.State = StateFetching
	video, err := p.video(ctx, job.VideoID)
	if err != nil {
		return fail("fetch video", err)
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return fail("create output dir", err)
	}

	outs := make([]*output, 0, len(todo))
	defer func() {
		for _, o := range outs {
			if err := o.discard(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("failed to remove pending file", slog.String("path", o.path), slog.Any("err", err))
			}
		}
	}()
	for i, spec := range todo {
		o, err := openOutput(spec, paths[i])
		if err != nil {
			return fail("open output", err)
		}
		outs = append(outs, o)
		header, err := spec.RenderHeader(video)
		if err != nil {
			return fail("render header", err)
		}
		if err := o.WriteString(header); err != nil {
			return fail("write", err)
		}
	}
	log.Info("archiving chat", slog.String("format", job.FormatName), slog.Int("files", len(outs)))

	pager := p.comments.Comments(job.VideoID)
	index := 0
	for !pager.Done() {
		if err := ctx.Err(); err != nil {
			return fail("fetch comments", err)
		}
		var msgs []chat.Message
		var err error
		telemetry.TimeFunc(p.metrics.PageFetchDuration, func() { msgs, err = pager.Next(ctx) })
		if errors.Is(err, chat.ErrPagerDone) {
			break
		}
		if err != nil {
			return fail("fetch comments", err)
		}
		res.Pages++
		p.metrics.PagesFetched.Inc()

		res.State = StateRendering
		for _, m := range msgs {
			res.Fetched++
			p.metrics.MessagesFetched.Inc()
			ts, err := chat.Normalize(m.Timing, video.CreatedAt, job.Location)
			if err != nil {
				p.metrics.MessagesDropped.WithLabelValues(telemetry.DropNoTiming).Inc()
				log.Debug("dropping message without timing", slog.String("message_id", m.ID))
				continue
			}
			if !job.Filter.Passes(m) {
				p.metrics.MessagesDropped.WithLabelValues(telemetry.DropFiltered).Inc()
				continue
			}
			index++
			data := format.CommentData{Message: m, Time: ts, Index: index, Video: video}
			for i, o := range outs {
				line, err := o.spec.RenderComment(data)
				if err != nil {
					return fail("render comment", err)
				}
				if err := o.WriteString(line + "\n"); err != nil {
					return fail("write", err)
				}
				if i == 0 && p.preview != nil {
					p.preview.writeLine(line)
				}
			}
			res.Written++
			p.metrics.MessagesWritten.Inc()
		}
		for _, o := range outs {
			if err := o.flush(); err != nil {
				return fail("write", err)
			}
		}
		res.State = StateFetching
		log.Debug("page archived", slog.Int("page", res.Pages), slog.Int("messages", len(msgs)))
	}

	// a cancel after the last page must not commit
	if err := ctx.Err(); err != nil {
		return fail("finalize", err)
	}
	res.State = StateFinalizing
	for _, o := range outs {
		footer, err := o.spec.RenderFooter(video)
		if err != nil {
			return fail("render footer", err)
		}
		if err := o.WriteString(footer); err != nil {
			return fail("write", err)
		}
		if err := o.commit(); err != nil {
			return fail("finalize", err)
		}
		res.Files = append(res.Files, o.path)
	}

	res.State = StateDone
	p.metrics.JobsSucceeded.Inc()
	p.metrics.JobDuration.Observe(time.Since(start).Seconds())
	log.Info("chat archived",
		slog.Any("files", res.Files),
		slog.Int("pages", res.Pages),
		slog.Int("messages", res.Written),
		slog.Duration("elapsed", time.Since(start)))
	return res
}

func (p *Pipeline) video(ctx context.Context, id string) (format.Video, error) {
	meta, err := p.catalog.GetVideo(ctx, id)
	if err != nil {
		return format.Video{}, err
	}
	if meta == nil {
		return format.Video{}, fmt.Errorf("video %s: %w", id, twitchapi.ErrNotFound)
	}
	v := format.Video{
		ID:           meta.ID,
		Title:        meta.Title,
		URL:          meta.URL,
		Channel:      meta.UserName,
		ChannelLogin: meta.UserLogin,
		CreatedAt:    meta.Created(),
		Duration:     meta.Length(),
	}
	if v.ID == "" {
		v.ID = id
	}
	return v, nil
}

// lineWriter serializes preview lines from concurrent jobs.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) writeLine(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, s+"\n")
}
