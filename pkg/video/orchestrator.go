// Package video sequences beat analysis, segment generation, composition,
// and beat-sync effects into one music video job.
package video

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/montezlab/beatsync/pkg/beats"
	"github.com/montezlab/beatsync/pkg/fetch"
	"github.com/montezlab/beatsync/pkg/ffmpeg"
	"github.com/montezlab/beatsync/pkg/generate"
	"github.com/montezlab/beatsync/pkg/metrics"
	"github.com/montezlab/beatsync/pkg/prompt"
)

// Per-segment duration the generation model is asked for.
const segmentSeconds = 5

// Request describes one music video job.
type Request struct {
	AudioURL        string `json:"audioUrl"`
	Prompt          string `json:"prompt"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration"`
	SeedImageURL    string `json:"seedImageUrl,omitempty"`
	SeedVideoURL    string `json:"seedVideoUrl,omitempty"`
}

// Result is the sole externally observable artifact of a successful run.
type Result struct {
	Success   bool             `json:"success"`
	VideoURL  string           `json:"videoUrl"`
	Duration  float64          `json:"duration"`
	BPM       int              `json:"bpm"`
	BeatCount int              `json:"beatCount"`
	Segments  int              `json:"segments"`
	Metadata  *ffmpeg.Metadata `json:"metadata"`
	Timestamp string           `json:"timestamp"`
}

// JobError is the structured terminal failure of a run.
type JobError struct {
	Success bool   `json:"success"` // always false
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *JobError) Error() string { return e.Message }

// Analyzer produces a beat analysis for a remote audio URL. Never fails.
type Analyzer interface {
	Analyze(ctx context.Context, audioURL string) *beats.Analysis
}

// Generator produces ordered video segments from prompts.
type Generator interface {
	Generate(ctx context.Context, prompts []string, perSegmentSeconds int, opts generate.Options) ([]generate.Segment, error)
}

// Engine is the transcoding surface the orchestrator needs.
type Engine interface {
	Compose(ctx context.Context, segments []ffmpeg.SegmentInput, audioPath, outputPath string) (*ffmpeg.CompositionResult, error)
	BeatSync(ctx context.Context, inputPath, audioPath string, beatsMs []int, outputPath string) (string, int, error)
	Probe(ctx context.Context, path string) (*ffmpeg.Metadata, error)
	Normalize(ctx context.Context, inputPath, outputPath string) error
}

// stageOutcome tags each best-effort stage's result. Degraded outcomes
// collapse into overall success today; the tag keeps degradation
// recoverable for callers that later want it surfaced.
type stageOutcome struct {
	artifact string
	degraded bool
	reason   error
}

// Orchestrator runs music video jobs stage to stage.
type Orchestrator struct {
	analyzer  Analyzer
	generator Generator
	engine    Engine
	fetcher   *fetch.Client
	tempDir   string
	outputDir string
	log       *zap.Logger
}

// New returns an orchestrator. The engine must already have passed its
// availability check; construct it first so a missing ffmpeg fails fast,
// before any job is accepted.
func New(analyzer Analyzer, generator Generator, engine Engine, fetcher *fetch.Client, tempDir, outputDir string, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		analyzer:  analyzer,
		generator: generator,
		engine:    engine,
		fetcher:   fetcher,
		tempDir:   tempDir,
		outputDir: outputDir,
		log:       log,
	}
}

// Generate runs one job end to end and returns its result, or a *JobError
// on the two hard-failure conditions: beat analysis escaping its safety
// net, or zero segments surviving generation. Every later stage degrades
// to a documented fallback instead of failing the job.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (result *Result, err error) {
	timer := prometheus.NewTimer(metrics.JobDuration)
	defer timer.ObserveDuration()

	// The analysis service contractually never fails, but the job boundary
	// does not trust that blindly.
	defer func() {
		if r := recover(); r != nil {
			metrics.Jobs.WithLabelValues("failed").Inc()
			result = nil
			err = &JobError{
				Message: fmt.Sprintf("music video generation panicked: %v", r),
				Details: string(debug.Stack()),
			}
		}
	}()

	log := o.log.With(zap.String("title", req.Title))
	log.Info("starting synced music video generation",
		zap.Int("duration", req.DurationSeconds),
		zap.String("audioUrl", truncate(req.AudioURL, 50)),
		zap.String("prompt", truncate(req.Prompt, 50)))

	for _, dir := range []string{o.tempDir, o.outputDir} {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			metrics.Jobs.WithLabelValues("failed").Inc()
			return nil, &JobError{Message: "create working directories: " + mkErr.Error(), Details: mkErr.Error()}
		}
	}

	// Beat analysis. Always yields a usable result.
	log.Info("analyzing music beats")
	analysis := o.analyzer.Analyze(ctx, req.AudioURL)
	log.Info("beat analysis complete",
		zap.Int("bpm", analysis.BPM),
		zap.Int("beats", len(analysis.Beats)),
		zap.Float64("confidence", analysis.Confidence))

	// Local audio copy for muxing; on failure the engine fetches the
	// remote URL directly.
	audioPath := o.downloadAudio(ctx, req.AudioURL, log)

	// Segment generation: the only stage after analysis that can still
	// fail the whole job.
	numSegments := int(math.Ceil(float64(req.DurationSeconds) / segmentSeconds))
	if numSegments < 1 {
		numSegments = 1
	}
	log.Info("generating video segments", zap.Int("count", numSegments))

	prompts := prompt.ForSegments(req.Prompt, numSegments, analysis.BPM)
	segments, genErr := o.generator.Generate(ctx, prompts, segmentSeconds, generate.Options{
		SeedImageURL: req.SeedImageURL,
		SeedVideoURL: req.SeedVideoURL,
	})
	if genErr != nil {
		log.Error("segment generation failed", zap.Error(genErr))
		metrics.Jobs.WithLabelValues("failed").Inc()
		return nil, &JobError{Message: genErr.Error(), Details: fmt.Sprintf("%+v", genErr)}
	}

	// Segment download, best-effort per segment: a clip that cannot be
	// fetched keeps its remote URL and the engine pulls it directly.
	inputs := o.downloadSegments(ctx, segments, log)

	// A caller-supplied seed video carries arbitrary codecs; re-encode it to
	// the baseline set so concatenation with generated segments holds.
	if req.SeedVideoURL != "" && len(inputs) > 1 {
		inputs[0] = o.normalizeSeed(ctx, inputs[0], log)
	}

	// Composition, falling back to the first segment as-is.
	composed := o.compose(ctx, inputs, audioPath, log)

	// Beat-sync effects, falling back to the composed-but-unsynced video.
	synced := o.beatSync(ctx, composed.artifact, audioPath, analysis.Beats, log)

	// Metadata probe, falling back to an empty object.
	meta := o.probe(ctx, synced.artifact, log)

	duration := float64(req.DurationSeconds)
	if meta.Duration > 0 {
		duration = math.Min(duration, meta.Duration)
	}

	metrics.Jobs.WithLabelValues("succeeded").Inc()
	result = &Result{
		Success:   true,
		VideoURL:  synced.artifact,
		Duration:  duration,
		BPM:       analysis.BPM,
		BeatCount: len(analysis.Beats),
		Segments:  len(segments),
		Metadata:  meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	log.Info("music video generation complete",
		zap.String("videoUrl", result.VideoURL),
		zap.Int("segments", result.Segments),
		zap.Int("beatCount", result.BeatCount))
	return result, nil
}

func (o *Orchestrator) downloadAudio(ctx context.Context, audioURL string, log *zap.Logger) string {
	dest := filepath.Join(o.tempDir, fmt.Sprintf("jobaudio_%d%s", time.Now().UnixMilli(), filepath.Ext(audioURL)))
	if err := o.fetcher.Download(ctx, audioURL, dest); err != nil {
		log.Warn("audio download failed, engine will fetch the remote URL",
			zap.String("stage", "download_audio"), zap.Error(err))
		metrics.StageFallbacks.WithLabelValues("download_audio").Inc()
		return audioURL
	}
	return dest
}

func (o *Orchestrator) downloadSegments(ctx context.Context, segments []generate.Segment, log *zap.Logger) []ffmpeg.SegmentInput {
	inputs := make([]ffmpeg.SegmentInput, len(segments))
	for i, seg := range segments {
		dest := filepath.Join(o.tempDir, fmt.Sprintf("segment_%d_%d.mp4", seg.Index, time.Now().UnixMilli()))
		if err := o.fetcher.Download(ctx, seg.URL, dest); err != nil {
			log.Warn("segment download failed, using remote URL",
				zap.String("stage", "download_segments"),
				zap.Int("segment", seg.Index), zap.Error(err))
			metrics.StageFallbacks.WithLabelValues("download_segments").Inc()
			inputs[i] = ffmpeg.SegmentInput{Path: seg.URL, DurationSeconds: seg.DurationSeconds}
			continue
		}
		inputs[i] = ffmpeg.SegmentInput{Path: dest, DurationSeconds: seg.DurationSeconds}
	}
	return inputs
}

func (o *Orchestrator) normalizeSeed(ctx context.Context, in ffmpeg.SegmentInput, log *zap.Logger) ffmpeg.SegmentInput {
	dest := filepath.Join(o.tempDir, fmt.Sprintf("seed_normalized_%d.mp4", time.Now().UnixMilli()))
	if err := o.engine.Normalize(ctx, in.Path, dest); err != nil {
		log.Warn("seed video normalization failed, using it as-is",
			zap.String("stage", "normalize_seed"), zap.Error(err))
		metrics.StageFallbacks.WithLabelValues("normalize_seed").Inc()
		return in
	}
	return ffmpeg.SegmentInput{Path: dest, DurationSeconds: in.DurationSeconds}
}

func (o *Orchestrator) compose(ctx context.Context, inputs []ffmpeg.SegmentInput, audioPath string, log *zap.Logger) stageOutcome {
	// A single segment needs no concatenation.
	if len(inputs) == 1 {
		return stageOutcome{artifact: inputs[0].Path}
	}

	outputPath := filepath.Join(o.outputDir, fmt.Sprintf("music-video_%d.mp4", time.Now().UnixMilli()))
	composed, err := o.engine.Compose(ctx, inputs, audioPath, outputPath)
	if err != nil {
		log.Warn("video composition failed, using first segment",
			zap.String("stage", "compose"), zap.Error(err))
		metrics.StageFallbacks.WithLabelValues("compose").Inc()
		return stageOutcome{artifact: inputs[0].Path, degraded: true, reason: err}
	}
	return stageOutcome{artifact: composed.OutputPath}
}

func (o *Orchestrator) beatSync(ctx context.Context, inputPath, audioPath string, beatsMs []int, log *zap.Logger) stageOutcome {
	outputPath := filepath.Join(o.outputDir, fmt.Sprintf("music-video-synced_%d.mp4", time.Now().UnixMilli()))
	synced, applied, err := o.engine.BeatSync(ctx, inputPath, audioPath, beatsMs, outputPath)
	if err != nil {
		log.Warn("beat sync failed, using composed video",
			zap.String("stage", "beat_sync"), zap.Error(err))
		metrics.StageFallbacks.WithLabelValues("beat_sync").Inc()
		return stageOutcome{artifact: inputPath, degraded: true, reason: err}
	}
	log.Info("beat sync applied", zap.Int("beats", applied))
	return stageOutcome{artifact: synced}
}

func (o *Orchestrator) probe(ctx context.Context, path string, log *zap.Logger) *ffmpeg.Metadata {
	meta, err := o.engine.Probe(ctx, path)
	if err != nil {
		log.Warn("could not extract metadata",
			zap.String("stage", "probe"), zap.Error(err))
		metrics.StageFallbacks.WithLabelValues("probe").Inc()
		return &ffmpeg.Metadata{}
	}
	return meta
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
