package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoSegments is returned when generation completes without a single
// usable segment.
var ErrNoSegments = errors.New("no video segments generated successfully")

// Batching parameters: the upstream model rate-limits bursts, so requests
// go out in fixed batches with a pause between them.
const (
	batchSize  = 3
	batchPause = time.Second
)

// Segment is one generated clip, ordered by Index within a run.
type Segment struct {
	URL             string
	LocalPath       string
	Prompt          string
	DurationSeconds float64
	Index           int
}

// Options carries optional conditioning inputs for a generation run.
type Options struct {
	SeedImageURL string // conditions the first segment's opening frame
	SeedVideoURL string // replaces the first segment entirely
}

// Generator fans prompts out to the video model in settled batches.
type Generator struct {
	model Model
	log   *zap.Logger
	pause time.Duration
}

// New returns a segment generator. A nil logger is replaced with a no-op
// logger.
func New(model Model, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{model: model, log: log, pause: batchPause}
}

// Generate produces one segment per prompt, in index order. Prompts are
// processed in batches of three; within a batch all calls run concurrently
// and every call is allowed to settle — one segment's failure never cancels
// its siblings. Failed segments other than index 0 are logged and skipped;
// a failure at index 0 fails the run, as does an empty result set.
func (g *Generator) Generate(ctx context.Context, prompts []string, perSegmentSeconds int, opts Options) ([]Segment, error) {
	if len(prompts) == 0 {
		return nil, ErrNoSegments
	}

	g.log.Info("starting multi-segment video generation",
		zap.Int("segments", len(prompts)),
		zap.Int("durationPerSegment", perSegmentSeconds))

	type outcome struct {
		url string
		err error
	}
	outcomes := make([]outcome, len(prompts))

	// A caller-supplied seed video short-circuits segment 0 entirely.
	start := 0
	if opts.SeedVideoURL != "" {
		outcomes[0] = outcome{url: opts.SeedVideoURL}
		start = 1
		g.log.Info("using seed video for segment 0", zap.String("url", opts.SeedVideoURL))
	}

	for batchStart := start; batchStart < len(prompts); batchStart += batchSize {
		batchEnd := min(batchStart+batchSize, len(prompts))

		var grp errgroup.Group
		grp.SetLimit(batchSize)
		for i := batchStart; i < batchEnd; i++ {
			i := i
			grp.Go(func() error {
				in := Input{Prompt: prompts[i], DurationSeconds: perSegmentSeconds}
				if i == 0 && opts.SeedImageURL != "" {
					in.FirstFrameImage = opts.SeedImageURL
				}

				url, err := g.model.Generate(ctx, in)
				outcomes[i] = outcome{url: url, err: err}
				if err != nil {
					g.log.Error("segment generation failed",
						zap.Int("segment", i), zap.Error(err))
				} else {
					g.log.Info("segment generated",
						zap.Int("segment", i), zap.String("url", url))
				}
				// Errors are recorded, never returned: returning one would
				// let the group cancel siblings mid-batch.
				return nil
			})
		}
		_ = grp.Wait()

		if batchEnd < len(prompts) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.pause):
			}
		}
	}

	if err := outcomes[0].err; err != nil {
		return nil, fmt.Errorf("first segment must succeed: %w", err)
	}

	segments := make([]Segment, 0, len(prompts))
	for i, o := range outcomes {
		if o.err != nil || o.url == "" {
			continue
		}
		prompt := ""
		if i < len(prompts) {
			prompt = prompts[i]
		}
		segments = append(segments, Segment{
			URL:             o.url,
			Prompt:          prompt,
			DurationSeconds: float64(perSegmentSeconds),
			Index:           i,
		})
	}

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	if segments[0].Index != 0 {
		return nil, fmt.Errorf("first segment must succeed: empty output for segment 0")
	}

	g.log.Info("all segments generated", zap.Int("count", len(segments)))
	return segments, nil
}

// GenerateSingle produces one long-form clip from a single prompt, the
// fallback when segmentation is not wanted.
func (g *Generator) GenerateSingle(ctx context.Context, prompt string, durationSeconds int) (*Segment, error) {
	url, err := g.model.Generate(ctx, Input{Prompt: prompt, DurationSeconds: durationSeconds})
	if err != nil {
		return nil, fmt.Errorf("generate single video: %w", err)
	}
	return &Segment{
		URL:             url,
		Prompt:          prompt,
		DurationSeconds: float64(min(durationSeconds, maxModelDurationSeconds)),
		Index:           0,
	}, nil
}
