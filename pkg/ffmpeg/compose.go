package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SegmentInput is one clip to concatenate, local path or URL plus its
// declared duration.
type SegmentInput struct {
	Path            string
	DurationSeconds float64
}

// CompositionResult is the terminal value of a successful composition.
type CompositionResult struct {
	OutputPath string
	Success    bool
}

// Compose concatenates the ordered segments into one video at outputPath,
// re-encoded to the baseline codec set. When audioPath is non-empty it is
// muxed in as the audio stream and the output is trimmed to the shorter of
// the two inputs, so the final file never carries a silent or black tail.
//
// The intermediate concat script is removed on success; on failure both the
// script and any partial output are removed and the engine's error is
// propagated verbatim.
func (e *Engine) Compose(ctx context.Context, segments []SegmentInput, audioPath, outputPath string) (*CompositionResult, error) {
	if len(segments) == 0 {
		return nil, errors.New("no video segments provided")
	}

	e.log.Info("starting video composition",
		zap.Int("segments", len(segments)),
		zap.Bool("hasAudio", audioPath != ""))

	concatPath := filepath.Join(filepath.Dir(outputPath), fmt.Sprintf("concat_%d.txt", time.Now().UnixMilli()))
	if err := os.WriteFile(concatPath, []byte(concatScript(segments)), 0o644); err != nil {
		return nil, fmt.Errorf("write concat script: %w", err)
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-i", concatPath,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args, baselineOutputArgs...)
	if audioPath != "" {
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-shortest",
		)
	}
	args = append(args, outputPath)

	if _, err := e.run.run(ctx, e.ffmpegPath, args); err != nil {
		os.Remove(concatPath)
		os.Remove(outputPath)
		e.log.Error("composition failed", zap.Error(err))
		return nil, err
	}

	os.Remove(concatPath)
	e.log.Info("composition complete", zap.String("output", outputPath))
	return &CompositionResult{OutputPath: outputPath, Success: true}, nil
}

// concatScript renders the concat-demuxer script: one file/duration pair
// per segment, in order.
func concatScript(segments []SegmentInput) string {
	var b strings.Builder
	for _, seg := range segments {
		dur := seg.DurationSeconds
		if dur <= 0 {
			dur = 5
		}
		fmt.Fprintf(&b, "file '%s'\n", seg.Path)
		fmt.Fprintf(&b, "duration %g\n", dur)
	}
	return b.String()
}

// Normalize re-encodes any input to the baseline codec set, used to bring
// caller-supplied seed videos in line with generated segments.
func (e *Engine) Normalize(ctx context.Context, inputPath, outputPath string) error {
	args := []string{"-y", "-i", inputPath}
	args = append(args, baselineOutputArgs...)
	args = append(args, outputPath)

	if _, err := e.run.run(ctx, e.ffmpegPath, args); err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}
