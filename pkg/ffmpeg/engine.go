// Package ffmpeg orchestrates the external transcoding engine: segment
// concatenation, beat-pulse filtering, normalization, and metadata probes.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// ErrNotFound is returned when neither ffmpeg nor ffprobe can be located.
// Raised at construction, before any job work begins.
var ErrNotFound = errors.New("ffmpeg not found on PATH")

// Baseline output flags shared by every encode this package performs:
// web-playable H.264/AAC with a fast preset and faststart moov placement.
var baselineOutputArgs = []string{
	"-c:v", "libx264",
	"-preset", "fast",
	"-crf", "23",
	"-c:a", "aac",
	"-b:a", "192k",
	"-movflags", "+faststart",
}

// runner executes one external command. Tests substitute it to assert
// constructed argument lists without invoking a real binary.
type runner interface {
	run(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// ffmpeg writes its diagnostics to stderr; carry them verbatim.
		return nil, fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Engine invokes the transcoding binaries at fixed, verified paths.
type Engine struct {
	ffmpegPath  string
	ffprobePath string
	log         *zap.Logger
	run         runner
}

// New locates ffmpeg and ffprobe on PATH and returns an engine bound to
// them. The lookup happens once, here: a missing binary fails construction
// immediately instead of failing the first job minutes in.
func New(log *zap.Logger) (*Engine, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: install ffmpeg or set an explicit path", ErrNotFound)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe missing alongside ffmpeg", ErrNotFound)
	}
	return NewAt(ffmpegPath, ffprobePath, log), nil
}

// NewAt returns an engine using explicit binary paths, for configurations
// that bundle a static build instead of relying on PATH.
func NewAt(ffmpegPath, ffprobePath string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         log,
		run:         execRunner{},
	}
}
