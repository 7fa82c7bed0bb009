package beats

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/montezlab/beatsync/pkg/audio"
	"github.com/montezlab/beatsync/pkg/fetch"
	"github.com/montezlab/beatsync/pkg/wav"
)

// Fallback analysis shape when the whole pipeline fails.
const (
	fallbackDurationMs = 30000
)

// Service downloads a track and runs beat analysis on it. Analyze never
// fails: every error path degrades to a safe default result.
type Service struct {
	fetcher *fetch.Client
	tempDir string
	log     *zap.Logger
}

// NewService returns a beat analysis service writing temp files under
// tempDir. A nil logger is replaced with a no-op logger.
func NewService(fetcher *fetch.Client, tempDir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{fetcher: fetcher, tempDir: tempDir, log: log}
}

// Analyze fetches audioURL, decodes it, and extracts beat markers. On any
// failure it returns the safe default analysis instead of an error, so
// callers can always proceed with a usable (possibly degenerate) result.
// The downloaded temp file is deleted on every exit path.
func (s *Service) Analyze(ctx context.Context, audioURL string) *Analysis {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return s.fallback(fmt.Errorf("create temp dir: %w", err))
	}

	tempPath := filepath.Join(s.tempDir, fmt.Sprintf("audio_%d_%s%s",
		time.Now().UnixMilli(), uuid.NewString()[:8], audioExt(audioURL)))

	// Registered before any fallible step; delete failures are swallowed so
	// cleanup can never mask the analysis outcome.
	defer func() {
		_ = os.Remove(tempPath)
	}()

	s.log.Info("downloading audio for beat analysis", zap.String("url", truncate(audioURL, 50)))

	if err := s.fetcher.Download(ctx, audioURL, tempPath); err != nil {
		return s.fallback(err)
	}

	s.log.Info("analyzing audio for beats", zap.String("path", tempPath))

	analysis, err := AnalyzeFile(tempPath)
	if err != nil {
		return s.fallback(err)
	}

	s.log.Info("beat analysis complete",
		zap.Int("bpm", analysis.BPM),
		zap.Int("beats", len(analysis.Beats)),
		zap.Float64("duration", analysis.Duration),
		zap.Float64("confidence", analysis.Confidence))

	return analysis
}

// AnalyzeFile decodes a local audio file and extracts beat markers. Unlike
// Analyze it surfaces decode errors, for callers that want them.
func AnalyzeFile(path string) (*Analysis, error) {
	var (
		mono       []float32
		sampleRate int
		channels   = 1
		bitDepth   = 16
	)

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		decoded, err := wav.DecodeFile(path)
		if err != nil {
			return nil, fmt.Errorf("analyze WAV file: %w", err)
		}
		mono = decoded.Mono()
		sampleRate = decoded.SampleRate
		channels = decoded.Channels
		bitDepth = decoded.BitDepth
	} else {
		var err error
		mono, sampleRate, err = audio.LoadMono(path)
		if err != nil {
			return nil, fmt.Errorf("analyze audio file: %w", err)
		}
	}

	durationMs := int(math.Round(float64(len(mono)) / float64(sampleRate) * 1000))

	analysis := Extract(mono, sampleRate, durationMs)
	analysis.Duration = math.Round(float64(durationMs)/10) / 100
	analysis.Channels = channels
	analysis.SampleRate = sampleRate
	analysis.BitDepth = bitDepth
	analysis.Waveform = GenerateWaveform(mono, sampleRate, 100)
	return analysis, nil
}

func (s *Service) fallback(err error) *Analysis {
	s.log.Error("beat analysis failed", zap.Error(err))
	return &Analysis{
		BPM:        defaultBPM,
		Beats:      []int{},
		Duration:   float64(fallbackDurationMs) / 1000,
		DurationMs: fallbackDurationMs,
		Confidence: 0,
		Source:     SourceError,
		Error:      err.Error(),
	}
}

func audioExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".wav"
	}
	ext := strings.ToLower(filepath.Ext(u.Path))
	switch ext {
	case ".wav", ".mp3":
		return ext
	default:
		return ".wav"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
