package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Pulse shape applied at each beat.
const (
	// maxFilterBeats bounds the length of the generated filter expression;
	// an OR-chain over hundreds of beats blows past the engine's filter
	// grammar comfort zone.
	maxFilterBeats = 40

	pulseWidthSeconds = 0.1
	pulseBrightness   = 0.12
	pulseContrast     = 1.25
)

// Neutral filter used when no beats exist, so the output format stays
// consistent whether or not pulsing happens.
const neutralFilter = "scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2"

// BeatSync re-encodes the video at inputPath with a brightness/contrast
// pulse at each of the first 40 beat timestamps, writing to outputPath.
// With an audio path the video maps from input 0 and audio from input 1,
// trimmed to the shorter stream, matching Compose's audio contract. It
// returns the output path and the number of beats actually applied.
func (e *Engine) BeatSync(ctx context.Context, inputPath, audioPath string, beatsMs []int, outputPath string) (string, int, error) {
	applied := min(len(beatsMs), maxFilterBeats)

	e.log.Info("creating beat-synced video",
		zap.String("video", inputPath),
		zap.Int("beats", applied),
		zap.String("output", outputPath))

	args := []string{"-y", "-i", inputPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args, "-vf", beatPulseFilter(beatsMs[:applied]))
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
		os.Remove(outputPath)
		e.log.Error("beat sync failed", zap.Error(err))
		return "", 0, err
	}

	e.log.Info("beat-synced video created", zap.String("output", outputPath))
	return outputPath, applied, nil
}

// beatPulseFilter builds the video filter: a brightness/contrast bump keyed
// on a "near a beat" time predicate, or the neutral resize filter when no
// beats exist.
func beatPulseFilter(beatsMs []int) string {
	if len(beatsMs) == 0 {
		return neutralFilter
	}

	// Logical OR of between(t, beat, beat+0.1) for each beat; any nonzero
	// sum counts as true inside if().
	terms := make([]string, len(beatsMs))
	for i, ms := range beatsMs {
		start := float64(ms) / 1000
		terms[i] = fmt.Sprintf("between(t,%.3f,%.3f)", start, start+pulseWidthSeconds)
	}
	pred := strings.Join(terms, "+")

	return fmt.Sprintf("eq=eval=frame:brightness='if(%s,%g,0)':contrast='if(%s,%g,1)'",
		pred, pulseBrightness, pred, pulseContrast)
}
