// Package beats extracts tempo and beat timestamps from audio samples and
// wraps the full URL-to-analysis flow behind a never-fails service boundary.
package beats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Beat detection parameters.
const (
	frameSize       = 2048 // samples per analysis frame
	hopSize         = 512  // samples advanced between frames
	energyThreshold = 0.3  // normalized energy floor for a peak

	minBPM     = 60
	maxBPM     = 200
	defaultBPM = 120
)

// Analysis sources.
const (
	SourceDetected  = "detected"
	SourceEstimated = "estimated"
	SourceError     = "error"
)

// Analysis is the result of one beat-detection pass.
//
// Beats is always sorted ascending and bounded by DurationMs; BPM is always
// clamped to [60, 200] even on fallback.
type Analysis struct {
	BPM        int       `json:"bpm"`
	Beats      []int     `json:"beats"` // millisecond timestamps
	Duration   float64   `json:"duration"`
	DurationMs int       `json:"durationMs"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Error      string    `json:"error,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	SampleRate int       `json:"sampleRate,omitempty"`
	BitDepth   int       `json:"bitDepth,omitempty"`
	Waveform   *Waveform `json:"waveform,omitempty"`
}

// Extract runs energy-based peak detection over mono samples and returns a
// tempo estimate plus beat timestamps. It never returns an error: any
// failure degrades to a usable default result tagged SourceError.
func Extract(mono []float32, sampleRate, targetDurationMs int) (analysis *Analysis) {
	defer func() {
		if r := recover(); r != nil {
			analysis = &Analysis{
				BPM:        defaultBPM,
				Beats:      []int{},
				DurationMs: targetDurationMs,
				Duration:   float64(targetDurationMs) / 1000,
				Confidence: 0,
				Source:     SourceError,
				Error:      fmt.Sprintf("beat detection failed: %v", r),
			}
		}
	}()

	// Root-mean-square energy per overlapping frame.
	var energies []float64
	for i := 0; i+frameSize < len(mono); i += hopSize {
		var sum float64
		for j := 0; j < frameSize; j++ {
			s := float64(mono[i+j])
			sum += s * s
		}
		energies = append(energies, math.Sqrt(sum/frameSize))
	}

	var timestamps []int
	if len(energies) > 0 {
		// Min-max normalize to [0, 1].
		maxE := floats.Max(energies)
		minE := floats.Min(energies)
		span := maxE - minE
		if span == 0 {
			span = 1
		}
		norm := make([]float64, len(energies))
		for i, e := range energies {
			norm[i] = (e - minE) / span
		}

		// A beat candidate is a strict local maximum above the threshold.
		frameMs := float64(hopSize) / float64(sampleRate) * 1000
		for i := 1; i < len(norm)-1; i++ {
			if norm[i] > norm[i-1] && norm[i] > norm[i+1] && norm[i] > energyThreshold {
				ts := int(math.Round(float64(i) * frameMs))
				if ts < targetDurationMs {
					timestamps = append(timestamps, ts)
				}
			}
		}
	}

	if len(timestamps) < 2 {
		return estimatedGrid(targetDurationMs)
	}

	intervals := make([]float64, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals[i-1] = float64(timestamps[i] - timestamps[i-1])
	}
	mean := stat.Mean(intervals, nil)

	bpm := defaultBPM
	if mean > 0 {
		bpm = clampBPM(int(math.Round(60000 / mean)))
	}

	confidence := math.Min(1, float64(len(timestamps))/(float64(targetDurationMs)/500))

	return &Analysis{
		BPM:        bpm,
		Beats:      timestamps,
		Duration:   float64(targetDurationMs) / 1000,
		DurationMs: targetDurationMs,
		Confidence: confidence,
		Source:     SourceDetected,
	}
}

// estimatedGrid synthesizes an evenly spaced beat grid at the default tempo
// across the full duration, used when too few peaks survive detection.
func estimatedGrid(targetDurationMs int) *Analysis {
	interval := 60000.0 / defaultBPM
	var beats []int
	for ts := interval; ts < float64(targetDurationMs); ts += interval {
		beats = append(beats, int(math.Round(ts)))
	}
	return &Analysis{
		BPM:        defaultBPM,
		Beats:      beats,
		Duration:   float64(targetDurationMs) / 1000,
		DurationMs: targetDurationMs,
		Confidence: 0.3,
		Source:     SourceEstimated,
	}
}

func clampBPM(bpm int) int {
	if bpm < minBPM {
		return minBPM
	}
	if bpm > maxBPM {
		return maxBPM
	}
	return bpm
}

// AlignToSegment filters beats that fall inside one segment of an evenly
// divided track and re-bases them onto the segment-local timeline.
func AlignToSegment(allBeats []int, segmentIndex, totalSegments int) []int {
	if totalSegments <= 0 || len(allBeats) == 0 {
		return nil
	}
	trackEnd := float64(allBeats[len(allBeats)-1])
	if trackEnd == 0 {
		trackEnd = 30000
	}
	segDur := trackEnd / float64(totalSegments)
	start := float64(segmentIndex) * segDur
	end := start + segDur

	var aligned []int
	for _, b := range allBeats {
		if float64(b) >= start && float64(b) < end {
			aligned = append(aligned, b-int(start))
		}
	}
	return aligned
}
