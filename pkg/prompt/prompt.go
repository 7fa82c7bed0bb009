// Package prompt builds per-segment generation prompts from one base
// concept, tempo, and position in the narrative arc.
package prompt

import "fmt"

// Narrative vocabulary applied in segment order; indexes past the end reuse
// the final entry.
var narrativeSections = []string{
	"intro",
	"build-up",
	"climax",
	"resolution",
	"outro",
}

// Tempo-conditioned style descriptors. Tracks above the threshold read as
// high-energy; everything else as slow cinematic.
const (
	tempoThresholdBPM = 110

	highEnergyStyle    = "fast cuts, dynamic motion, high energy"
	slowCinematicStyle = "slow cinematic movement, smooth transitions"
)

// ForSegment returns the generation prompt for one segment. It is fully
// deterministic: identical arguments always produce byte-identical output.
// The trailing parenthetical carries section, style, tempo, position, and
// aspect ratio for the downstream model.
func ForSegment(basePrompt string, segmentIndex, totalSegments, bpm int) string {
	section := narrativeSections[min(segmentIndex, len(narrativeSections)-1)]

	style := slowCinematicStyle
	if bpm > tempoThresholdBPM {
		style = highEnergyStyle
	}

	return fmt.Sprintf("%s (%s section, %s, BPM %d, segment %d/%d, 16:9)",
		basePrompt, section, style, bpm, segmentIndex+1, totalSegments)
}

// ForSegments returns prompts for all segments of a run in index order.
func ForSegments(basePrompt string, totalSegments, bpm int) []string {
	prompts := make([]string, totalSegments)
	for i := range prompts {
		prompts[i] = ForSegment(basePrompt, i, totalSegments, bpm)
	}
	return prompts
}
