package beats

// Waveform contains downsampled waveform data for visualization.
type Waveform struct {
	PixelsPerSec int       `json:"pixels_per_sec"`
	Peaks        []float64 `json:"peaks"`
	Troughs      []float64 `json:"troughs"`
}

// GenerateWaveform downsamples mono samples into per-pixel peak/trough
// pairs. pixelsPerSec controls resolution (100 = 100 data points per
// second of audio).
func GenerateWaveform(samples []float32, sampleRate, pixelsPerSec int) *Waveform {
	if pixelsPerSec <= 0 {
		pixelsPerSec = 100
	}
	samplesPerPixel := sampleRate / pixelsPerSec
	if samplesPerPixel < 1 {
		samplesPerPixel = 1
	}

	numPixels := len(samples) / samplesPerPixel
	if numPixels == 0 {
		return nil
	}

	peaks := make([]float64, numPixels)
	troughs := make([]float64, numPixels)
	for i := 0; i < numPixels; i++ {
		start := i * samplesPerPixel
		end := min(start+samplesPerPixel, len(samples))

		maxVal := float32(-1.0)
		minVal := float32(1.0)
		for j := start; j < end; j++ {
			if samples[j] > maxVal {
				maxVal = samples[j]
			}
			if samples[j] < minVal {
				minVal = samples[j]
			}
		}
		peaks[i] = float64(maxVal)
		troughs[i] = float64(minVal)
	}

	return &Waveform{
		PixelsPerSec: pixelsPerSec,
		Peaks:        peaks,
		Troughs:      troughs,
	}
}
