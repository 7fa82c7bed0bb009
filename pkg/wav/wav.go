// Package wav decodes uncompressed RIFF/WAVE PCM containers.
//
// The decoder is deliberately self-contained: beat analysis has to work on
// raw bytes without an external audio library, so the chunk walk and sample
// normalization live here.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ErrFormat is returned when the buffer is not a RIFF/WAVE container.
var ErrFormat = errors.New("not a valid WAV file")

// ErrMissingData is returned when the container has no data chunk.
var ErrMissingData = errors.New("no audio data found in WAV file")

// DecodedAudio holds normalized PCM samples plus container metadata.
// Samples are interleaved across channels in [-1, 1].
type DecodedAudio struct {
	Samples         []float32
	SampleRate      int
	Channels        int
	BitDepth        int
	DurationSeconds float64
}

// Frames returns the number of per-channel sample frames.
func (d *DecodedAudio) Frames() int {
	if d.Channels == 0 {
		return 0
	}
	return len(d.Samples) / d.Channels
}

// Mono returns a mono mix of the decoded samples. Stereo input is averaged
// per frame; mono input is returned as-is.
func (d *DecodedAudio) Mono() []float32 {
	if d.Channels <= 1 {
		return d.Samples
	}
	mono := make([]float32, d.Frames())
	for i := range mono {
		var sum float32
		for ch := 0; ch < d.Channels; ch++ {
			sum += d.Samples[i*d.Channels+ch]
		}
		mono[i] = sum / float32(d.Channels)
	}
	return mono
}

// DecodeFile reads and decodes a WAV file from disk.
func DecodeFile(path string) (*DecodedAudio, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read WAV file: %w", err)
	}
	return Decode(buf)
}

// Decode parses a WAV byte buffer into normalized float samples.
//
// The container must open with the RIFF and WAVE tags at their fixed
// offsets. Sub-chunks (4-byte tag + 4-byte little-endian size) are walked
// sequentially; "fmt " supplies channel count, sample rate, and bit depth,
// "data" supplies the PCM payload, anything else is skipped by its declared
// size. 16-bit and 24-bit little-endian signed PCM are supported.
func Decode(buf []byte) (*DecodedAudio, error) {
	if len(buf) < 12 {
		return nil, ErrFormat
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return nil, ErrFormat
	}

	// Defaults if fmt precedes data but carries zeros (defensive; a real
	// encoder always writes these).
	sampleRate := 44100
	channels := 1
	bitDepth := 16

	offset := 12
	for offset+8 <= len(buf) {
		chunkID := string(buf[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(buf[offset+4 : offset+8]))
		offset += 8

		switch chunkID {
		case "fmt ":
			if offset+16 > len(buf) {
				return nil, ErrFormat
			}
			channels = int(binary.LittleEndian.Uint16(buf[offset+2 : offset+4]))
			sampleRate = int(binary.LittleEndian.Uint32(buf[offset+4 : offset+8]))
			bitDepth = int(binary.LittleEndian.Uint16(buf[offset+14 : offset+16]))
			offset += chunkSize
		case "data":
			if offset+chunkSize > len(buf) {
				chunkSize = len(buf) - offset
			}
			return decodeData(buf[offset:offset+chunkSize], sampleRate, channels, bitDepth)
		default:
			offset += chunkSize
		}
	}

	return nil, ErrMissingData
}

// Full-scale divisors for normalization.
const (
	fullScale16 = 32768
	fullScale24 = 8388608
)

func decodeData(data []byte, sampleRate, channels, bitDepth int) (*DecodedAudio, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrFormat, channels)
	}

	bytesPerSample := bitDepth / 8
	frameSize := channels * bytesPerSample

	var samples []float32
	switch bitDepth {
	case 16:
		frames := len(data) / frameSize
		samples = make([]float32, 0, frames*channels)
		for i := 0; i+frameSize <= len(data); i += frameSize {
			for ch := 0; ch < channels; ch++ {
				s := int16(binary.LittleEndian.Uint16(data[i+ch*2:]))
				samples = append(samples, float32(s)/fullScale16)
			}
		}
	case 24:
		frames := len(data) / frameSize
		samples = make([]float32, 0, frames*channels)
		for i := 0; i+frameSize <= len(data); i += frameSize {
			for ch := 0; ch < channels; ch++ {
				off := i + ch*3
				// Assemble 3 little-endian bytes into a signed 24-bit value.
				s := int32(data[off]) | int32(data[off+1])<<8 | int32(data[off+2])<<16
				if s&0x800000 != 0 {
					s -= 1 << 24
				}
				samples = append(samples, float32(s)/fullScale24)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrFormat, bitDepth)
	}

	frames := len(samples) / channels
	return &DecodedAudio{
		Samples:         samples,
		SampleRate:      sampleRate,
		Channels:        channels,
		BitDepth:        bitDepth,
		DurationSeconds: float64(frames) / float64(sampleRate),
	}, nil
}
