// Package audio loads source tracks into mono float samples for analysis.
//
// WAV goes through the self-contained container decoder; MP3 goes through
// go-mp3 with encoder/decoder delay compensation so beat timestamps line up
// with what a player would render.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/montezlab/beatsync/pkg/wav"
)

// LoadMono loads an audio file and returns mono float32 samples plus the
// sample rate. Stereo sources are averaged per frame.
func LoadMono(path string) ([]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		decoded, err := wav.DecodeFile(path)
		if err != nil {
			return nil, 0, err
		}
		return decoded.Mono(), decoded.SampleRate, nil
	case ".mp3":
		return loadMP3Mono(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// go-mp3 emits more leading samples than a browser decoder; measured offset
// between its first transient and the reference playback position.
const mp3DecoderDelay = 924

// Encoder delay to assume when the LAME header is absent or unreadable.
const defaultEncoderDelay = 576

func loadMP3Mono(path string) ([]float32, int, error) {
	totalDelay := lameEncoderDelay(path) + mp3DecoderDelay

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open MP3: %w", err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("create MP3 decoder: %w", err)
	}

	// go-mp3 outputs 16-bit signed stereo interleaved PCM.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("decode MP3: %w", err)
	}

	frames := len(pcm) / 4
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		off := i * 4
		left := int16(binary.LittleEndian.Uint16(pcm[off:]))
		right := int16(binary.LittleEndian.Uint16(pcm[off+2:]))
		samples[i] = (float32(left) + float32(right)) / 2 / 32768.0
	}

	if len(samples) > totalDelay {
		samples = samples[totalDelay:]
	}
	return samples, dec.SampleRate(), nil
}

// lameEncoderDelay reads the encoder delay from a LAME/Xing header when one
// is present in the first 4KB of the file.
func lameEncoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil || n < 200 {
		return defaultEncoderDelay
	}
	buf = buf[:n]

	idx := bytes.Index(buf, []byte("LAME"))
	if idx == -1 {
		return defaultEncoderDelay
	}

	// 21 bytes past the LAME marker sits a 24-bit field: encoder delay in
	// the upper 12 bits, padding in the lower 12.
	off := idx + 21
	if off+3 > len(buf) {
		return defaultEncoderDelay
	}
	delay := (int(buf[off]) << 4) | (int(buf[off+1]) >> 4)
	if delay < 0 || delay > 4096 {
		return defaultEncoderDelay
	}
	return delay
}
