package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	goaudiowav "github.com/go-audio/wav"
)

func TestLoadMonoWAV(t *testing.T) {
	sampleRate := 44100
	n := sampleRate // 1 second

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := goaudiowav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, n)
	for i := range data {
		data[i] = int(10000 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.Close()

	samples, sr, err := LoadMono(path)
	if err != nil {
		t.Fatalf("LoadMono failed: %v", err)
	}
	if sr != sampleRate {
		t.Errorf("sample rate = %d, want %d", sr, sampleRate)
	}
	if len(samples) != n {
		t.Errorf("samples = %d, want %d", len(samples), n)
	}
}

func TestLoadMonoUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadMono(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
