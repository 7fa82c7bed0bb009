package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	goaudiowav "github.com/go-audio/wav"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montezlab/beatsync/pkg/beats"
	"github.com/montezlab/beatsync/pkg/fetch"
	"github.com/montezlab/beatsync/pkg/ffmpeg"
	"github.com/montezlab/beatsync/pkg/generate"
)

type fakeAnalyzer struct {
	analysis *beats.Analysis
	panics   bool
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audioURL string) *beats.Analysis {
	if f.panics {
		panic("analysis blew past its safety net")
	}
	return f.analysis
}

type fakeGenerator struct {
	segments []generate.Segment
	err      error

	gotPrompts []string
	gotOpts    generate.Options
}

func (f *fakeGenerator) Generate(ctx context.Context, prompts []string, perSegmentSeconds int, opts generate.Options) ([]generate.Segment, error) {
	f.gotPrompts = prompts
	f.gotOpts = opts
	return f.segments, f.err
}

type fakeEngine struct {
	composeErr   error
	syncErr      error
	probeErr     error
	normalizeErr error
	meta         *ffmpeg.Metadata
	writeOutputs bool

	composeInputs []ffmpeg.SegmentInput
	composeAudio  string
	syncInput     string
	syncBeats     []int
	probed        string
	normalized    []string
}

func (f *fakeEngine) Compose(ctx context.Context, segments []ffmpeg.SegmentInput, audioPath, outputPath string) (*ffmpeg.CompositionResult, error) {
	f.composeInputs = segments
	f.composeAudio = audioPath
	if f.composeErr != nil {
		return nil, f.composeErr
	}
	if f.writeOutputs {
		if err := os.WriteFile(outputPath, []byte("composed"), 0o644); err != nil {
			return nil, err
		}
	}
	return &ffmpeg.CompositionResult{OutputPath: outputPath, Success: true}, nil
}

func (f *fakeEngine) BeatSync(ctx context.Context, inputPath, audioPath string, beatsMs []int, outputPath string) (string, int, error) {
	f.syncInput = inputPath
	f.syncBeats = beatsMs
	if f.syncErr != nil {
		return "", 0, f.syncErr
	}
	if f.writeOutputs {
		if err := os.WriteFile(outputPath, []byte("synced"), 0o644); err != nil {
			return "", 0, err
		}
	}
	return outputPath, len(beatsMs), nil
}

func (f *fakeEngine) Normalize(ctx context.Context, inputPath, outputPath string) error {
	f.normalized = append(f.normalized, inputPath)
	return f.normalizeErr
}

func (f *fakeEngine) Probe(ctx context.Context, path string) (*ffmpeg.Metadata, error) {
	f.probed = path
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if f.meta != nil {
		return f.meta, nil
	}
	return &ffmpeg.Metadata{Duration: 9.5}, nil
}

func detectedAnalysis() *beats.Analysis {
	return &beats.Analysis{
		BPM:        120,
		Beats:      []int{0, 500, 1000, 1500},
		Confidence: 0.8,
		Source:     beats.SourceDetected,
	}
}

func mockFetcher(t *testing.T) *fetch.Client {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, `=~^https://assets\.test/`,
		httpmock.NewBytesResponder(200, []byte("media-bytes")))
	return fetch.NewWithHTTPClient(&http.Client{Transport: transport})
}

func testSegments(n int) []generate.Segment {
	segs := make([]generate.Segment, n)
	for i := range segs {
		segs[i] = generate.Segment{
			URL:             fmt.Sprintf("https://assets.test/clip-%d.mp4", i),
			DurationSeconds: 5,
			Index:           i,
		}
	}
	return segs
}

// clickTrackWAV encodes a mono 16-bit WAV with one decaying tone burst at
// each beat, loud and long enough for energy peak detection to lock on.
func clickTrackWAV(t *testing.T, durationSec float64, bpm float64) []byte {
	t.Helper()

	sampleRate := 44100
	n := int(durationSec * float64(sampleRate))
	samples := make([]int, n)

	burstLen := 3000
	interval := 60.0 / bpm * float64(sampleRate)
	for start := 0.0; start < float64(n); start += interval {
		s := int(start)
		for j := 0; j < burstLen && s+j < n; j++ {
			decay := 1 - float64(j)/float64(burstLen)
			samples[s+j] = int(0.9 * decay * math.Sin(2*math.Pi*1000*float64(j)/float64(sampleRate)) * 32767)
		}
	}

	f, err := os.CreateTemp(t.TempDir(), "click-*.wav")
	require.NoError(t, err)
	enc := goaudiowav.NewEncoder(f, sampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	f.Close()

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

// TestGenerateWithRealAnalysis runs the pipeline against the real beat
// analysis service fed a 30-second click track at 100 BPM.
func TestGenerateWithRealAnalysis(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://assets.test/click.wav",
		httpmock.NewBytesResponder(200, clickTrackWAV(t, 30, 100)))
	transport.RegisterResponder(http.MethodGet, `=~^https://assets\.test/clip-`,
		httpmock.NewBytesResponder(200, []byte("media-bytes")))
	fetcher := fetch.NewWithHTTPClient(&http.Client{Transport: transport})

	tempDir := t.TempDir()
	eng := &fakeEngine{writeOutputs: true}
	o := New(
		beats.NewService(fetcher, tempDir, nil),
		&fakeGenerator{segments: testSegments(2)},
		eng, fetcher,
		tempDir, t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/click.wav",
		Prompt:          "test",
		Title:           "click track",
		DurationSeconds: 10,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.InDelta(t, 100, res.BPM, 5)
	assert.GreaterOrEqual(t, res.Segments, 1)
	assert.GreaterOrEqual(t, res.BeatCount, 1)

	info, statErr := os.Stat(res.VideoURL)
	require.NoError(t, statErr, "videoUrl must point at a real file")
	assert.Greater(t, info.Size(), int64(0))
	t.Logf("bpm=%d beats=%d video=%s", res.BPM, res.BeatCount, res.VideoURL)
}

func TestGenerateEndToEnd(t *testing.T) {
	gen := &fakeGenerator{segments: testSegments(2)}
	eng := &fakeEngine{}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		gen, eng, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "neon city",
		Title:           "demo",
		DurationSeconds: 10,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.Equal(t, 120, res.BPM)
	assert.Equal(t, 4, res.BeatCount)
	assert.Equal(t, 2, res.Segments)
	assert.Equal(t, 9.5, res.Duration, "metadata duration below request wins")
	assert.NotEmpty(t, res.Timestamp)
	assert.Contains(t, res.VideoURL, "music-video-synced_")

	// 10s of video at 5s per clip means two prompts.
	require.Len(t, gen.gotPrompts, 2)
	assert.Contains(t, gen.gotPrompts[0], "neon city")

	// Segments were handed to composition as local files, not URLs.
	require.Len(t, eng.composeInputs, 2)
	for _, in := range eng.composeInputs {
		assert.False(t, strings.HasPrefix(in.Path, "https://"), "segment %s not downloaded", in.Path)
	}
	assert.Equal(t, []int{0, 500, 1000, 1500}, eng.syncBeats)
	t.Logf("final video: %s", res.VideoURL)
}

func TestGenerateCompositionFallsBackToFirstSegment(t *testing.T) {
	eng := &fakeEngine{composeErr: errors.New("concat demuxer exploded")}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		&fakeGenerator{segments: testSegments(3)},
		eng, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "desert dunes",
		DurationSeconds: 15,
	})
	require.NoError(t, err)

	assert.True(t, res.Success, "composition failure degrades, never fails the job")
	// Beat sync then runs on the first segment itself.
	assert.Equal(t, eng.composeInputs[0].Path, eng.syncInput)
	assert.Contains(t, eng.syncInput, "segment_0_")
}

func TestGenerateSyncAndProbeFallbacks(t *testing.T) {
	eng := &fakeEngine{
		syncErr:  errors.New("filter graph rejected"),
		probeErr: errors.New("ffprobe missing"),
	}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		&fakeGenerator{segments: testSegments(2)},
		eng, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "ocean waves",
		DurationSeconds: 10,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Contains(t, res.VideoURL, "music-video_", "falls back to the composed, unsynced video")
	assert.NotContains(t, res.VideoURL, "music-video-synced_")
	require.NotNil(t, res.Metadata)
	assert.Zero(t, res.Metadata.Duration, "probe failure yields empty metadata")
	assert.Equal(t, 10.0, res.Duration, "requested duration stands without metadata")
}

func TestGenerateSingleSegmentSkipsComposition(t *testing.T) {
	eng := &fakeEngine{}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		&fakeGenerator{segments: testSegments(1)},
		eng, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "single shot",
		DurationSeconds: 5,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Nil(t, eng.composeInputs, "one clip needs no concatenation")
	assert.Contains(t, eng.syncInput, "segment_0_")
}

func TestGenerateFailsWhenGenerationFails(t *testing.T) {
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		&fakeGenerator{err: generate.ErrNoSegments},
		&fakeEngine{}, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "doomed",
		DurationSeconds: 10,
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.False(t, jobErr.Success)
	assert.NotEmpty(t, jobErr.Message)
}

func TestGenerateRecoversAnalyzerPanic(t *testing.T) {
	o := New(
		&fakeAnalyzer{panics: true},
		&fakeGenerator{segments: testSegments(1)},
		&fakeEngine{}, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "panic test",
		DurationSeconds: 5,
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Contains(t, jobErr.Message, "panicked")
	assert.NotEmpty(t, jobErr.Details, "details carry the stack")
}

func TestGenerateDownloadFailureKeepsRemoteURLs(t *testing.T) {
	// No responders at all: every download fails.
	transport := httpmock.NewMockTransport()
	fetcher := fetch.NewWithHTTPClient(&http.Client{Transport: transport})

	eng := &fakeEngine{}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		&fakeGenerator{segments: testSegments(2)},
		eng, fetcher,
		t.TempDir(), t.TempDir(), nil,
	)

	res, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "offline assets",
		DurationSeconds: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, eng.composeInputs, 2)
	for i, in := range eng.composeInputs {
		assert.Equal(t, fmt.Sprintf("https://assets.test/clip-%d.mp4", i), in.Path)
	}
	assert.Equal(t, "https://assets.test/track.wav", eng.composeAudio)
}

func TestGenerateSeedVideoNormalized(t *testing.T) {
	gen := &fakeGenerator{segments: testSegments(2)}
	eng := &fakeEngine{}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		gen, eng, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	_, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "seeded concat",
		DurationSeconds: 10,
		SeedVideoURL:    "https://assets.test/seed.mp4",
	})
	require.NoError(t, err)

	// The downloaded seed clip is re-encoded before concatenation.
	require.Len(t, eng.normalized, 1)
	assert.Contains(t, eng.normalized[0], "segment_0_")
	assert.Contains(t, eng.composeInputs[0].Path, "seed_normalized_")
}

func TestGenerateSeedOptionsReachGenerator(t *testing.T) {
	gen := &fakeGenerator{segments: testSegments(1)}
	o := New(
		&fakeAnalyzer{analysis: detectedAnalysis()},
		gen, &fakeEngine{}, mockFetcher(t),
		t.TempDir(), t.TempDir(), nil,
	)

	_, err := o.Generate(context.Background(), Request{
		AudioURL:        "https://assets.test/track.wav",
		Prompt:          "seeded",
		DurationSeconds: 5,
		SeedImageURL:    "https://assets.test/seed.png",
		SeedVideoURL:    "https://assets.test/seed.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.test/seed.png", gen.gotOpts.SeedImageURL)
	assert.Equal(t, "https://assets.test/seed.mp4", gen.gotOpts.SeedVideoURL)
}
