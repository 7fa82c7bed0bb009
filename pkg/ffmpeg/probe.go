package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata describes a probed media file.
type Metadata struct {
	Duration float64      `json:"duration"`
	Bitrate  int64        `json:"bitrate,omitempty"`
	Video    *VideoStream `json:"video,omitempty"`
	Audio    *AudioStream `json:"audio,omitempty"`
}

// VideoStream is the probed video stream summary.
type VideoStream struct {
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    string `json:"fps"`
}

// AudioStream is the probed audio stream summary.
type AudioStream struct {
	Codec      string `json:"codec"`
	SampleRate string `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// ffprobe JSON output shape.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe runs ffprobe against the given path or URL and returns its format
// and stream summary.
func (e *Engine) Probe(ctx context.Context, path string) (*Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	out, err := e.run.run(ctx, e.ffprobePath, args)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}

	meta := &Metadata{}
	meta.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	meta.Bitrate, _ = strconv.ParseInt(probed.Format.BitRate, 10, 64)

	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if meta.Video == nil {
				meta.Video = &VideoStream{
					Codec:  s.CodecName,
					Width:  s.Width,
					Height: s.Height,
					FPS:    s.RFrameRate,
				}
			}
		case "audio":
			if meta.Audio == nil {
				meta.Audio = &AudioStream{
					Codec:      s.CodecName,
					SampleRate: s.SampleRate,
					Channels:   s.Channels,
				}
			}
		}
	}
	return meta, nil
}
