// Package generate turns per-segment prompts into generated video clips
// through an external generative model, with batched concurrency and
// partial-failure tolerance.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoAPIToken is returned when the model client is constructed without
// credentials. Raised before any generation work begins.
var ErrNoAPIToken = errors.New("model API token not configured")

// Input is one generation request to the video model.
type Input struct {
	Prompt          string
	DurationSeconds int
	FirstFrameImage string // optional conditioning image URL
}

// Model generates one playable video URL per call.
type Model interface {
	Generate(ctx context.Context, in Input) (string, error)
}

// Model limits for minimax-style segment generation.
const (
	maxModelDurationSeconds = 5
	defaultModelName        = "minimax/video-01"
	defaultAPIBase          = "https://api.replicate.com/v1"

	pollInterval = 2 * time.Second
)

// ReplicateModel calls a Replicate-style predictions API.
type ReplicateModel struct {
	token   string
	model   string
	apiBase string
	http    *http.Client
}

// NewReplicateModel returns a model client for the given API token. The
// token is required; a missing one is a configuration error, not a
// per-segment failure.
func NewReplicateModel(token string) (*ReplicateModel, error) {
	if token == "" {
		return nil, ErrNoAPIToken
	}
	return &ReplicateModel{
		token:   token,
		model:   defaultModelName,
		apiBase: defaultAPIBase,
		http:    &http.Client{},
	}, nil
}

// NewReplicateModelAt is NewReplicateModel with an explicit API base URL
// and HTTP client, used by tests.
func NewReplicateModelAt(token, apiBase string, hc *http.Client) (*ReplicateModel, error) {
	m, err := NewReplicateModel(token)
	if err != nil {
		return nil, err
	}
	m.apiBase = apiBase
	if hc != nil {
		m.http = hc
	}
	return m, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Generate creates a prediction and polls it to completion, returning the
// generated video URL. Duration is capped at the model maximum.
func (m *ReplicateModel) Generate(ctx context.Context, in Input) (string, error) {
	duration := min(in.DurationSeconds, maxModelDurationSeconds)

	input := map[string]any{
		"prompt":           in.Prompt,
		"prompt_optimizer": true,
		"duration":         duration,
	}
	if in.FirstFrameImage != "" {
		input["first_frame_image"] = in.FirstFrameImage
	}

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", m.apiBase, m.model)
	pred, err := m.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}

	for {
		switch pred.Status {
		case "succeeded":
			return outputURL(pred.Output)
		case "failed", "canceled":
			if pred.Error != "" {
				return "", fmt.Errorf("generation %s: %s", pred.Status, pred.Error)
			}
			return "", fmt.Errorf("generation %s", pred.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		pred, err = m.do(ctx, http.MethodGet, fmt.Sprintf("%s/predictions/%s", m.apiBase, pred.ID), nil)
		if err != nil {
			return "", err
		}
	}
}

func (m *ReplicateModel) do(ctx context.Context, method, url string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model API status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var pred prediction
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return &pred, nil
}

// outputURL extracts a single URL from the prediction output, which models
// return either as a plain string or a one-element array.
func outputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("prediction succeeded with empty output")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0], nil
	}
	return "", fmt.Errorf("unexpected prediction output: %s", truncate(string(raw), 100))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
