package fetch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewWithHTTPClient(hc)
}

func TestDownloadSuccess(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", "https://cdn.example.com/track.wav",
		httpmock.NewBytesResponder(200, []byte("RIFF....WAVE")))

	dest := filepath.Join(t.TempDir(), "track.wav")
	err := c.Download(context.Background(), "https://cdn.example.com/track.wav", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVE"), data)
}

func TestDownloadNon200RemovesPartial(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", "https://cdn.example.com/missing.mp4",
		httpmock.NewStringResponder(404, "not found"))

	dest := filepath.Join(t.TempDir(), "missing.mp4")
	err := c.Download(context.Background(), "https://cdn.example.com/missing.mp4", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed on failure")
}

func TestDownloadRejectsScheme(t *testing.T) {
	c := New()
	dest := filepath.Join(t.TempDir(), "out")
	err := c.Download(context.Background(), "ftp://example.com/file", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestDownloadTransportErrorRemovesPartial(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", "https://cdn.example.com/broken",
		httpmock.NewErrorResponder(assert.AnError))

	dest := filepath.Join(t.TempDir(), "broken")
	err := c.Download(context.Background(), "https://cdn.example.com/broken", dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
