package browser

import (
	"net/url"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/capture"
)

func testTarget(t *testing.T, raw string) capture.Target {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return capture.Target{Raw: raw, URL: u}
}

func TestResponseMetaRecordsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 500, URL: "https://ads.example.net/frame"},
	})
	meta.captureEvent("not an event")

	status, url := meta.snapshot()
	assert.Equal(t, 200, status)
	assert.Equal(t, "https://example.com/", url)

	meta.reset()
	status, url = meta.snapshot()
	assert.Zero(t, status)
	assert.Empty(t, url)
}

func TestResponseMetaIgnoresMissingResponse(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.capture(&network.EventResponseReceived{Type: network.ResourceTypeDocument})
	status, _ := meta.snapshot()
	assert.Zero(t, status)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Quality: 150}.withDefaults()
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
	assert.Equal(t, 100, cfg.Quality)
	assert.Equal(t, 5*time.Second, cfg.CloseTimeout)

	custom := Config{Width: 800, Height: 600, Quality: 80, CloseTimeout: time.Second}.withDefaults()
	assert.Equal(t, 800, custom.Width)
	assert.Equal(t, 600, custom.Height)
	assert.Equal(t, 80, custom.Quality)
	assert.Equal(t, time.Second, custom.CloseTimeout)
}
