package browser

import "time"

const (
	defaultWidth        = 1920
	defaultHeight       = 1080
	defaultQuality      = 100
	defaultCloseTimeout = 5 * time.Second
)

// Config controls viewport and screenshot options shared by both backends.
type Config struct {
	Width     int
	Height    int
	FullPage  bool
	Quality   int
	UserAgent string
	// CloseTimeout bounds how long Close waits for abandoned tabs.
	CloseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = defaultQuality
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	return c
}
