package page

import (
	"context"
	"time"
)

// Config defines document configuration
type Config struct {
	Timeout       time.Duration // Per-script execution timeout
	EnableConsole bool          // Capture console.log/warn/error
	IdleDelay     time.Duration // Automatic idle callback delay, 0 disables
	ServiceWorker bool          // Expose a service worker container
	UserAgent     string
	URL           string // location.href seen by scripts
}

// DefaultConfig returns the document defaults
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		EnableConsole: true,
		IdleDelay:     50 * time.Millisecond,
		ServiceWorker: true,
		UserAgent:     "scriptkit/1.0",
		URL:           "https://localhost/",
	}
}

// LogEntry represents console output
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Fetcher retrieves the body of an external script
type Fetcher interface {
	Fetch(ctx context.Context, src string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, src string) ([]byte, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, src string) ([]byte, error) {
	return f(ctx, src)
}
