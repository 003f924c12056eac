package client

import (
	"log/slog"
	"time"
)

// Observer is the observability sink for outbound calls. It receives the
// method and relative path before each call and the status code after.
// Header and body dumps only arrive when the client's debug flag is set.
// Implementations must never affect control flow.
type Observer interface {
	CallStarted(method, path string)
	CallFinished(method, path string, status int, duration time.Duration)

	// Verbose receives raw request/response headers and bodies under the
	// debug flag. title names the payload (e.g. "request headers").
	Verbose(title string, payload []byte)
}

// slogObserver reports calls through the default slog logger.
type slogObserver struct{}

func (slogObserver) CallStarted(method, path string) {
	slog.Debug("api_call_start", "method", method, "path", path)
}

func (slogObserver) CallFinished(method, path string, status int, duration time.Duration) {
	slog.Info("api_call", "method", method, "path", path, "status", status, "duration", duration)
}

func (slogObserver) Verbose(title string, payload []byte) {
	slog.Debug("api_call_detail", "section", title, "payload", string(payload))
}
