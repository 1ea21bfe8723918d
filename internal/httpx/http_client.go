// Package httpx holds the shared HTTP clients used for calls leaving the
// process (language-model servers, ticket trackers).
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient sets the shared client timeout. Non-positive
// values restore the default.
func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := Timeout(timeoutSeconds, defaultExternalHTTPTimeout)
	externalHTTPClient.Timeout = timeout
	return timeout
}

// NewClient returns a client with its own timeout, for callers whose budget
// differs from the shared one.
func NewClient(timeoutSeconds int) *http.Client {
	return &http.Client{
		Timeout:   Timeout(timeoutSeconds, externalHTTPClient.Timeout),
		Transport: externalHTTPClient.Transport,
	}
}

func Timeout(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
