package httpx

import (
	"testing"
	"time"
)

func TestTimeoutFallsBackForNonPositiveSeconds(t *testing.T) {
	tests := []struct {
		seconds  int
		fallback time.Duration
		want     time.Duration
	}{
		{seconds: 45, fallback: time.Minute, want: 45 * time.Second},
		{seconds: 15, fallback: time.Minute, want: 15 * time.Second},
		{seconds: 0, fallback: 15 * time.Second, want: 15 * time.Second},
		{seconds: -3, fallback: defaultExternalHTTPTimeout, want: defaultExternalHTTPTimeout},
	}
	for _, tt := range tests {
		if got := Timeout(tt.seconds, tt.fallback); got != tt.want {
			t.Fatalf("Timeout(%d, %s) = %s, want %s", tt.seconds, tt.fallback, got, tt.want)
		}
	}
}

func TestConfigureSharedClientThenLLMClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	if got := ConfigureExternalHTTPClient(0); got != defaultExternalHTTPTimeout {
		t.Fatalf("unset external timeout = %s, want %s", got, defaultExternalHTTPTimeout)
	}
	if got := ConfigureExternalHTTPClient(15); got != 15*time.Second || ExternalHTTPClient().Timeout != 15*time.Second {
		t.Fatalf("external timeout = %s, shared client = %s, want 15s", got, ExternalHTTPClient().Timeout)
	}

	llmClient := NewClient(45)
	if llmClient.Timeout != 45*time.Second {
		t.Fatalf("LLM client timeout = %s, want 45s", llmClient.Timeout)
	}
	if ExternalHTTPClient().Timeout != 15*time.Second {
		t.Fatalf("LLM client changed the shared timeout to %s", ExternalHTTPClient().Timeout)
	}
}

func TestNewClientUsesOwnTimeout(t *testing.T) {
	c := NewClient(45)
	if c == externalHTTPClient {
		t.Fatal("NewClient must not return the shared client")
	}
	if c.Timeout != 45*time.Second {
		t.Fatalf("NewClient(45).Timeout = %s, want 45s", c.Timeout)
	}
	if got := NewClient(0).Timeout; got != externalHTTPClient.Timeout {
		t.Fatalf("NewClient(0).Timeout = %s, want shared timeout %s", got, externalHTTPClient.Timeout)
	}
	if ExternalHTTPClient() != externalHTTPClient {
		t.Fatal("ExternalHTTPClient must return the shared client")
	}
}
