package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tunnel-keeper/internal/models"
)

const defaultBanner = `Forwarding HTTP traffic from (https://\S+)`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunnel.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write log failed: %v", err)
	}
	return path
}

/**
 * Test endpoint extraction from the client log
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - A single banner line yields its URL
 * - With several banner lines the most recent one wins, because the relay
 *   reassigns the endpoint on reconnect
 */
func TestResolveLastBannerWins(t *testing.T) {
	resolver, err := NewEndpointResolver(defaultBanner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logPath := writeLog(t, `Warning: Permanently added 'serveo.net' to the list of known hosts.
Forwarding HTTP traffic from https://old-name.serveo.net
Connection reset by peer
Forwarding HTTP traffic from https://new-name.serveo.net
`)

	endpoint, err := resolver.Resolve(logPath)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if endpoint.URL != "https://new-name.serveo.net" {
		t.Errorf("endpoint = %q, want the most recent banner", endpoint.URL)
	}
}

func TestResolveSingleBanner(t *testing.T) {
	resolver, err := NewEndpointResolver(defaultBanner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logPath := writeLog(t, "Forwarding HTTP traffic from https://abc.serveo.net\n")

	endpoint, err := resolver.Resolve(logPath)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if endpoint.URL != "https://abc.serveo.net" {
		t.Errorf("endpoint = %q", endpoint.URL)
	}
}

/**
 * Test the not-yet-available transition state
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - A missing log file is a normal pre-connection state, not a failure
 * - A log without any banner line reports the same state
 */
func TestResolveNotYetAvailable(t *testing.T) {
	resolver, err := NewEndpointResolver(defaultBanner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 日志文件尚不存在
	missing := filepath.Join(t.TempDir(), "missing.log")
	if _, err := resolver.Resolve(missing); !errors.Is(err, models.ErrNotYetAvailable) {
		t.Errorf("missing log: err = %v, want ErrNotYetAvailable", err)
	}

	// 日志存在但还没有banner行
	logPath := writeLog(t, "Warning: Permanently added 'serveo.net' to the list of known hosts.\n")
	if _, err := resolver.Resolve(logPath); !errors.Is(err, models.ErrNotYetAvailable) {
		t.Errorf("no banner: err = %v, want ErrNotYetAvailable", err)
	}
}

func TestNewEndpointResolverBadPattern(t *testing.T) {
	if _, err := NewEndpointResolver("("); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
