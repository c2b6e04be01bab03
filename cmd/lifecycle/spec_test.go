package lifecycle

import (
	"errors"
	"testing"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/models"
)

/**
 * Test that flag-built specs agree with direct construction
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Explicit flags round-trip into the same validated spec
 * - Ephemeral mode fills relay address and local port from config
 * - Username defaults from config in both modes
 */
func TestBuildSpecRoundTrip(t *testing.T) {
	cfg := config.Get()

	t.Run("persistent explicit", func(t *testing.T) {
		f := specFlags{server: "relay.example.com", localPort: 8080, remotePort: 30080, username: "deploy"}
		got, err := f.buildSpec()
		if err != nil {
			t.Fatalf("buildSpec failed: %v", err)
		}
		want, err := models.NewTunnelSpec(models.ModePersistent, "relay.example.com", 8080, 30080, "deploy")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *got != *want {
			t.Errorf("spec = %+v, want %+v", *got, *want)
		}
		if got.Key() != "tunnel-r30080" {
			t.Errorf("key = %q, want tunnel-r30080", got.Key())
		}
	})

	t.Run("persistent default username", func(t *testing.T) {
		f := specFlags{server: "relay.example.com", localPort: 8080, remotePort: 30080}
		got, err := f.buildSpec()
		if err != nil {
			t.Fatalf("buildSpec failed: %v", err)
		}
		if got.Username != cfg.Relay.Username {
			t.Errorf("username = %q, want config default %q", got.Username, cfg.Relay.Username)
		}
	})

	t.Run("ephemeral config defaults", func(t *testing.T) {
		f := specFlags{ephemeral: true}
		got, err := f.buildSpec()
		if err != nil {
			t.Fatalf("buildSpec failed: %v", err)
		}
		want, err := models.NewTunnelSpec(models.ModeEphemeral, cfg.Ephemeral.RelayHost, cfg.Ephemeral.LocalPort, 0, cfg.Relay.Username)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *got != *want {
			t.Errorf("spec = %+v, want %+v", *got, *want)
		}
		if got.Key() != models.EphemeralKey {
			t.Errorf("key = %q, want %q", got.Key(), models.EphemeralKey)
		}
	})

	t.Run("ephemeral explicit overrides", func(t *testing.T) {
		f := specFlags{ephemeral: true, server: "alt.relay.net", localPort: 9090}
		got, err := f.buildSpec()
		if err != nil {
			t.Fatalf("buildSpec failed: %v", err)
		}
		if got.ServerAddress != "alt.relay.net" || got.LocalPort != 9090 {
			t.Errorf("spec = %+v, explicit flags must win over config", *got)
		}
	})

	t.Run("invalid passes through validation", func(t *testing.T) {
		f := specFlags{server: "relay.example.com", remotePort: 30080}
		if _, err := f.buildSpec(); !errors.Is(err, models.ErrInvalidSpec) {
			t.Errorf("missing local port = %v, want ErrInvalidSpec", err)
		}
	})
}
