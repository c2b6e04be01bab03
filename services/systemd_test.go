package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/models"
)

// fakeSystemctl drives the supervisor without touching the host's systemd.
type fakeSystemctl struct {
	calls       [][]string
	active      map[string]bool
	failStart   bool
	unavailable bool
}

func newFakeSystemctl() *fakeSystemctl {
	return &fakeSystemctl{active: make(map[string]bool)}
}

func (f *fakeSystemctl) Run(args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.unavailable {
		return "", fmt.Errorf("%w: executable not found", models.ErrSupervisorUnavailable)
	}
	switch args[0] {
	case "start":
		if f.failStart {
			return "", errors.New("Job for unit failed")
		}
		f.active[args[1]] = true
	case "stop":
		delete(f.active, args[1])
	case "is-active":
		if f.active[args[1]] {
			return "active", nil
		}
		return "inactive", errors.New("exit status 3")
	}
	return "", nil
}

func (f *fakeSystemctl) count(op string) int {
	n := 0
	for _, call := range f.calls {
		if call[0] == op {
			n++
		}
	}
	return n
}

func testSupervisor(t *testing.T, runner SystemctlRunner) *SystemdSupervisor {
	t.Helper()
	return &SystemdSupervisor{
		runner:       runner,
		unitDir:      t.TempDir(),
		restartSec:   10,
		startTimeout: time.Second,
	}
}

func testSpec(t *testing.T) *models.TunnelSpec {
	t.Helper()
	spec, err := models.NewTunnelSpec(models.ModePersistent, "relay.example.com", 8080, 30080, "tunnel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return spec
}

/**
 * Test idempotent unit materialization
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - First call writes the unit file and reloads the daemon
 * - Second call with identical content does nothing
 * - Unit content carries the forwarding directive and restart policy
 */
func TestEnsureDefinedIdempotent(t *testing.T) {
	fake := newFakeSystemctl()
	s := testSupervisor(t, fake)
	spec := testSpec(t)

	unit, err := s.EnsureDefined(spec)
	if err != nil {
		t.Fatalf("EnsureDefined failed: %v", err)
	}
	if unit != "tunnel-r30080.service" {
		t.Errorf("unit = %q", unit)
	}

	content, err := os.ReadFile(filepath.Join(s.unitDir, unit))
	if err != nil {
		t.Fatalf("unit file not written: %v", err)
	}
	for _, want := range []string{
		"-R 30080:0.0.0.0:8080",
		"tunnel@relay.example.com",
		"Restart=on-failure",
		"RestartSec=10",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("unit file missing %q:\n%s", want, content)
		}
	}
	if fake.count("daemon-reload") != 1 {
		t.Fatalf("daemon-reload count = %d, want 1", fake.count("daemon-reload"))
	}

	// 内容未变，第二次调用不应再reload
	if _, err := s.EnsureDefined(spec); err != nil {
		t.Fatalf("second EnsureDefined failed: %v", err)
	}
	if fake.count("daemon-reload") != 1 {
		t.Errorf("daemon-reload count after repeat = %d, want 1", fake.count("daemon-reload"))
	}
}

func TestStartReportsStartFailed(t *testing.T) {
	fake := newFakeSystemctl()
	fake.failStart = true
	s := testSupervisor(t, fake)

	err := s.Start("tunnel-r30080.service")
	if !errors.Is(err, models.ErrStartFailed) {
		t.Errorf("err = %v, want ErrStartFailed", err)
	}
}

func TestStartSuccess(t *testing.T) {
	fake := newFakeSystemctl()
	s := testSupervisor(t, fake)

	if err := s.Start("tunnel-r30080.service"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsActive("tunnel-r30080.service") {
		t.Error("unit should be active after Start")
	}
}

func TestSupervisorUnavailable(t *testing.T) {
	fake := newFakeSystemctl()
	fake.unavailable = true
	s := testSupervisor(t, fake)

	if err := s.Start("tunnel-r30080.service"); !errors.Is(err, models.ErrSupervisorUnavailable) {
		t.Errorf("Start err = %v, want ErrSupervisorUnavailable", err)
	}
	if err := s.Enable("tunnel-r30080.service"); !errors.Is(err, models.ErrSupervisorUnavailable) {
		t.Errorf("Enable err = %v, want ErrSupervisorUnavailable", err)
	}
}

func TestRemoveUnit(t *testing.T) {
	fake := newFakeSystemctl()
	s := testSupervisor(t, fake)
	spec := testSpec(t)

	unit, err := s.EnsureDefined(spec)
	if err != nil {
		t.Fatalf("EnsureDefined failed: %v", err)
	}
	if err := s.Start(unit); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.RemoveUnit(unit); err != nil {
		t.Fatalf("RemoveUnit failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.unitDir, unit)); !os.IsNotExist(err) {
		t.Error("unit file still present after RemoveUnit")
	}
	if s.IsActive(unit) {
		t.Error("unit still active after RemoveUnit")
	}
	if fake.count("disable") != 1 {
		t.Errorf("disable count = %d, want 1", fake.count("disable"))
	}
}

/**
 * Test that a blanked-out client command is reported as a configuration error
 * @param {*testing.T} t - Testing framework instance
 */
func TestTunnelCommandLineUnconfigured(t *testing.T) {
	cfg := config.Get()
	oldCommand := cfg.Tunnel.Command
	cfg.Tunnel.Command = ""
	t.Cleanup(func() { cfg.Tunnel.Command = oldCommand })

	if _, _, err := tunnelCommandLine(testSpec(t), 30080); !errors.Is(err, config.ErrTunnelNotConfigured) {
		t.Errorf("tunnelCommandLine = %v, want ErrTunnelNotConfigured", err)
	}
}
