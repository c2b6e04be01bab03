package services

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

/**
 * Initialize test environment
 * @description
 * - Initializes logger system with config settings
 * - Called automatically when test package is loaded
 */
func init() {
	cfg := config.Get()
	logger.InitLoggerWithMode(&cfg.Log, false)
}

func testManager(t *testing.T, fake *fakeSystemctl) *TunnelManager {
	t.Helper()
	systemd := testSupervisor(t, fake)
	resolver, err := NewEndpointResolver(defaultBanner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &TunnelManager{
		cacheDir: t.TempDir(),
		records:  make(map[string]*TunnelInstance),
		systemd:  systemd,
		health:   NewHealthMonitor(systemd),
		resolver: resolver,
		reporter: NewReporter(),
	}
}

/**
 * Test setup idempotency
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - First setup starts the unit
 * - Second setup with the same parameters reports success without a restart
 * - Exactly one record exists for the key afterwards
 */
func TestSetupIdempotent(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := testSpec(t)

	tun, err := tm.Setup(context.Background(), spec)
	if err != nil {
		t.Fatalf("first setup failed: %v", err)
	}
	if tun.Status != models.StatusRunning {
		t.Errorf("status = %s, want running", tun.Status)
	}
	if fake.count("start") != 1 {
		t.Fatalf("start count = %d, want 1", fake.count("start"))
	}

	// 已在运行，重复setup不应重启
	if _, err := tm.Setup(context.Background(), spec); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
	if fake.count("start") != 1 {
		t.Errorf("start count after repeat = %d, want 1", fake.count("start"))
	}
	if len(tm.List()) != 1 {
		t.Errorf("record count = %d, want 1", len(tm.List()))
	}
}

func TestSetupEnablesAtBoot(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)

	if _, err := tm.Setup(context.Background(), testSpec(t)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if fake.count("enable") != 1 {
		t.Errorf("enable count = %d, want 1", fake.count("enable"))
	}
}

func TestSetupSingleRecordPerKey(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)

	// 远程端口相同 => 同一个identity key
	first, err := models.NewTunnelSpec(models.ModePersistent, "relay.example.com", 8080, 30080, "tunnel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := models.NewTunnelSpec(models.ModePersistent, "relay.example.com", 9090, 30080, "tunnel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tm.Setup(context.Background(), first); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := tm.Setup(context.Background(), second); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if len(tm.List()) != 1 {
		t.Errorf("record count = %d, want 1", len(tm.List()))
	}
}

/**
 * Test the self-heal cycle
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - A healthy tunnel is left alone by ensure
 * - After the unit dies, one ensure pass restarts it and reports the repair
 */
func TestEnsureRepairsDeadTunnel(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := testSpec(t)

	if _, err := tm.Setup(context.Background(), spec); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// 健康时ensure不做任何事
	result, err := tm.Ensure(context.Background(), spec)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if !result.Healthy || result.Repaired {
		t.Errorf("result = %+v, want healthy and not repaired", result)
	}
	if fake.count("start") != 1 {
		t.Errorf("start count = %d, want 1", fake.count("start"))
	}

	// 模拟unit死亡
	delete(fake.active, "tunnel-r30080.service")

	result, err = tm.Ensure(context.Background(), spec)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if !result.Repaired {
		t.Errorf("result = %+v, want repaired", result)
	}
	if fake.count("start") != 2 {
		t.Errorf("start count = %d, want 2", fake.count("start"))
	}
	if !tm.IsHealthy(spec.Key()) {
		t.Error("tunnel should be healthy after repair")
	}
}

/**
 * Test that a failed repair attempt is a result, not an error
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Ensure makes exactly one attempt and reports the failure in the result
 * - The caller's scheduler owns the retry, so no error is returned
 */
func TestEnsureStartFailureIsReported(t *testing.T) {
	fake := newFakeSystemctl()
	fake.failStart = true
	tm := testManager(t, fake)
	spec := testSpec(t)

	result, err := tm.Ensure(context.Background(), spec)
	if err != nil {
		t.Fatalf("ensure returned error: %v", err)
	}
	if result.Healthy || result.Repaired {
		t.Errorf("result = %+v, want unhealthy and not repaired", result)
	}
	if result.Error == "" {
		t.Error("result should carry the repair failure")
	}
	if fake.count("start") != 1 {
		t.Errorf("start count = %d, want exactly one attempt", fake.count("start"))
	}
}

func TestSetupSupervisorUnavailable(t *testing.T) {
	fake := newFakeSystemctl()
	fake.unavailable = true
	tm := testManager(t, fake)

	_, err := tm.Setup(context.Background(), testSpec(t))
	if !errors.Is(err, models.ErrSupervisorUnavailable) {
		t.Errorf("err = %v, want ErrSupervisorUnavailable", err)
	}
}

func TestTeardown(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := testSpec(t)

	if _, err := tm.Setup(context.Background(), spec); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	cacheFile := tm.getCacheFname(spec.Key())
	if _, err := os.Stat(cacheFile); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	if err := tm.Teardown(spec.Key()); err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if tm.Get(spec.Key()) != nil {
		t.Error("record still present after teardown")
	}
	if _, err := os.Stat(cacheFile); !os.IsNotExist(err) {
		t.Error("cache file still present after teardown")
	}
	if _, err := os.Stat(filepath.Join(tm.systemd.unitDir, "tunnel-r30080.service")); !os.IsNotExist(err) {
		t.Error("unit file still present after teardown")
	}
}

func TestTeardownUnknownKey(t *testing.T) {
	tm := testManager(t, newFakeSystemctl())
	if err := tm.Teardown("tunnel-r1"); !errors.Is(err, models.ErrTunnelNotFound) {
		t.Errorf("err = %v, want ErrTunnelNotFound", err)
	}
}

func TestInfoPersistentDeterministic(t *testing.T) {
	tm := testManager(t, newFakeSystemctl())
	spec := testSpec(t)

	// 持久模式端点由参数确定，不需要任何隧道在运行
	endpoint, err := tm.Info(spec)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if endpoint.URL != "relay.example.com:30080" {
		t.Errorf("endpoint = %q", endpoint.URL)
	}
}

/**
 * Test record recovery from the on-disk cache
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - A record written by one manager is visible to a fresh manager sharing
 *   the same cache directory, as after a keeper restart
 */
func TestLoadCache(t *testing.T) {
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := testSpec(t)

	if _, err := tm.Setup(context.Background(), spec); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	restarted := testManager(t, fake)
	restarted.cacheDir = tm.cacheDir
	if err := restarted.loadCache(); err != nil {
		t.Fatalf("loadCache failed: %v", err)
	}

	rec, err := restarted.GetTunnelInfo(spec.Key())
	if err != nil {
		t.Fatalf("record not recovered: %v", err)
	}
	if rec.Spec != *spec {
		t.Errorf("recovered spec = %+v, want %+v", rec.Spec, *spec)
	}
	if rec.UnitName != "tunnel-r30080.service" {
		t.Errorf("recovered unit = %q", rec.UnitName)
	}
}

// testEphemeralEnv points the tunnel client at a harmless shell sleep whose
// command line still carries the relay match patterns, and redirects the
// client log into a temp directory. Restores the shared config on cleanup.
func testEphemeralEnv(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test command not available on windows")
	}
	cfg := config.Get()
	oldTunnel := cfg.Tunnel
	oldLogFile := cfg.Ephemeral.LogFile
	cfg.Tunnel.Command = "/bin/sh"
	cfg.Tunnel.Args = []string{"-c", "while :; do sleep 1; done", "sh", "-R", "{{.Target}}"}
	cfg.Ephemeral.LogFile = filepath.Join(t.TempDir(), "tunnel.log")
	t.Cleanup(func() {
		cfg.Tunnel = oldTunnel
		cfg.Ephemeral.LogFile = oldLogFile
	})
}

func ephemeralSpec(t *testing.T) *models.TunnelSpec {
	t.Helper()
	spec, err := models.NewTunnelSpec(models.ModeEphemeral, "relay-test.invalid", 18080, 0, "tunnel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return spec
}

// spawnDecoy launches a process whose command line matches the spec's relay
// patterns but that no record owns, simulating a tunnel client left behind
// by a crashed keeper.
func spawnDecoy(t *testing.T, spec *models.TunnelSpec) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "while :; do sleep 1; done", "sh", "-R", spec.Target())
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to spawn decoy process: %v", err)
	}
	// 及时收割，被清理杀掉后不会以僵尸进程的身份留在进程表里
	go cmd.Wait()
	t.Cleanup(func() {
		cmd.Process.Kill()
	})
	return cmd.Process.Pid
}

/**
 * Test stale-process cleanup ordering during setup
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Two unowned processes matching the relay pattern must not make setup
 *   report "already running": pattern liveness without a backing pid is
 *   not health
 * - Setup terminates every matching stale process before starting, so
 *   exactly one matching process remains afterwards, the new one
 * - A repeat setup then short-circuits on the recorded, sole process
 */
func TestSetupReplacesCompetingStaleProcesses(t *testing.T) {
	testEphemeralEnv(t)
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := ephemeralSpec(t)

	decoy1 := spawnDecoy(t, spec)
	decoy2 := spawnDecoy(t, spec)
	if got := len(utils.FindProcessesByPattern(matchPatterns(spec)...)); got < 2 {
		t.Fatalf("expected 2 matching decoys before setup, found %d", got)
	}

	tun, err := tm.Setup(context.Background(), spec)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(func() { tm.Teardown(spec.Key()) })

	if tun.Pid <= 0 {
		t.Fatalf("setup recorded pid %d, want a fresh process", tun.Pid)
	}
	if tun.Pid == decoy1 || tun.Pid == decoy2 {
		t.Fatalf("setup reused a stale pid %d", tun.Pid)
	}
	pids := utils.FindProcessesByPattern(matchPatterns(spec)...)
	if len(pids) != 1 || pids[0] != tun.Pid {
		t.Fatalf("matching processes after setup = %v, want [%d]", pids, tun.Pid)
	}
	for _, stale := range []int{decoy1, decoy2} {
		if running, _ := utils.IsProcessRunning(stale); running {
			t.Errorf("stale process %d survived setup", stale)
		}
	}

	// 记录的进程唯一存活，重复setup短路且不更换进程
	again, err := tm.Setup(context.Background(), spec)
	if err != nil {
		t.Fatalf("repeat setup failed: %v", err)
	}
	if again.Pid != tun.Pid {
		t.Errorf("repeat setup changed pid %d -> %d", tun.Pid, again.Pid)
	}
}

/**
 * Test that the tunnel process outlives the caller's context
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - The context passed to Setup bounds only the start-confirmation wait;
 *   cancelling it afterwards (as net/http does when a handler returns)
 *   must not kill the detached tunnel client
 */
func TestEphemeralTunnelSurvivesCallerCancel(t *testing.T) {
	testEphemeralEnv(t)
	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := ephemeralSpec(t)

	ctx, cancel := context.WithCancel(context.Background())
	tun, err := tm.Setup(ctx, spec)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(func() { tm.Teardown(spec.Key()) })

	cancel()
	time.Sleep(300 * time.Millisecond)

	if running, _ := utils.IsProcessRunning(tun.Pid); !running {
		t.Fatalf("tunnel process %d died when the caller's context was cancelled", tun.Pid)
	}
}

/**
 * Test the bounded wait for the endpoint banner
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Info retries while the banner has not appeared yet, within the
 *   configured resolve timeout, so a just-started tunnel resolves without
 *   the caller polling
 * - An empty log past the timeout still collapses to ErrNotYetAvailable
 */
func TestInfoEphemeralWaitsForBanner(t *testing.T) {
	testEphemeralEnv(t)
	cfg := config.Get()
	oldTimeout := cfg.Ephemeral.ResolveTimeoutSec
	cfg.Ephemeral.ResolveTimeoutSec = 1
	t.Cleanup(func() { cfg.Ephemeral.ResolveTimeoutSec = oldTimeout })

	fake := newFakeSystemctl()
	tm := testManager(t, fake)
	spec := ephemeralSpec(t)
	logPath := cfg.Ephemeral.LogFile

	go func() {
		time.Sleep(300 * time.Millisecond)
		os.WriteFile(logPath, []byte("Forwarding HTTP traffic from https://late.serveo.net\n"), 0644)
	}()

	info, err := tm.Info(spec)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if info.URL != "https://late.serveo.net" {
		t.Errorf("endpoint = %q, want the late banner", info.URL)
	}

	os.Remove(logPath)
	if _, err := tm.Info(spec); !errors.Is(err, models.ErrNotYetAvailable) {
		t.Errorf("info on missing log = %v, want ErrNotYetAvailable", err)
	}
}
