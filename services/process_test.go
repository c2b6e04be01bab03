package services

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"tunnel-keeper/internal/models"
)

/**
 * Test the detached process lifecycle
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - StartProcess spawns the command with output redirected to the log file
 * - CheckProcess reports liveness
 * - StopProcess terminates the process and is idempotent
 */
func TestProcessInstanceLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test command not available on windows")
	}

	logPath := filepath.Join(t.TempDir(), "proc.log")
	pi := NewProcessInstance("test sleep", "sleep", []string{"60"}, logPath)

	if err := pi.StartProcess(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if pi.Pid() == 0 {
		t.Fatal("pid should be set after start")
	}
	if !pi.CheckProcess() {
		t.Error("process should be running")
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file not created: %v", err)
	}

	if err := pi.StopProcess(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if pi.CheckProcess() {
		t.Error("process should not be running after stop")
	}
	if pi.Status != models.StatusStopped {
		t.Errorf("status = %s, want stopped", pi.Status)
	}

	// 重复stop是无害的空操作
	if err := pi.StopProcess(); err != nil {
		t.Errorf("repeated stop failed: %v", err)
	}
}

/**
 * Test re-attaching to an existing process by PID
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Attaching to a live PID succeeds and reports running
 * - Attaching to a reaped PID fails, as after a stale cache entry
 */
func TestProcessInstanceAttach(t *testing.T) {
	pi := NewProcessInstance("test attach", "irrelevant", nil, "")

	// 附加到当前测试进程自身
	if err := pi.AttachProcess(os.Getpid()); err != nil {
		t.Fatalf("attach to live process failed: %v", err)
	}
	if !pi.CheckProcess() {
		t.Error("attached process should be running")
	}

	if runtime.GOOS == "windows" {
		return
	}
	dead := NewProcessInstance("test dead", "sleep", []string{"60"}, "")
	if err := dead.StartProcess(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stalePid := dead.Pid()
	if err := dead.StopProcess(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	stale := NewProcessInstance("test stale", "irrelevant", nil, "")
	if err := stale.AttachProcess(stalePid); err == nil {
		t.Error("attach to reaped process should fail")
	}
}

func TestStartProcessFailure(t *testing.T) {
	pi := NewProcessInstance("test missing", "/nonexistent/binary", nil, "")
	if err := pi.StartProcess(); err == nil {
		t.Fatal("expected error for missing binary")
	}
	if pi.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", pi.Status)
	}
}
