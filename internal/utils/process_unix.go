//go:build unix || linux || darwin

package utils

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tunnel-keeper/internal/logger"
)

// SetNewPG 设置进程属性，使子进程在父进程退出后继续运行
func SetNewPG(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// IsProcessRunning 检查进程是否正在运行
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		if err == syscall.EPERM {
			// 没有权限发信号，但进程存在
			return true, nil
		}
		return false, nil
	}
	return true, nil
}

/**
 * Enumerate processes whose command line contains all given patterns
 * @param {[]string} patterns - Substrings required in the full command line
 * @returns {[]int} Matching PIDs, never including the current process
 * @description
 * - Uses ps command format compatible with both Linux and Darwin
 * - Matches against the full command line (command field, not comm),
 *   so "-R 80:localhost:8080" style arguments are visible
 */
func FindProcessesByPattern(patterns ...string) []int {
	var pids []int

	selfPid := os.Getpid()

	// -e: 显示所有进程，-o: 自定义输出格式
	// 使用command字段替代comm字段，避免命令名被截断
	cmd := exec.Command("ps", "-e", "-o", "pid,command")
	output, err := cmd.Output()
	if err != nil {
		return pids
	}

	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// 跳过标题行
		if strings.Contains(line, "PID") && strings.Contains(line, "COMMAND") {
			continue
		}
		fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
		if len(fields) < 2 {
			continue
		}

		cmdLine := fields[1]
		matched := true
		for _, p := range patterns {
			if !strings.Contains(cmdLine, p) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if pid == selfPid {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

/**
 * Kill process gracefully with SIGTERM first, then SIGKILL if needed
 * @param {int} pid - Process ID to kill
 * @returns {error} Returns error if process killing fails, nil on success
 */
func killProcessGracefully(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	// 首先尝试优雅终止 (SIGTERM)
	err = process.Signal(syscall.SIGTERM)
	if err == nil {
		for i := 0; i < 10; i++ {
			if err := process.Signal(syscall.Signal(0)); err != nil {
				// 进程已退出
				logger.Infof("Process (PID: %d) terminated gracefully", pid)
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	// 如果SIGTERM失败，使用强制终止 (SIGKILL)
	logger.Warnf("Graceful termination failed, force killing process (PID: %d)", pid)
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return err
	}
	return nil
}
