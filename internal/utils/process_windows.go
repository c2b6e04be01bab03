//go:build windows

package utils

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// SetNewPG 设置进程属性，使子进程在父进程退出后继续运行
// Windows系统实现
func SetNewPG(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// IsProcessRunning 检查进程是否正在运行
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	// tasklist以CSV格式过滤指定PID，无匹配时输出INFO提示
	cmd := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/FO", "CSV", "/NH")
	output, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return strings.Contains(string(output), ","+strconv.Itoa(pid)+","), nil
}

/**
 * Enumerate processes whose command line contains all given patterns
 * @param {[]string} patterns - Substrings required in the full command line
 * @returns {[]int} Matching PIDs, never including the current process
 * @description
 * - Uses wmic because tasklist does not expose full command lines
 */
func FindProcessesByPattern(patterns ...string) []int {
	var pids []int

	selfPid := os.Getpid()

	cmd := exec.Command("wmic", "process", "get", "processid,commandline", "/format:csv")
	output, err := cmd.Output()
	if err != nil {
		return pids
	}

	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Node,") {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			continue
		}
		cmdLine := line[:idx]
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
		pid, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
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

func killProcessGracefully(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
