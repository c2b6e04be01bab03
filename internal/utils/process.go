package utils

import (
	"os"
	"path/filepath"
)

// Path2ProcessName strips the directory part of a command path so that
// "/usr/bin/ssh" and "ssh" compare equal in process table scans.
func Path2ProcessName(path string) string {
	return filepath.Base(path)
}

/**
 * Kill every process whose command line contains all given patterns
 * @param {[]string} patterns - Substrings that must all appear in the command line
 * @returns {int} Number of processes killed
 * @description
 * - Enumerates the process table and matches by command line, not PID:
 *   detached tunnel clients have no stable handle across keeper restarts
 * - Tries graceful termination first, then force kill
 * - Never matches the calling process itself
 */
func KillProcessesByPattern(patterns ...string) int {
	killed := 0
	for _, pid := range FindProcessesByPattern(patterns...) {
		if err := killProcessGracefully(pid); err == nil {
			killed++
		}
	}
	return killed
}

// FindProcess returns the os.Process for pid if it is currently alive.
func FindProcess(pid int) (*os.Process, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, err
	}
	running, err := IsProcessRunning(pid)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, os.ErrProcessDone
	}
	return proc, nil
}
