package services

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

type processWatcher struct {
	enabled         bool                   //是否启动监测协程
	maxRestartCount int                    //最大重启次数(监测程序通过重启解决临时故障)
	restartDelay    time.Duration          //重启前的固定退避时间
	onExited        func(*ProcessInstance) //监测到进程退出时的回调函数
	onRestarted     func(*ProcessInstance) //监测到进程已经重启的回调函数
}

/**
 * ProcessInstance 进程实例信息
 * @property {string} title - 进程标题，用于显示
 * @property {string} command - 执行命令
 * @property {[]string} args - 命令参数
 * @property {string} logPath - 子进程stdout/stderr追加写入的日志文件
 * @property {RunStatus} status - 进程状态
 * @property {int} restartCount - 重启次数
 */
type ProcessInstance struct {
	Title          string           //显示用的名字
	Command        string           //进程启动命令
	Args           []string         //进程参数
	LogPath        string           //日志文件，为空时继承父进程输出
	Status         models.RunStatus //状态
	RestartCount   int              //重启次数
	StartTime      time.Time        //启动时间
	LastExitTime   time.Time        //最后一次退出的时间
	LastExitReason string           //最后一次退出的原因
	watcher        processWatcher   //监测协程的设置
	process        *os.Process      //统一的进程对象，用于Wait()
	mutex          sync.Mutex       //保护实例数据一致性的锁
}

/**
 * NewProcessInstance 创建新的进程实例
 * @param {string} title - 进程标题，可以唯一确定一个进程，即使它重启过
 * @param {string} command - 执行命令
 * @param {[]string} args - 命令参数
 * @param {string} logPath - 日志文件路径，空字符串表示不重定向
 * @returns {ProcessInstance} 返回创建的进程实例
 */
func NewProcessInstance(title, command string, args []string, logPath string) *ProcessInstance {
	return &ProcessInstance{
		Title:        title,
		Command:      command,
		Args:         args,
		LogPath:      logPath,
		RestartCount: 0,
		Status:       models.StatusAbsent,
	}
}

func (pi *ProcessInstance) EnableWatcher(maxRestart int, delay time.Duration, onExited, onRestarted func(*ProcessInstance)) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	pi.watcher.enabled = true
	pi.watcher.onExited = onExited
	pi.watcher.onRestarted = onRestarted
	pi.watcher.maxRestartCount = maxRestart
	pi.watcher.restartDelay = delay
}

func (pi *ProcessInstance) DisableWatcher() {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	pi.watcher = processWatcher{}
}

func (pi *ProcessInstance) Pid() int {
	if pi.process == nil {
		return 0
	}
	return pi.process.Pid
}

func (pi *ProcessInstance) GetDetail() models.ProcessDetail {
	return models.ProcessDetail{
		Title:          pi.Title,
		Command:        pi.Command,
		Args:           pi.Args,
		Status:         pi.Status,
		Pid:            pi.Pid(),
		RestartCount:   pi.RestartCount,
		StartTime:      pi.StartTime,
		LastExitTime:   pi.LastExitTime,
		LastExitReason: pi.LastExitReason,
	}
}

/**
 * AttachProcess 根据PID附加到现有进程
 * @param {int} pid - 进程ID
 * @returns {error} 返回错误信息
 * @description
 * - 根据PID查找并附加到现有进程
 * - 启动协程监控进程退出（仅在watcher启用时）
 * - keeper重启后通过缓存中记录的PID重新接管之前拉起的隧道进程
 */
func (pi *ProcessInstance) AttachProcess(pid int) error {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	processObj, err := utils.FindProcess(pid)
	if err != nil {
		logger.Warnf("Failed to find process '%s' with PID %d: %v", pi.Title, pid, err)
		return err
	}

	pi.Status = models.StatusRunning
	pi.RestartCount = 0
	pi.StartTime = time.Now()
	pi.process = processObj

	logger.Infof("Process '%s' attached (PID: %d)", pi.Title, pid)
	if pi.watcher.enabled {
		go pi.watchProcess()
	}
	return nil
}

/**
 * StartProcess 启动进程
 * @returns {error} 返回错误信息
 * @description
 * - 启动指定进程，stdout/stderr追加写入LogPath
 * - 子进程独立于调用方的生命周期，调用方退出或取消请求不影响它
 * - 非监控模式下设置进程组，使子进程在父进程退出后继续运行
 * - 监控模式下使用协程等待进程退出并按固定退避时间自动重启
 */
func (pi *ProcessInstance) StartProcess() error {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if pi.Status == models.StatusRunning {
		return nil
	}
	logger.Infof("Executing command: %s %s", pi.Command, strings.Join(pi.Args, " "))

	cmd := exec.Command(pi.Command, pi.Args...)

	var logFile *os.File
	if pi.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(pi.LogPath), 0755); err != nil {
			pi.Status = models.StatusFailed
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(pi.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			pi.Status = models.StatusFailed
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if !pi.watcher.enabled {
		// 设置进程属性，使子进程在父进程退出后继续运行
		utils.SetNewPG(cmd)
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		pi.Status = models.StatusFailed
		pi.LastExitReason = fmt.Sprintf("start failed: %v", err)
		logger.Errorf("Failed to start process '%s', error: %v", pi.Title, err)
		return err
	}
	if logFile != nil {
		// 子进程持有自己的文件描述符副本
		logFile.Close()
	}

	pi.process = cmd.Process
	pi.Status = models.StatusRunning
	pi.StartTime = time.Now()

	logger.Infof("Process '%s' started (PID: %d)", pi.Title, pi.Pid())

	if pi.watcher.enabled { // 服务器模式下启动协程监控子进程
		go pi.watchProcess()
	}
	return nil
}

/**
 * StopProcess 停止进程
 * @returns {error} 返回错误信息
 * @description
 * - 停止指定进程，已停止的进程是无害的空操作
 * - 更新进程状态，不会触发自动重启
 */
func (pi *ProcessInstance) StopProcess() error {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if pi.Status != models.StatusRunning {
		return nil
	}
	pi.Status = models.StatusStopped
	pi.LastExitTime = time.Now()
	pi.LastExitReason = "stopped by user"

	if pi.process != nil {
		pid := pi.process.Pid
		if err := pi.process.Kill(); err != nil {
			logger.Errorf("Failed to kill process '%s' (PID: %d): %v", pi.Title, pid, err)
			return err
		}
		pi.process.Wait()
		pi.process = nil
		logger.Infof("Process '%s' (PID: %d) stopped", pi.Title, pid)
	}
	return nil
}

// CheckProcess reports liveness and corrects the recorded status when the
// process is gone.
func (pi *ProcessInstance) CheckProcess() bool {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if pi.Status != models.StatusRunning || pi.process == nil {
		return false
	}
	running, err := utils.IsProcessRunning(pi.Pid())
	if err != nil || !running {
		logger.Warnf("Process '%s' (PID: %d) isn't running", pi.Title, pi.Pid())
		pi.Status = models.StatusFailed
		pi.process = nil
		return false
	}
	return true
}

/**
 * watchProcess 监控进程状态的协程
 * @description
 * - 统一使用process.Wait()等待进程退出
 * - 如果进程配置了自动重启，在进程退出时按固定退避时间自动重启
 */
func (pi *ProcessInstance) watchProcess() {
	_, err := pi.process.Wait()

	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if pi.Status == models.StatusStopped {
		logger.Infof("Process '%s' stopped by user", pi.Title)
		return
	}
	pi.LastExitTime = time.Now()
	if err != nil {
		logger.Errorf("Process '%s' exited with error: %v", pi.Title, err)
		pi.LastExitReason = fmt.Sprintf("exited with error: %v", err)
	} else {
		logger.Warnf("Process '%s' exited", pi.Title)
		pi.LastExitReason = "exited"
	}
	pi.Status = models.StatusFailed
	pi.process = nil
	if pi.watcher.onExited != nil {
		pi.watcher.onExited(pi)
	} else {
		pi.autoRestart()
	}
}

/**
 * autoRestart 自动重启进程
 * @description
 * - 检查重启次数是否超过限制
 * - 按固定退避时间延迟重启，避免死锁
 */
func (pi *ProcessInstance) autoRestart() {
	if !pi.watcher.enabled || pi.watcher.maxRestartCount == 0 {
		return
	}
	if pi.RestartCount >= pi.watcher.maxRestartCount {
		logger.Warnf("Process '%s' has reached maximum restart count (%d), not restarting",
			pi.Title, pi.watcher.maxRestartCount)
		return
	}

	delay := pi.watcher.restartDelay
	if delay <= 0 {
		delay = time.Second
	}
	logger.Infof("Process '%s' will restart in %v (restart: %d/%d)",
		pi.Title, delay, pi.RestartCount, pi.watcher.maxRestartCount)
	time.AfterFunc(delay, func() {
		if pi.Status == models.StatusStopped {
			logger.Infof("Process '%s' stopped by user, needn't restart", pi.Title)
			return
		}
		pi.RestartCount++
		pi.StartProcess()
		if pi.watcher.onRestarted != nil {
			pi.watcher.onRestarted(pi)
		}
	})
}
