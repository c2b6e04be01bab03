package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

// 临时模式进程启动后的存活确认窗口：ssh在网络不可达时会很快退出，
// 确认窗口内死掉按StartFailed处理
const ephemeralConfirmWindow = 2 * time.Second

type TunnelInstance struct {
	models.TunnelRecord
	proc  *ProcessInstance
	mutex sync.Mutex //串行化同一identity key上的生命周期操作
}

/**
 * TunnelManager 隧道生命周期控制器
 * @property {map[string]*TunnelInstance} records - 每个identity key至多一条记录
 * @description
 * - EnsureDefined对"记录是否存在"的检查和创建在同一把锁下完成，
 *   杜绝check-then-act竞态产生重复隧道
 * - 记录以JSON缓存在磁盘上，keeper重启后重新接管存活的隧道进程
 * - 所有OS交互经由注入的supervisor/进程工具，便于用假对象测试
 */
type TunnelManager struct {
	daemon   bool
	cacheDir string
	mutex    sync.Mutex
	records  map[string]*TunnelInstance
	systemd  *SystemdSupervisor
	health   *HealthMonitor
	resolver *EndpointResolver
	reporter *Reporter
}

var tunnelManager *TunnelManager

/**
 * Get singleton instance of TunnelManager
 * @returns {*TunnelManager} Returns the singleton TunnelManager instance
 * @description
 * - Initializes tunnel manager with cache directory, daemon mode and the
 *   host's systemctl
 * - Loads existing tunnel cache on first creation
 * - Returns existing instance if already initialized
 */
func GetTunnelManager() *TunnelManager {
	if tunnelManager != nil {
		return tunnelManager
	}
	tm := NewTunnelManager(nil, filepath.Join(env.KeeperDir, "cache", "tunnels"))
	tm.daemon = env.Daemon
	tm.loadCache()
	tunnelManager = tm
	return tunnelManager
}

// NewTunnelManager builds a manager around the given systemctl runner (nil
// for the real one). Used directly by tests with fakes and a temp cache dir.
func NewTunnelManager(runner SystemctlRunner, cacheDir string) *TunnelManager {
	systemd := NewSystemdSupervisor(runner)
	resolver, err := DefaultEndpointResolver()
	if err != nil {
		logger.Fatalf("Invalid banner pattern in config: %v", err)
	}
	return &TunnelManager{
		cacheDir: cacheDir,
		records:  make(map[string]*TunnelInstance),
		systemd:  systemd,
		health:   NewHealthMonitor(systemd),
		resolver: resolver,
		reporter: NewReporter(),
	}
}

func (tun *TunnelInstance) getTitle() string {
	if tun.Spec.Mode == models.ModeEphemeral {
		return fmt.Sprintf("%s:%d->%s", tun.Key, tun.Spec.LocalPort, tun.Spec.ServerAddress)
	}
	return fmt.Sprintf("%s:%d->%d", tun.Key, tun.Spec.LocalPort, tun.Spec.RemotePort)
}

func (tm *TunnelManager) getCacheFname(key string) string {
	return filepath.Join(tm.cacheDir, key+".json")
}

/**
 * EnsureDefined 幂等地获取或创建identity key对应的记录
 * @param {*models.TunnelSpec} spec - 已验证的隧道参数
 * @returns {*TunnelInstance} 返回已存在或新建的记录
 * @description
 * - 同一把锁下完成存在性检查和创建，对每个key原子地保证至多一条记录
 * - 只建立记录，不启动任何进程
 */
func (tm *TunnelManager) EnsureDefined(spec *models.TunnelSpec) *TunnelInstance {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	key := spec.Key()
	if tun, ok := tm.records[key]; ok {
		return tun
	}
	tun := &TunnelInstance{
		TunnelRecord: models.TunnelRecord{
			Key:         key,
			Spec:        *spec,
			Status:      models.StatusAbsent,
			CreatedTime: time.Now(),
		},
	}
	if spec.Mode == models.ModeEphemeral {
		tun.LogPath = config.Get().Ephemeral.LogFile
	}
	tm.records[key] = tun
	return tun
}

// Get returns the record for a key, or nil.
func (tm *TunnelManager) Get(key string) *TunnelInstance {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()
	return tm.records[key]
}

/**
 * Setup 建立隧道并确保其运行（幂等）
 * @param {context.Context} ctx - 控制启动阶段的上下文
 * @param {*models.TunnelSpec} spec - 已验证的隧道参数
 * @returns {(*TunnelInstance, error)} 返回隧道记录
 * @description
 * - 记录的进程是唯一存活的匹配进程时直接成功返回，不产生重复隧道；
 *   存在多个匹配或匹配不是记录的进程时照常走清理+启动路径
 * - 启动前清理所有匹配同一中继的陈旧进程，避免两个转发争抢同一个槽位
 * - 持久模式：写unit、enable开机自启、start并有界等待active
 * - 临时模式：后台拉起客户端进程，日志追加写入固定文件
 */
func (tm *TunnelManager) Setup(ctx context.Context, spec *models.TunnelSpec) (*TunnelInstance, error) {
	tun := tm.EnsureDefined(spec)
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	if tm.health.IsExclusive(&tun.TunnelRecord) {
		logger.Infof("Tunnel (%s) is already running", tun.getTitle())
		tun.Status = models.StatusRunning
		return tun, nil
	}
	if err := tm.startTunnel(ctx, tun); err != nil {
		tm.reporter.Report("setup", tun.Key, "failed", "")
		return nil, err
	}
	tm.reporter.Report("setup", tun.Key, "running", "")
	return tun, nil
}

func (tm *TunnelManager) startTunnel(ctx context.Context, tun *TunnelInstance) error {
	defer tm.saveTunnel(tun)

	tm.cleanupStale(&tun.Spec)
	tun.Status = models.StatusStarting
	recordTunnelStart(tun.Key)

	var err error
	if tun.Spec.Mode == models.ModePersistent {
		err = tm.startPersistent(tun)
	} else {
		err = tm.startEphemeral(ctx, tun)
	}
	if err != nil {
		tun.Status = models.StatusFailed
		logger.Errorf("Start (%s) failed: %v", tun.getTitle(), err)
		return err
	}
	tun.Status = models.StatusRunning
	tun.CreatedTime = time.Now()
	logger.Infof("Successfully started tunnel (%s)", tun.getTitle())
	return nil
}

func (tm *TunnelManager) startPersistent(tun *TunnelInstance) error {
	unit, err := tm.systemd.EnsureDefined(&tun.Spec)
	if err != nil {
		return err
	}
	tun.UnitName = unit
	if err := tm.systemd.Enable(unit); err != nil {
		return err
	}
	return tm.systemd.Start(unit)
}

func (tm *TunnelManager) startEphemeral(ctx context.Context, tun *TunnelInstance) error {
	if !utils.CheckPortListening(tun.Spec.LocalPort) {
		// 隧道照常建立，只是端点暂时会返回错误页
		logger.Warnf("Nothing is listening on local port %d yet", tun.Spec.LocalPort)
	}
	remotePort := config.Get().Ephemeral.RemotePort
	command, args, err := tunnelCommandLine(&tun.Spec, remotePort)
	if err != nil {
		return err
	}
	proc := NewProcessInstance("tunnel "+tun.Key, command, args, tun.LogPath)
	if tm.daemon {
		// 服务器模式下由keeper自身监控并重启，退避时间与unit的RestartSec一致
		delay := time.Duration(config.Get().Relay.RestartSec) * time.Second
		proc.EnableWatcher(0x7fffffff, delay, nil, func(pi *ProcessInstance) {
			tun.Pid = pi.Pid()
			tm.saveTunnel(tun)
		})
	}
	if err := proc.StartProcess(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStartFailed, err)
	}

	// 有界确认窗口内进程退出视为启动失败；ctx只约束这里的等待，
	// 不约束已脱离的子进程本身
	deadline := time.Now().Add(ephemeralConfirmWindow)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if !proc.CheckProcess() {
			return fmt.Errorf("%w: process exited during start confirmation, see %s",
				models.ErrStartFailed, tun.LogPath)
		}
		time.Sleep(200 * time.Millisecond)
	}
	tun.proc = proc
	tun.Pid = proc.Pid()
	return nil
}

/**
 * cleanupStale 按命令行模式终止所有匹配同一中继的陈旧隧道进程
 * @param {*models.TunnelSpec} spec - 隧道参数
 * @description
 * - 按模式而非PID匹配：崩溃遗留的进程没有稳定句柄
 * - 必须在新的Start之前完成，保证不会有两个转发竞争同一个外部槽位
 */
func (tm *TunnelManager) cleanupStale(spec *models.TunnelSpec) {
	if killed := utils.KillProcessesByPattern(matchPatterns(spec)...); killed > 0 {
		logger.Warnf("Killed %d stale tunnel process(es) for relay %s", killed, spec.ServerAddress)
	}
}

// IsHealthy reports current liveness for a key without side effects.
// An unknown key is simply not healthy.
func (tm *TunnelManager) IsHealthy(key string) bool {
	tun := tm.Get(key)
	if tun == nil {
		return false
	}
	return tm.health.IsHealthy(&tun.TunnelRecord)
}

/**
 * Info 报告隧道的外部可达端点
 * @param {*models.TunnelSpec} spec - 隧道参数
 * @returns {(*models.EndpointInfo, error)} 返回端点，未发现时返回ErrNotYetAvailable
 * @description
 * - 持久模式：端点由spec确定（中继地址+远程端口），无需读日志
 * - 临时模式：每次都重新扫描日志取最后一条banner，不缓存结果，
 *   中继在会话中重新分配端点时下一次info即可反映
 * - banner尚未出现时在配置的超时内有界等待，刚启动的隧道不用
 *   调用方自己轮询；超时后照常返回ErrNotYetAvailable
 */
func (tm *TunnelManager) Info(spec *models.TunnelSpec) (*models.EndpointInfo, error) {
	if spec.Mode == models.ModePersistent {
		return &models.EndpointInfo{
			URL: fmt.Sprintf("%s:%d", spec.ServerAddress, spec.RemotePort),
		}, nil
	}
	logPath := config.Get().Ephemeral.LogFile
	if tun := tm.Get(spec.Key()); tun != nil && tun.LogPath != "" {
		logPath = tun.LogPath
	}

	deadline := time.Now().Add(time.Duration(config.Get().Ephemeral.ResolveTimeoutSec) * time.Second)
	for {
		info, err := tm.resolver.Resolve(logPath)
		if err == nil || !errors.Is(err, models.ErrNotYetAvailable) || !time.Now().Before(deadline) {
			return info, err
		}
		time.Sleep(200 * time.Millisecond)
	}
}

/**
 * Ensure 检查并修复隧道（自愈操作，供外部调度器周期性调用）
 * @param {context.Context} ctx - 控制修复阶段的上下文
 * @param {*models.TunnelSpec} spec - 隧道参数
 * @returns {(*models.EnsureResult, error)} 返回本次检查做了什么
 * @description
 * - 记录的进程唯一且存活时不做任何事
 * - 不健康时执行一次修复尝试，绝不在内部循环重试：
 *   重试由外部调度器的下一次ensure承担，单次调用的资源占用有上界
 * - StartFailed只记录在结果里不作为错误返回；supervisor环境错误照常上抛
 */
func (tm *TunnelManager) Ensure(ctx context.Context, spec *models.TunnelSpec) (*models.EnsureResult, error) {
	tun := tm.EnsureDefined(spec)
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	result := &models.EnsureResult{Key: tun.Key}
	if tm.health.IsExclusive(&tun.TunnelRecord) {
		tun.Status = models.StatusRunning
		result.Healthy = true
		return result, nil
	}

	logger.Warnf("Tunnel (%s) is not running, repairing", tun.getTitle())
	recordEnsureRepair()
	if err := tm.startTunnel(ctx, tun); err != nil {
		if errors.Is(err, models.ErrStartFailed) {
			result.Error = err.Error()
			tm.reporter.Report("ensure", tun.Key, "repair-failed", "")
			return result, nil
		}
		return nil, err
	}
	result.Healthy = true
	result.Repaired = true
	tm.reporter.Report("ensure", tun.Key, "repaired", "")
	return result, nil
}

// EnsureAll runs one check-and-repair pass over every known record. Used by
// the resident server's periodic loop.
func (tm *TunnelManager) EnsureAll(ctx context.Context) []models.EnsureResult {
	var results []models.EnsureResult
	healthy := 0
	for _, rec := range tm.List() {
		spec := rec.Spec
		res, err := tm.Ensure(ctx, &spec)
		if err != nil {
			results = append(results, models.EnsureResult{Key: rec.Key, Error: err.Error()})
			continue
		}
		if res.Healthy {
			healthy++
		}
		results = append(results, *res)
	}
	SetActiveTunnels(healthy)
	return results
}

/**
 * Teardown 显式拆除隧道
 * @param {string} key - Identity key
 * @returns {error} 记录不存在时返回ErrTunnelNotFound
 * @description
 * - 持久模式：disable并删除unit文件
 * - 临时模式：终止进程（含按模式匹配的游离进程）
 * - 删除缓存文件和内存记录
 */
func (tm *TunnelManager) Teardown(key string) error {
	tun := tm.Get(key)
	if tun == nil {
		return fmt.Errorf("%w: %s", models.ErrTunnelNotFound, key)
	}
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	if tun.Spec.Mode == models.ModePersistent {
		unit := tun.UnitName
		if unit == "" {
			unit = tm.systemd.UnitName(tun.Key)
		}
		if err := tm.systemd.RemoveUnit(unit); err != nil {
			return err
		}
	} else {
		if tun.proc != nil {
			tun.proc.StopProcess()
			tun.proc = nil
		}
		utils.KillProcessesByPattern(matchPatterns(&tun.Spec)...)
	}
	tun.Status = models.StatusAbsent
	tun.Pid = 0
	tm.cleanTunnel(tun)

	tm.mutex.Lock()
	delete(tm.records, key)
	tm.mutex.Unlock()

	logger.Infof("Tunnel (%s) torn down", tun.getTitle())
	return nil
}

// List returns a snapshot of all known records.
func (tm *TunnelManager) List() []models.TunnelRecord {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	var records []models.TunnelRecord
	for _, tun := range tm.records {
		records = append(records, tun.TunnelRecord)
	}
	return records
}

// GetTunnelInfo returns the record for a key.
func (tm *TunnelManager) GetTunnelInfo(key string) (*models.TunnelRecord, error) {
	tun := tm.Get(key)
	if tun == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrTunnelNotFound, key)
	}
	return &tun.TunnelRecord, nil
}

func (tm *TunnelManager) saveTunnel(tun *TunnelInstance) error {
	err := func() error {
		if err := os.MkdirAll(tm.cacheDir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		data, err := json.MarshalIndent(tun.TunnelRecord, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize tunnel record: %w", err)
		}
		if err := os.WriteFile(tm.getCacheFname(tun.Key), data, 0644); err != nil {
			return fmt.Errorf("failed to write tunnel record: %w", err)
		}
		return nil
	}()
	if err != nil {
		logger.Errorf("Save tunnel failed: %v", err)
	}
	return err
}

func (tm *TunnelManager) cleanTunnel(tun *TunnelInstance) error {
	filePath := tm.getCacheFname(tun.Key)
	if _, err := os.Stat(filePath); err == nil {
		if err := os.Remove(filePath); err != nil {
			logger.Errorf("Failed to delete cache file: %v", err)
			return fmt.Errorf("failed to delete cache file: %w", err)
		}
	}
	return nil
}

/**
 * loadCache 从缓存目录恢复隧道记录
 * @returns {error} 缓存目录不可读时返回错误（不存在除外）
 * @description
 * - 单个文件损坏时跳过继续
 * - 临时模式记录带有PID时重新附加到存活的进程
 */
func (tm *TunnelManager) loadCache() error {
	files, err := os.ReadDir(tm.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tunnel cache directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tm.cacheDir, file.Name()))
		if err != nil {
			continue
		}
		var cached models.TunnelRecord
		if err := json.Unmarshal(data, &cached); err != nil {
			continue
		}
		tun := tm.EnsureDefined(&cached.Spec)
		tm.loadTunnel(tun, &cached)
	}
	return nil
}

func (tm *TunnelManager) loadTunnel(tun *TunnelInstance, cached *models.TunnelRecord) {
	tun.mutex.Lock()
	defer tun.mutex.Unlock()

	tun.TunnelRecord = *cached
	if cached.Spec.Mode == models.ModeEphemeral && cached.Pid > 0 {
		remotePort := config.Get().Ephemeral.RemotePort
		command, args, err := tunnelCommandLine(&cached.Spec, remotePort)
		if err == nil {
			proc := NewProcessInstance("tunnel "+tun.Key, command, args, tun.LogPath)
			if err := proc.AttachProcess(cached.Pid); err == nil {
				tun.proc = proc
			} else {
				tun.Pid = 0
				tun.Status = models.StatusFailed
			}
		}
	}
	logger.Infof("Loaded tunnel (%s, PID:%d) from cache", tun.getTitle(), tun.Pid)
}
