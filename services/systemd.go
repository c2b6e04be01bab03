package services

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

// SystemctlRunner executes one systemctl invocation. Injected so tests can
// drive the supervisor with a fake instead of the host's service manager.
type SystemctlRunner interface {
	Run(args ...string) (string, error)
}

type execSystemctl struct{}

func (execSystemctl) Run(args ...string) (string, error) {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			// systemctl二进制不可用，属于环境错误
			return "", fmt.Errorf("%w: %v", models.ErrSupervisorUnavailable, err)
		}
	}
	return strings.TrimSpace(string(out)), err
}

/**
 * SystemdSupervisor 持久模式的进程托管器
 * @property {SystemctlRunner} runner - systemctl调用入口
 * @property {string} unitDir - unit文件目录
 * @description
 * - 每个远程端口对应一个unit文件，重复setup不会产生重复unit
 * - unit自带Restart=on-failure和固定RestartSec退避，进程级重启由systemd负责
 * - keeper的ensure流程是在其之上更粗粒度的周期性自愈
 */
type SystemdSupervisor struct {
	runner       SystemctlRunner
	unitDir      string
	restartSec   int
	startTimeout time.Duration
}

func NewSystemdSupervisor(runner SystemctlRunner) *SystemdSupervisor {
	cfg := config.Get()
	if runner == nil {
		runner = execSystemctl{}
	}
	return &SystemdSupervisor{
		runner:       runner,
		unitDir:      cfg.Relay.UnitDir,
		restartSec:   cfg.Relay.RestartSec,
		startTimeout: time.Duration(cfg.Relay.StartTimeoutSec) * time.Second,
	}
}

// UnitName derives the deterministic unit name for an identity key.
func (s *SystemdSupervisor) UnitName(key string) string {
	return key + ".service"
}

// TunnelArgs are the template variables of the tunnel client command line.
type TunnelArgs struct {
	LocalPort  int
	RemotePort int
	Target     string
}

func tunnelCommandLine(spec *models.TunnelSpec, remotePort int) (string, []string, error) {
	cfg := config.Get()
	if cfg.Tunnel.Command == "" {
		return "", nil, config.ErrTunnelNotConfigured
	}
	args := TunnelArgs{
		LocalPort:  spec.LocalPort,
		RemotePort: remotePort,
		Target:     spec.Target(),
	}
	command, cmdArgs, err := utils.GetCommandLine(cfg.Tunnel.Command, cfg.Tunnel.Args, args)
	if err != nil {
		logger.Errorf("Tunnel startup settings are incorrect, setting: %+v", cfg.Tunnel)
		return "", nil, err
	}
	return command, cmdArgs, nil
}

/**
 * EnsureDefined 幂等地物化unit定义
 * @param {*models.TunnelSpec} spec - 隧道参数
 * @returns {(string, error)} 返回unit名
 * @description
 * - unit内容未变化时不做任何事（幂等）
 * - 内容变化或unit不存在时写入文件并daemon-reload
 * - 写unit目录失败视为supervisor环境错误
 */
func (s *SystemdSupervisor) EnsureDefined(spec *models.TunnelSpec) (string, error) {
	unit := s.UnitName(spec.Key())
	command, args, err := tunnelCommandLine(spec, spec.RemotePort)
	if err != nil {
		return "", err
	}
	execStart := command + " " + strings.Join(args, " ")

	content := fmt.Sprintf(`[Unit]
Description=Reverse SSH tunnel to %s (remote port %d)
After=network-online.target
Wants=network-online.target

[Service]
ExecStart=%s
Restart=on-failure
RestartSec=%d

[Install]
WantedBy=multi-user.target
`, spec.ServerAddress, spec.RemotePort, execStart, s.restartSec)

	unitPath := filepath.Join(s.unitDir, unit)
	if old, err := os.ReadFile(unitPath); err == nil && string(old) == content {
		return unit, nil
	}
	if err := os.WriteFile(unitPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("%w: write unit %s: %v", models.ErrSupervisorUnavailable, unitPath, err)
	}
	if _, err := s.runner.Run("daemon-reload"); err != nil {
		return "", wrapSupervisorErr("daemon-reload", err)
	}
	logger.Infof("Defined unit %s (ExecStart: %s)", unit, execStart)
	return unit, nil
}

/**
 * Start unit and wait bounded for it to report active
 * @param {string} unit - Unit name
 * @returns {error} ErrStartFailed when the unit doesn't reach active in time
 */
func (s *SystemdSupervisor) Start(unit string) error {
	if _, err := s.runner.Run("start", unit); err != nil {
		if errors.Is(err, models.ErrSupervisorUnavailable) {
			return err
		}
		// 非环境错误：unit本身启动失败，可由后续ensure重试
		return fmt.Errorf("%w: unit %s: %v", models.ErrStartFailed, unit, err)
	}
	deadline := time.Now().Add(s.startTimeout)
	for {
		if s.IsActive(unit) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: unit %s not active after %v", models.ErrStartFailed, unit, s.startTimeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Stop is idempotent: stopping an unloaded or inactive unit succeeds.
func (s *SystemdSupervisor) Stop(unit string) error {
	if _, err := s.runner.Run("stop", unit); err != nil {
		if errors.Is(err, models.ErrSupervisorUnavailable) {
			return err
		}
		// systemctl stop on a unit that isn't loaded is not a failure here
		logger.Debugf("Stop %s: %v", unit, err)
	}
	return nil
}

func (s *SystemdSupervisor) Enable(unit string) error {
	if _, err := s.runner.Run("enable", unit); err != nil {
		return wrapSupervisorErr("enable "+unit, err)
	}
	return nil
}

// IsActive never errors: an unknown unit reports inactive.
func (s *SystemdSupervisor) IsActive(unit string) bool {
	out, _ := s.runner.Run("is-active", unit)
	return out == "active"
}

/**
 * RemoveUnit 拆除unit：disable、stop、删除unit文件、daemon-reload
 * @param {string} unit - Unit名
 * @returns {error} 返回错误信息
 */
func (s *SystemdSupervisor) RemoveUnit(unit string) error {
	if _, err := s.runner.Run("disable", unit); err != nil {
		if errors.Is(err, models.ErrSupervisorUnavailable) {
			return err
		}
	}
	if err := s.Stop(unit); err != nil {
		return err
	}
	unitPath := filepath.Join(s.unitDir, unit)
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove unit %s: %v", models.ErrSupervisorUnavailable, unitPath, err)
	}
	if _, err := s.runner.Run("daemon-reload"); err != nil {
		return wrapSupervisorErr("daemon-reload", err)
	}
	logger.Infof("Removed unit %s", unit)
	return nil
}

func wrapSupervisorErr(op string, err error) error {
	if errors.Is(err, models.ErrSupervisorUnavailable) {
		return err
	}
	return fmt.Errorf("%w: systemctl %s: %v", models.ErrSupervisorUnavailable, op, err)
}
