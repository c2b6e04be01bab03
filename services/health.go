package services

import (
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

/**
 * HealthMonitor 检查隧道底层进程的存活状态
 * @description
 * - 持久模式：查询systemd unit是否active
 * - 临时模式：先按记录的PID查进程表，PID失效后退化为命令行模式匹配，
 *   因为脱离keeper启动的进程没有稳定的句柄
 * - "不存在"是正常结果，不产生错误
 */
type HealthMonitor struct {
	systemd *SystemdSupervisor
}

func NewHealthMonitor(systemd *SystemdSupervisor) *HealthMonitor {
	return &HealthMonitor{systemd: systemd}
}

func (hm *HealthMonitor) IsHealthy(rec *models.TunnelRecord) bool {
	if rec.Spec.Mode == models.ModePersistent {
		unit := rec.UnitName
		if unit == "" {
			unit = hm.systemd.UnitName(rec.Key)
		}
		return hm.systemd.IsActive(unit)
	}
	if rec.Pid > 0 {
		if running, err := utils.IsProcessRunning(rec.Pid); err == nil && running {
			return true
		}
	}
	return len(utils.FindProcessesByPattern(matchPatterns(&rec.Spec)...)) > 0
}

/**
 * IsExclusive 检查记录的隧道是否是唯一存活的匹配进程
 * @param {*models.TunnelRecord} rec - 隧道记录
 * @returns {bool} 唯一且由记录的PID背书时返回true
 * @description
 * - 幂等的setup/ensure只能在这种情况下短路：模式匹配到多个进程，
 *   或者匹配到的进程不是记录里的那个，都说明有陈旧的转发在争抢
 *   同一个外部槽位，必须先清理再重新启动
 * - 持久模式由supervisor保证单实例，等同于IsHealthy
 */
func (hm *HealthMonitor) IsExclusive(rec *models.TunnelRecord) bool {
	if rec.Spec.Mode == models.ModePersistent {
		return hm.IsHealthy(rec)
	}
	pids := utils.FindProcessesByPattern(matchPatterns(&rec.Spec)...)
	return len(pids) == 1 && pids[0] == rec.Pid
}

// matchPatterns is the stable command-line pattern identifying tunnel client
// processes for a spec's relay, used for liveness and stale-process cleanup.
func matchPatterns(spec *models.TunnelSpec) []string {
	return []string{
		utils.Path2ProcessName(config.Get().Tunnel.Command),
		"-R",
		spec.ServerAddress,
	}
}
