package models

import "time"

type RunStatus string

const (
	// 表示正在运行
	StatusRunning RunStatus = "running"
	// 表示未创建或已被显式拆除
	StatusAbsent RunStatus = "absent"
	// 表示正在启动，等待supervisor确认active
	StatusStarting RunStatus = "starting"
	// 表示启动失败或异常退出，ensure流程会尝试重启
	StatusFailed RunStatus = "failed"
	// 表示被用户手动停止，ensure流程不会尝试重启
	StatusStopped RunStatus = "stopped"
)

type ProcessDetail struct {
	Title          string    `json:"title"`          //显示用的名字
	Command        string    `json:"command"`        //进程启动命令
	Args           []string  `json:"args"`           //命令参数
	Pid            int       `json:"pid"`            //进程PID
	Status         RunStatus `json:"status"`         //状态
	RestartCount   int       `json:"restartCount"`   //重启次数
	StartTime      time.Time `json:"startTime"`      //启动时间
	LastExitTime   time.Time `json:"lastExitTime"`   //最后一次退出的时间
	LastExitReason string    `json:"lastExitReason"` //最后一次退出的原因
}
