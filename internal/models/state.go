package models

import "time"

type EnsureLoopState struct {
	Status        string    `json:"status" example:"active"`
	NextCheckTime time.Time `json:"nextCheckTime" example:"2024-01-02T03:30:00Z"`
	LastCheckTime time.Time `json:"lastCheckTime" example:"2024-01-01T03:30:00Z"`
}

type EnvConfig struct {
	Daemon     bool   `json:"daemon"`
	ListenPort int    `json:"listenPort"`
	Version    string `json:"version"`
	KeeperDir  string `json:"keeperDir"`
}

type ServerState struct {
	StartTime  time.Time       `json:"startTime"`
	EnsureLoop EnsureLoopState `json:"ensureLoop"`
	Env        EnvConfig       `json:"env"`
	Tunnels    []TunnelRecord  `json:"tunnels"`
}
