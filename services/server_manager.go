package services

import (
	"context"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
)

type Server struct {
	cfg           *config.AppConfig
	tunnels       *TunnelManager
	startTime     time.Time
	lastCheckTime time.Time
	nextCheckTime time.Time
}

/**
 * Create new server instance
 * @param {config.AppConfig} cfg - Application configuration
 * @returns {Server} Returns new server instance
 * @description
 * - Wraps the tunnel manager for resident (server) mode
 * - Used as the main entry point for server operations
 */
func NewServer(cfg *config.AppConfig) *Server {
	return &Server{
		cfg:       cfg,
		tunnels:   GetTunnelManager(),
		startTime: time.Now(),
	}
}

func (s *Server) Tunnels() *TunnelManager {
	return s.tunnels
}

/**
 * Init 启动时执行一次全量check-and-repair
 * @description
 * - keeper重启后立即把缓存中的隧道恢复到期望状态，
 *   不必等第一个定时周期
 */
func (s *Server) Init() error {
	results := s.tunnels.EnsureAll(context.Background())
	s.lastCheckTime = time.Now()
	for _, res := range results {
		if res.Error != "" {
			logger.Warnf("Initial repair of tunnel [%s] failed: %s", res.Key, res.Error)
		}
	}
	return nil
}

/**
 * Start periodic tunnel supervision
 * @param {context.Context} ctx - Context for shutdown
 * @description
 * - Creates ticker with configured ensure interval
 * - Each tick runs one check-and-repair pass over all known tunnels
 * - A failed repair is retried on the next tick, never in a tight loop
 * - Runs until the context is cancelled
 * @example
 * go server.StartEnsureLoop(ctx)
 */
func (s *Server) StartEnsureLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Ensure.IntervalSec) * time.Second
	if interval <= 0 {
		logger.Info("Tunnel supervision is disabled (interval <= 0)")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.nextCheckTime = time.Now().Add(interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results := s.tunnels.EnsureAll(ctx)
			s.lastCheckTime = time.Now()
			s.nextCheckTime = s.lastCheckTime.Add(interval)
			for _, res := range results {
				if res.Repaired {
					logger.Infof("Tunnel [%s] repaired", res.Key)
				} else if res.Error != "" {
					logger.Warnf("Tunnel [%s] repair failed: %s", res.Key, res.Error)
				}
			}
		}
	}
}

func (s *Server) GetState() models.ServerState {
	state := models.ServerState{
		StartTime: s.startTime,
	}
	state.EnsureLoop = models.EnsureLoopState{
		Status:        "active",
		NextCheckTime: s.nextCheckTime,
		LastCheckTime: s.lastCheckTime,
	}
	state.Env.KeeperDir = env.KeeperDir
	state.Env.Daemon = env.Daemon
	state.Env.ListenPort = env.ListenPort
	state.Env.Version = env.Version
	state.Tunnels = s.tunnels.List()
	return state
}

/**
 * Get health check response for the server
 * @returns {models.HealthResponse} Returns server status and key metrics
 * @description
 * - Calculates server uptime from start time
 * - Counts currently healthy tunnels
 * - Used for the /healthz readiness endpoint
 */
func (s *Server) GetHealthz() models.HealthResponse {
	uptime := time.Since(s.startTime)

	activeTunnels := 0
	for _, rec := range s.tunnels.List() {
		if s.tunnels.IsHealthy(rec.Key) {
			activeTunnels++
		}
	}

	return models.HealthResponse{
		Version:   env.Version,
		StartTime: s.startTime.Format(time.RFC3339),
		Status:    "UP",
		Uptime:    uptime.String(),
		Metrics: models.Metrics{
			TotalRequests: GetTotalRequests(),
			ErrorRequests: GetErrorRequests(),
			ActiveTunnels: activeTunnels,
			EnsureRepairs: GetEnsureRepairs(),
		},
	}
}
