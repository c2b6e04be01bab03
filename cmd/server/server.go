package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/controllers"
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/middleware"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the resident keeper (HTTP API + periodic tunnel supervision)",
	Run: func(cmd *cobra.Command, args []string) {
		env.Daemon = true
		if err := startServer(context.Background()); err != nil {
			logger.Fatalf("Server failed: %v", err)
		}
	},
}

/**
 * 启动常驻keeper
 * @description
 * - 同时侦听TCP地址和unix socket，CLI命令优先走socket
 * - 注册隧道管理API、健康检查和Prometheus指标路由
 * - 后台周期性地对所有已知隧道做check-and-repair
 */
func startServer(ctx context.Context) error {
	cfg := config.Get()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.MetricsMiddleware())

	srv := services.NewServer(cfg)
	controllers.NewAPIController(srv).RegisterRoutes(router)
	controllers.NewTunnelController().RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := srv.Init(); err != nil {
		return err
	}
	go srv.StartEnsureLoop(ctx)

	addrs := []ListenAddr{
		{Network: "tcp", Address: cfg.Server.Address},
	}
	if IsUnixSocketSupported() {
		socketDir := filepath.Join(env.KeeperDir, "run")
		if err := os.MkdirAll(socketDir, 0755); err == nil {
			addrs = append(addrs, ListenAddr{
				Network: "unix",
				Address: filepath.Join(socketDir, "tunnel-keeper.sock"),
			})
		}
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		return fmt.Errorf("no listener available: %w", err)
	}

	errCh := make(chan error, len(listeners))
	for _, listener := range listeners {
		logger.Infof("Serving on %s", listener.Addr())
		go func(l net.Listener) {
			errCh <- http.Serve(l, router)
		}(listener)
	}
	return <-errCh
}

func init() {
	root.RootCmd.AddCommand(serverCmd)

	serverCmd.Example = `  tunnel-keeper server`
}
