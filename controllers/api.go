package controllers

import (
	"tunnel-keeper/internal/config"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

type APIController struct {
	server *services.Server
}

/**
 * Create new API controller instance
 * @param {*services.Server} server - Resident server instance
 * @returns {*APIController} New API controller instance
 * @description
 * - Registers configuration and health endpoints
 * @example
 * controller := controllers.NewAPIController(server)
 * controller.RegisterRoutes(router)
 */
func NewAPIController(server *services.Server) *APIController {
	return &APIController{
		server: server,
	}
}

func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.POST("/tunnel-keeper/api/v1/reload", a.ReloadConfig)
	r.GET("/tunnel-keeper/api/v1/state", a.GetState)
	r.GET("/healthz", a.Healthz)
}

// @Summary 重新加载配置
// @Description 重新加载应用配置文件
// @Tags Config
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /tunnel-keeper/api/v1/reload [post]
func (a *APIController) ReloadConfig(c *gin.Context) {
	if err := config.ReloadConfig(); err != nil {
		c.JSON(500, gin.H{
			"code":    "config.reload_failed",
			"message": "Failed to reload configuration: " + err.Error(),
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "success",
		"message": "Configuration reloaded successfully",
	})
}

// @Summary 服务器状态
// @Description 返回keeper进程的运行状态、检查周期和已知隧道
// @Tags System
// @Produce json
// @Success 200 {object} models.ServerState
// @Router /tunnel-keeper/api/v1/state [get]
func (a *APIController) GetState(c *gin.Context) {
	c.JSON(200, a.server.GetState())
}

// @Summary 业务就绪探针
// @Description 检查服务是否已经做好准备，返回服务版本、启动时间、健康状态和关键指标统计结果
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	c.JSON(200, a.server.GetHealthz())
}
