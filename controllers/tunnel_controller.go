package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

// TunnelController handles tunnel-related HTTP requests
type TunnelController struct {
	tunnelService *services.TunnelManager
}

// NewTunnelController creates a new TunnelController with initialized tunnel service
func NewTunnelController() *TunnelController {
	return &TunnelController{
		tunnelService: services.GetTunnelManager(),
	}
}

// specFromRequest 由请求体构造经过验证的隧道参数，缺省值取自配置
func specFromRequest(req *models.CreateTunnelRequest) (*models.TunnelSpec, error) {
	cfg := config.Get()
	server := req.Server
	localPort := req.LocalPort
	username := req.Username
	if req.Mode == models.ModeEphemeral {
		if server == "" {
			server = cfg.Ephemeral.RelayHost
		}
		if localPort == 0 {
			localPort = cfg.Ephemeral.LocalPort
		}
	}
	if username == "" {
		username = cfg.Relay.Username
	}
	return models.NewTunnelSpec(req.Mode, server, localPort, req.RemotePort, username)
}

// CreateTunnel establishes a reverse tunnel (idempotent)
//
//	@Summary		Create reverse tunnel
//	@Description	Establish reverse tunnel from the given spec; already-running tunnels succeed without a restart
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.CreateTunnelRequest	true	"Create tunnel request parameters"
//	@Success		200		{object}	models.TunnelRecord		"Tunnel record"
//	@Failure		400		{object}	models.ErrorResponse	"Invalid parameter error response"
//	@Failure		500		{object}	models.ErrorResponse	"Tunnel creation failure error response"
//	@Router			/tunnel-keeper/api/v1/tunnels [post]
func (tc *TunnelController) CreateTunnel(c *gin.Context) {
	var req models.CreateTunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Error: "Invalid request parameters",
		})
		return
	}

	spec, err := specFromRequest(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	tun, err := tc.tunnelService.Setup(c.Request.Context(), spec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, tun.TunnelRecord)
}

// DeleteTunnel tears down a tunnel by identity key
//
//	@Summary		Tear down tunnel
//	@Description	Tear down the tunnel identified by key
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			key	path		string					true	"Identity key"
//	@Success		200	{object}	models.TunnelResponse	"Tunnel teardown success response"
//	@Failure		404	{object}	models.ErrorResponse	"Tunnel not found error response"
//	@Failure		500	{object}	models.ErrorResponse	"Tunnel teardown failure error response"
//	@Router			/tunnel-keeper/api/v1/tunnels/{key} [delete]
func (tc *TunnelController) DeleteTunnel(c *gin.Context) {
	key := c.Param("key")

	if err := tc.tunnelService.Teardown(key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrTunnelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, &models.TunnelResponse{
		Key:     key,
		Status:  "success",
		Message: fmt.Sprintf("Successfully tore down tunnel %s", key),
	})
}

// ListTunnels lists all known tunnels
//
//	@Summary		List all tunnels
//	@Description	Get list of all known tunnels
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Success		200	{array}		models.TunnelRecord		"Tunnel list response"
//	@Router			/tunnel-keeper/api/v1/tunnels [get]
func (tc *TunnelController) ListTunnels(c *gin.Context) {
	c.JSON(http.StatusOK, tc.tunnelService.List())
}

// GetTunnelInfo gets details of specific tunnel
//
//	@Summary		Get tunnel info
//	@Description	Get record of the tunnel identified by key
//	@Tags			Tunnels
//	@Accept			json
//	@Produce		json
//	@Param			key	path		string					true	"Identity key"
//	@Success		200	{object}	models.TunnelRecord		"Tunnel details response"
//	@Failure		404	{object}	models.ErrorResponse	"Tunnel not found error response"
//	@Router			/tunnel-keeper/api/v1/tunnels/{key} [get]
func (tc *TunnelController) GetTunnelInfo(c *gin.Context) {
	key := c.Param("key")

	tunnel, err := tc.tunnelService.GetTunnelInfo(key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrTunnelNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, tunnel)
}

// GetTunnelEndpoint reports the externally reachable endpoint
//
//	@Summary		Get tunnel endpoint
//	@Description	Report the public endpoint of the tunnel; rescans the client log for ephemeral tunnels
//	@Tags			Tunnels
//	@Produce		json
//	@Param			key	path		string					true	"Identity key"
//	@Success		200	{object}	models.EndpointInfo		"Endpoint response"
//	@Failure		404	{object}	models.ErrorResponse	"Tunnel or endpoint not found error response"
//	@Router			/tunnel-keeper/api/v1/tunnels/{key}/endpoint [get]
func (tc *TunnelController) GetTunnelEndpoint(c *gin.Context) {
	key := c.Param("key")

	rec, err := tc.tunnelService.GetTunnelInfo(key)
	if err != nil {
		c.JSON(http.StatusNotFound, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	endpoint, err := tc.tunnelService.Info(&rec.Spec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrNotYetAvailable) {
			status = http.StatusNotFound
		}
		c.JSON(status, &models.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, endpoint)
}

// EnsureTunnels runs one check-and-repair pass over all known tunnels
//
//	@Summary		Ensure tunnels
//	@Description	Check every known tunnel and repair the unhealthy ones
//	@Tags			Tunnels
//	@Produce		json
//	@Success		200	{array}		models.EnsureResult	"Per-tunnel check results"
//	@Router			/tunnel-keeper/api/v1/tunnels/ensure [post]
func (tc *TunnelController) EnsureTunnels(c *gin.Context) {
	c.JSON(http.StatusOK, tc.tunnelService.EnsureAll(c.Request.Context()))
}

/**
* Register all tunnel-related routes to Gin engine
* @param {*gin.Engine} r - Gin router instance
* @description
* - Creates /tunnel-keeper/api/v1 route group
* - Registers routes for:
*   - Create tunnel (POST /tunnels)
*   - List all tunnels (GET /tunnels)
*   - Check and repair (POST /tunnels/ensure)
*   - Get specific tunnel record (GET /tunnels/{key})
*   - Get tunnel endpoint (GET /tunnels/{key}/endpoint)
*   - Tear down tunnel (DELETE /tunnels/{key})
 */
func (tc *TunnelController) RegisterRoutes(r *gin.Engine) {
	tunnelAPI := r.Group("/tunnel-keeper/api/v1")
	{
		// 隧道管理接口
		tunnels := tunnelAPI.Group("/tunnels")
		{
			tunnels.POST("", tc.CreateTunnel)
			tunnels.GET("", tc.ListTunnels)
			tunnels.POST("/ensure", tc.EnsureTunnels)
			tunnels.GET("/:key", tc.GetTunnelInfo)
			tunnels.GET("/:key/endpoint", tc.GetTunnelEndpoint)
			tunnels.DELETE("/:key", tc.DeleteTunnel)
		}
	}
}
