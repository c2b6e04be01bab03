package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"tunnel-keeper/internal/logger"
)

// httpClient HTTP客户端实现
type httpClient struct {
	config    *HTTPConfig
	client    *http.Client
	transport *http.Transport
	connected bool
	mu        sync.Mutex
}

/**
 * Create new HTTP client for talking to the resident keeper
 * @param {HTTPConfig} config - HTTP client configuration, nil for defaults
 * @returns {HTTPClient} HTTP client interface
 * @description
 * - Prefers the keeper's Unix socket, falls back to TCP when absent
 * - Initializes custom transport lazily on first request
 * - Configures timeout and connection settings
 */
func NewHTTPClient(config *HTTPConfig) HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	client := &httpClient{
		config:    config,
		transport: &http.Transport{},
	}
	client.client = &http.Client{
		Transport: client.transport,
		Timeout:   config.Timeout,
	}
	return client
}

func (c *httpClient) do(method, path string, params map[string]interface{}, data interface{}) (*HTTPResponse, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	url, err := buildURL(c.config.BaseURL, path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	body, err := serializeData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize data: %w", err)
	}

	logger.Debugf("Sending %s request to %s", method, url)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	httpResp, err := deserializeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return httpResp, nil
}

// Get 发送GET请求
func (c *httpClient) Get(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do("GET", path, params, nil)
}

// Post 发送POST请求
func (c *httpClient) Post(path string, data interface{}) (*HTTPResponse, error) {
	return c.do("POST", path, nil, data)
}

// Delete 发送DELETE请求
func (c *httpClient) Delete(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do("DELETE", path, params, nil)
}

// Close 关闭客户端连接
func (c *httpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	c.connected = false
	logger.Debugf("HTTP client connection closed")
	return nil
}

// ensureConnected 确保客户端已连接
/**
 * Ensure transport is wired to the configured endpoint
 * @returns {error} Error if the Unix socket is missing
 * @description
 * - For unix network, verifies the socket file and installs a custom dialer
 * - For tcp network, dials the configured address directly
 */
func (c *httpClient) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	address := c.config.Address
	network := c.config.Network
	if network == "unix" {
		if _, err := os.Stat(address); os.IsNotExist(err) {
			return fmt.Errorf("socket file not found at %s", address)
		}
	}
	c.transport.DialContext = func(ctx context.Context, _ string, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	c.connected = true

	logger.Debugf("Connected to HTTP server at %s://%s", network, address)
	return nil
}
