package services

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/models"
)

// resolveScanBytes bounds how much of the log tail is scanned per resolve.
// The banner reappears on every reconnect, so the tail always suffices.
const resolveScanBytes = 256 * 1024

/**
 * EndpointResolver recovers the externally reachable address of a tunnel
 * whose endpoint is assigned by the relay rather than chosen by the caller
 * @property {*regexp.Regexp} pattern - Banner pattern, endpoint URL as group 1
 * @description
 * - Pure text parsing of the client's append-only log, no side effects
 * - The relay may reassign the endpoint on every reconnect, so the last
 *   matching line wins and nothing is cached
 */
type EndpointResolver struct {
	pattern *regexp.Regexp
}

func NewEndpointResolver(pattern string) (*EndpointResolver, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid banner pattern %q: %w", pattern, err)
	}
	return &EndpointResolver{pattern: re}, nil
}

// DefaultEndpointResolver builds a resolver from the configured pattern.
func DefaultEndpointResolver() (*EndpointResolver, error) {
	return NewEndpointResolver(config.Get().Ephemeral.BannerPattern)
}

/**
 * Resolve 从日志中提取最近一次分配的外部端点
 * @param {string} logPath - 客户端日志文件路径
 * @returns {(*models.EndpointInfo, error)} 返回端点信息
 * @description
 * - 日志不存在或没有匹配行时返回ErrNotYetAvailable（正常的过渡状态，非错误）
 * - 多次匹配时取最后一次：重连后中继可能重新分配端点，更早的行已过期
 * - 只读取当前内容的尾部，不会阻塞等待新行
 */
func (r *EndpointResolver) Resolve(logPath string) (*models.EndpointInfo, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrNotYetAvailable
		}
		return nil, fmt.Errorf("failed to read tunnel log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat tunnel log: %w", err)
	}
	if info.Size() > resolveScanBytes {
		if _, err := f.Seek(info.Size()-resolveScanBytes, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek tunnel log: %w", err)
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tunnel log: %w", err)
	}

	matches := r.pattern.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return nil, models.ErrNotYetAvailable
	}
	last := matches[len(matches)-1]
	url := last[0]
	if len(last) > 1 {
		url = last[1]
	}
	return &models.EndpointInfo{URL: string(url)}, nil
}
