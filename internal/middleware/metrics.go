package middleware

import (
	"time"

	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
)

/**
 * HTTP请求统计中间件
 * @description
 * - 统计HTTP服务器收到的请求数量
 * - 记录请求处理时间
 * - 区分成功和失败的请求
 * - 为健康检查接口提供请求数据
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		start := time.Now()

		// 处理请求
		c.Next()

		duration := time.Since(start).Seconds()
		statusCode := c.Writer.Status()

		// 使用请求路径作为handler标识
		handler := c.FullPath()
		if handler == "" {
			handler = "unknown"
		}

		services.IncrementRequestCount(handler)
		services.RecordRequestDuration(handler, duration)

		if statusCode >= 400 {
			services.IncrementErrorCount(handler)
		}
	}
}
