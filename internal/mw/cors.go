package mw

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// CORS 返回跨域中间件：allowed 非空时只放行列表中的来源；否则 dev 环境放行所有来源，
// 其他环境只放行与请求 Host 相同的来源。
func CORS(env string, allowed []string) gin.HandlerFunc {
	allow := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allow[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if originAllowed(origin, c.Request.Host, env, allow) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin, host, env string, allow map[string]struct{}) bool {
	if len(allow) > 0 {
		_, ok := allow[origin]
		return ok
	}
	if env == "dev" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == host
}
