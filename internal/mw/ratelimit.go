package mw

import (
	"net"
	"sync"
	"time"

	"chatbull/internal/apperr"
	"chatbull/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// RL 为每个 key 维护一个令牌桶，空闲超过 ttl 的 key 由 gc 回收。
type RL struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

// NewWindowLimiter 允许每个 key 在 window 内最多 n 次，令牌按 window/n 匀速恢复。
func NewWindowLimiter(n int, window time.Duration) *RL {
	ttl := window * 2
	if ttl < 2*time.Minute {
		ttl = 2 * time.Minute
	}
	return NewRateLimiter(rate.Every(window/time.Duration(n)), n, ttl)
}

func (rl *RL) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.m[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(rl.r, rl.b)
	rl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (rl *RL) Allow(key string) bool { return rl.get(key).Allow() }

// Start 启动后台 GC，可重复调用。
func (rl *RL) Start() *RL {
	rl.once.Do(func() { go rl.gc() })
	return rl
}

func (rl *RL) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for k, v := range rl.m {
				if now.Sub(v.ts) > rl.ttl {
					delete(rl.m, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (rl *RL) Stop() {
	select {
	case <-rl.stop:
	default:
		close(rl.stop)
	}
}

// RateLimit 返回一个基于 IP+路径的令牌桶限速中间件。
func RateLimit(rl *RL) gin.HandlerFunc {
	rl.Start()
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		key := ip + "|" + c.FullPath()
		if c.FullPath() == "" {
			key = ip + "|" + c.Request.URL.Path
		}
		if !rl.Allow(key) {
			c.AbortWithStatusJSON(429, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// PerUser 按已认证用户 + 路由限速，必须挂在 auth.Middleware 之后。
func PerUser(rl *RL) gin.HandlerFunc {
	rl.Start()
	return func(c *gin.Context) {
		if !rl.Allow(auth.GetUserID(c) + "|" + c.FullPath()) {
			err := apperr.Exhausted("too many attempts, try again later")
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.From(err).Message, "code": apperr.CodeExhausted})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
