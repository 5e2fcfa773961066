package server

import (
	"net/http"
	"time"

	"chatbull/internal/auth"
	"chatbull/internal/config"
	"chatbull/internal/hub"
	"chatbull/internal/metrics"
	"chatbull/internal/mw"
	"chatbull/internal/service"
	"chatbull/internal/store"
	"chatbull/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Limiters 是路由使用的限速器，由调用方在关停时 Stop。
type Limiters struct {
	PerIP        *mw.RL
	PrivateStart *mw.RL
}

func NewLimiters(cfg config.Config) Limiters {
	return Limiters{
		PerIP:        mw.NewRateLimiter(rate.Every(time.Second/20), 40, 10*time.Minute),
		PrivateStart: mw.NewWindowLimiter(cfg.PrivateStartLimit, cfg.PrivateStartWindow),
	}
}

func (l Limiters) Stop() {
	l.PerIP.Stop()
	l.PrivateStart.Stop()
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及两个 WebSocket 端点。
func SetupRouter(cfg config.Config, st store.Store, h *hub.Hub, tracker *ws.Tracker, lim Limiters) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率。
	r.Use(mw.RateLimit(lim.PerIP))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": h.Registry().Len(), "connections": tracker.Online()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	verifier := auth.NewVerifier(cfg.JWTSecret, st)
	handler := NewHandler(
		service.NewUserService(st, cfg),
		service.NewSessionService(st, h, cfg.PrivateSessionTTL),
		service.NewGroupService(st, h.Registry()),
		service.NewMessageService(st),
	)

	api := r.Group("/api/v1")
	api.POST("/auth/register", handler.Register)
	api.POST("/auth/login", handler.Login)
	api.POST("/auth/refresh", handler.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(verifier))
	authed.POST("/private/start", mw.PerUser(lim.PrivateStart), handler.StartPrivate)
	authed.POST("/private/end", handler.EndPrivate)
	authed.POST("/groups", handler.CreateGroup)
	authed.GET("/groups/:id/members", handler.GroupMembers)
	authed.GET("/messages", handler.ListMessages)

	wsOpts := ws.Options{PingInterval: cfg.WSPingInterval, PongWait: cfg.WSPongWait}
	r.GET("/ws", ws.Serve(h, verifier, hub.NamespaceMain, tracker, wsOpts))
	r.GET("/ws/private", ws.Serve(h, verifier, hub.NamespacePrivate, tracker, wsOpts))
	return r
}
