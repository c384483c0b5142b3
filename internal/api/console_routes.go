package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/api/middleware"
)

// RegisterConsoleRoutes 注册 /api 下的控制台路由，下发接口受 API Key 保护
func RegisterConsoleRoutes(r gin.IRouter, h *ConsoleHandler, apiKeys []string, logger *zap.Logger) {
	g := r.Group("/api")
	g.GET("/frames", h.ListFrames)
	g.POST("/decode", h.DecodeFrames)
	g.POST("/frames", middleware.APIKeyAuth(apiKeys, logger), h.SendFrame)
}
