package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"provably-fair-backend/internal/middleware"
	"provably-fair-backend/internal/services"
)

type RouterDeps struct {
	Engine    *services.GameEngine
	JWT       *services.JWTService
	WebSocket *WebSocketHandler
	// Limiter may be nil, which disables per-user rate limiting.
	Limiter middleware.RateLimiter
	Limits  middleware.RateLimits
	Log     *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(deps.Log))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	userHandler := NewUserHandler(deps.Engine)
	gameHandler := NewGameHandler(deps.Engine)
	adminHandler := NewAdminHandler(deps.Engine)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"edge_version": deps.Engine.Edges.Current().Edge().Version,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/verify", gameHandler.VerifyInputs)
	router.GET("/rounds/:id/verify", gameHandler.VerifyRound)
	router.GET("/crash/recent", gameHandler.GetRecentCrashes)
	router.GET("/leaderboard", adminHandler.GetLeaderboard)

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(deps.JWT))
	if deps.Limiter != nil {
		protected.Use(middleware.RateLimitMiddleware(deps.Limiter, deps.Limits))
	}
	{
		protected.POST("/account", userHandler.OpenAccount)
		protected.GET("/me", userHandler.GetCurrentUser)
		protected.GET("/balance", userHandler.GetBalance)
		protected.GET("/transactions", userHandler.GetTransactions)

		if deps.WebSocket != nil {
			protected.GET("/ws", deps.WebSocket.HandleWebSocket)
		}

		seeds := protected.Group("/seeds")
		{
			seeds.POST("/commit", gameHandler.CommitSeed)
			seeds.GET("", gameHandler.GetPendingSeeds)
		}

		coinflip := protected.Group("/coinflip")
		{
			coinflip.POST("/open", gameHandler.OpenCoinflip)
			coinflip.POST("/ride", gameHandler.RideCoinflip)
			coinflip.POST("/cashout", gameHandler.CashOutCoinflip)
			coinflip.GET("/session", gameHandler.GetCoinflipSession)
		}

		crash := protected.Group("/crash")
		{
			crash.POST("/start", gameHandler.StartCrash)
			crash.POST("/cashout", gameHandler.CashOutCrash)
			crash.GET("/active", gameHandler.GetActiveCrash)
			crash.GET("/rounds", gameHandler.GetCrashHistory)
			crash.GET("/rounds/:id", gameHandler.GetCrashRound)
			crash.GET("/stats", gameHandler.GetCrashStats)
		}
	}

	admin := router.Group("/admin")
	admin.Use(middleware.AuthMiddleware(deps.JWT), middleware.AdminOnly())
	{
		admin.GET("/profit", adminHandler.GetProfit)
		admin.GET("/house-edge", adminHandler.GetHouseEdge)
		admin.POST("/house-edge", adminHandler.UpdateHouseEdge)
	}

	return router
}
