package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"provably-fair-backend/internal/logger"
	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
)

type AdminHandler struct {
	gameEngine *services.GameEngine
}

func NewAdminHandler(gameEngine *services.GameEngine) *AdminHandler {
	return &AdminHandler{gameEngine: gameEngine}
}

func (h *AdminHandler) GetProfit(c *gin.Context) {
	totals, err := h.gameEngine.Ledger.HouseProfit(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "profit", totals)
}

func (h *AdminHandler) GetHouseEdge(c *gin.Context) {
	edge := h.gameEngine.Edges.Current().Edge()
	respondOK(c, "house_edge", gin.H{
		"version":           edge.Version,
		"edge":              edge.EdgeFraction,
		"max_multiplier":    edge.MaxMultiplier,
		"growth_rate":       edge.GrowthRate,
		"payout_multiplier": h.gameEngine.Edges.Current().PayoutMultiplier(),
		"min_edge":          services.MinAdjustableEdge,
		"max_edge":          services.MaxAdjustableEdge,
	})
}

func (h *AdminHandler) UpdateHouseEdge(c *gin.Context) {
	var req models.EdgeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	edge, err := h.gameEngine.Edges.Update(c.Request.Context(), req.EdgeFraction, req.MaxMultiplier)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Log.Info("house edge updated",
		zap.Int64("admin_id", c.GetInt64("user_id")),
		zap.Int("version", edge.Version),
		zap.String("edge", edge.EdgeFraction.String()))
	respondOK(c, "house_edge", edge)
}

func (h *AdminHandler) GetLeaderboard(c *gin.Context) {
	entries, err := h.gameEngine.Ledger.Leaderboard(c.Request.Context(), queryLimit(c, 10, 100))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "leaderboard", entries)
}
