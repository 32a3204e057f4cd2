package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"provably-fair-backend/internal/models"
	"provably-fair-backend/internal/services"
)

type GameHandler struct {
	gameEngine *services.GameEngine
}

func NewGameHandler(gameEngine *services.GameEngine) *GameHandler {
	return &GameHandler{gameEngine: gameEngine}
}

func (h *GameHandler) CommitSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	commitment, err := h.gameEngine.CommitSeed(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "commitment", commitment)
}

func (h *GameHandler) GetPendingSeeds(c *gin.Context) {
	userID := c.GetInt64("user_id")

	pending, err := h.gameEngine.Vault.Pending(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "commitments", pending)
}

func (h *GameHandler) OpenCoinflip(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.OpenCoinflipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.gameEngine.OpenCoinflip(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "result", result)
}

func (h *GameHandler) RideCoinflip(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.RideCoinflipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.gameEngine.RideCoinflip(c.Request.Context(), userID, req.Guess)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "result", result)
}

func (h *GameHandler) CashOutCoinflip(c *gin.Context) {
	userID := c.GetInt64("user_id")

	result, err := h.gameEngine.CashOutCoinflip(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "result", result)
}

func (h *GameHandler) GetCoinflipSession(c *gin.Context) {
	userID := c.GetInt64("user_id")

	session, err := h.gameEngine.Coinflip.Session(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "session", session)
}

func (h *GameHandler) StartCrash(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.StartCrashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.gameEngine.StartCrash(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "game", result)
}

func (h *GameHandler) CashOutCrash(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.CrashCashOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.gameEngine.CashOutCrash(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "result", result)
}

func (h *GameHandler) GetActiveCrash(c *gin.Context) {
	userID := c.GetInt64("user_id")

	info, err := h.gameEngine.Crash.Active(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "game", info)
}

func (h *GameHandler) GetCrashHistory(c *gin.Context) {
	userID := c.GetInt64("user_id")

	rounds, err := h.gameEngine.Crash.History(c.Request.Context(), userID, queryLimit(c, 50, 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"games":   rounds,
		"count":   len(rounds),
	})
}

func (h *GameHandler) GetCrashRound(c *gin.Context) {
	userID := c.GetInt64("user_id")
	id, ok := paramID(c)
	if !ok {
		return
	}

	round, err := h.gameEngine.Crash.OwnedRound(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "game", round)
}

func (h *GameHandler) GetCrashStats(c *gin.Context) {
	userID := c.GetInt64("user_id")

	stats, err := h.gameEngine.Crash.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "stats", stats)
}

func (h *GameHandler) GetRecentCrashes(c *gin.Context) {
	rounds, err := h.gameEngine.Crash.Recent(c.Request.Context(), queryLimit(c, services.MaxRecentRounds, services.MaxRecentRounds))
	if err != nil {
		respondError(c, err)
		return
	}
	multipliers := make([]gin.H, 0, len(rounds))
	for _, r := range rounds {
		multipliers = append(multipliers, gin.H{
			"round_id":   r.ID,
			"crashed_at": r.CrashedAt,
			"created_at": r.CreatedAt,
		})
	}
	respondOK(c, "rounds", multipliers)
}

func (h *GameHandler) VerifyRound(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	result, err := h.gameEngine.VerifyRound(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "verification", result)
}

func (h *GameHandler) VerifyInputs(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.gameEngine.Verifier.VerifyInputs(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "verification", result)
}
