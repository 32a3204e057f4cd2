package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"provably-fair-backend/internal/services"
)

type UserHandler struct {
	gameEngine *services.GameEngine
}

func NewUserHandler(gameEngine *services.GameEngine) *UserHandler {
	return &UserHandler{gameEngine: gameEngine}
}

// OpenAccount creates the caller's wallet with the starting credits. Calling
// it again returns the existing wallet unchanged.
func (h *UserHandler) OpenAccount(c *gin.Context) {
	userID := c.GetInt64("user_id")

	wallet, err := h.gameEngine.OpenAccount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "wallet", wallet.Summary())
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	account, err := h.gameEngine.Account(c.Request.Context(), userID.(int64))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": account.UserID,
		"session": gin.H{
			"session_id": c.GetString("session_id"),
		},
		"wallet":       account.Wallet,
		"ride_session": account.RideSession,
		"active_crash": account.ActiveCrash,
	})
}

func (h *UserHandler) GetBalance(c *gin.Context) {
	userID := c.GetInt64("user_id")

	wallet, err := h.gameEngine.Ledger.Wallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "balance", wallet.Summary())
}

func (h *UserHandler) GetTransactions(c *gin.Context) {
	userID := c.GetInt64("user_id")

	txs, err := h.gameEngine.Ledger.Transactions(c.Request.Context(), userID, queryLimit(c, 50, 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": txs,
		"count":        len(txs),
	})
}
