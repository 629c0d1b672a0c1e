package credits

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genforge/server/internal/utils/middleware"
)

// Handler handles HTTP requests for the credit ledger.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new credits handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes registers the user-facing credit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	creditsGroup := r.Group("/credits")
	{
		creditsGroup.GET("/balance", h.GetBalance)
		creditsGroup.GET("/transactions", h.ListTransactions)
		creditsGroup.GET("/limits", h.GetLimits)
	}
}

// RegisterAdminRoutes registers the admin-only credit routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/credits/topup", h.TopUp)
}

// GetBalance returns the caller's balance across both tiers.
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		PackageTotal:     balance.PackageTotal,
		PackageUsed:      balance.PackageUsed,
		PackageRemaining: balance.AvailablePackage(),
		AccountBalance:   balance.AccountBalance,
		TotalAvailable:   balance.TotalAvailable(),
	})
}

// ListTransactions returns the caller's ledger history, newest first.
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	txs, err := h.ledger.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetLimits returns the caller's plan limit status.
func (h *Handler) GetLimits(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.ledger.CheckPackageLimits(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check limits"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// TopUp credits a user's account balance. Admin only; user-facing purchases
// go through the payment flow, this is for support adjustments.
func (h *Handler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	result, err := h.ledger.Refill(c.Request.Context(), userID, req.Credits, TransactionTopUp, req.Reason, nil)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credits must be positive"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to top up"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_balance": result.NewBalance})
}
