package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kioskctl/printwatch/internal/core"
	"github.com/kioskctl/printwatch/internal/db"
)

type CreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type AccountHandler struct {
	accounts *db.AccountOperations
}

func NewAccountHandler(accounts *db.AccountOperations) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) GetBalance(c *gin.Context) {
	account, err := h.accounts.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve balance",
		})
		return
	}
	c.JSON(http.StatusOK, account)
}

// Credit tops up a user's balance. Purchases happen elsewhere; this is
// the operator's manual adjustment.
func (h *AccountHandler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "amount must be positive"})
		return
	}

	account, err := h.accounts.Credit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to credit balance",
		})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accounts.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to list balances",
		})
		return
	}
	if accounts == nil {
		accounts = []*db.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"users": accounts})
}

func RegisterAccountRoutes(r *gin.RouterGroup, h *AccountHandler) {
	r.GET("/users", h.ListAccounts)
	r.GET("/users/:id/balance", h.GetBalance)
	r.POST("/users/:id/credit", h.Credit)
}
