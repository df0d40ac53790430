package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kioskctl/printwatch/internal/core"
)

type StartSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	OrgID  string `json:"org_id" binding:"required"`
}

// SessionHandler lets the kiosk front end report who is signed in.
type SessionHandler struct {
	sessions *core.Sessions
}

func NewSessionHandler(sessions *core.Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.sessions.Active()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "user_id": s.UserID, "org_id": s.OrgID})
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.sessions.Start(req.UserID, req.OrgID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "user_id": req.UserID, "org_id": req.OrgID})
}

func (h *SessionHandler) End(c *gin.Context) {
	h.sessions.End()
	c.JSON(http.StatusOK, gin.H{"active": false})
}

func RegisterSessionRoutes(r *gin.RouterGroup, h *SessionHandler) {
	r.GET("/session", h.Get)
	r.PUT("/session", h.Start)
	r.DELETE("/session", h.End)
}
