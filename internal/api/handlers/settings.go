package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kioskctl/printwatch/internal/config"
	"github.com/kioskctl/printwatch/internal/core"
	"github.com/kioskctl/printwatch/internal/db"
)

type SetPricingRequest struct {
	Mono  *decimal.Decimal `json:"mono"`
	Color *decimal.Decimal `json:"color"`
}

type SettingsHandler struct {
	pricing  *db.PricingOperations
	resolver *core.PricingResolver
	cfg      *config.Config
}

func NewSettingsHandler(pricing *db.PricingOperations, resolver *core.PricingResolver, cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{
		pricing:  pricing,
		resolver: resolver,
		cfg:      cfg,
	}
}

func (h *SettingsHandler) GetPricing(c *gin.Context) {
	orgID := c.Param("id")
	p, err := h.pricing.GetPricing(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, core.ErrOrgNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Organization has no pricing"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve pricing",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"org_id": orgID,
		"mono":   p.PricePerPageMono,
		"color":  p.PricePerPageColor,
	})
}

// SetPricing stores new rates and drops the cached copy so the next job
// is priced with them.
func (h *SettingsHandler) SetPricing(c *gin.Context) {
	var req SetPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if req.Mono == nil || req.Color == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "mono and color are required"})
		return
	}
	if req.Mono.IsNegative() || req.Color.IsNegative() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "rates must not be negative"})
		return
	}

	orgID := c.Param("id")
	if err := h.pricing.SetPricing(c.Request.Context(), orgID, *req.Mono, *req.Color); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update pricing",
		})
		return
	}
	h.resolver.Invalidate(orgID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"org_id":  orgID,
		"mono":    req.Mono,
		"color":   req.Color,
	})
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	m := h.cfg.Monitor
	c.JSON(http.StatusOK, gin.H{
		"spooler_driver":    h.cfg.Spooler.Driver,
		"printers":          h.cfg.Spooler.Printers,
		"poll_interval":     m.PollInterval.String(),
		"step_timeout":      m.StepTimeout.String(),
		"inspect_attempts":  m.InspectAttempts,
		"settled_retention": m.SettledRetention.String(),
		"pricing_cache_ttl": h.cfg.Pricing.CacheTTL.String(),
		"webhook_endpoints": len(h.cfg.Notifications.Endpoints),
	})
}

func RegisterSettingsRoutes(r *gin.RouterGroup, h *SettingsHandler) {
	r.GET("/orgs/:id/pricing", h.GetPricing)
	r.PUT("/orgs/:id/pricing", h.SetPricing)
	r.GET("/settings/server", h.GetServerConfig)
}
