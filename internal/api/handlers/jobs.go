package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kioskctl/printwatch/internal/core"
	"github.com/kioskctl/printwatch/internal/db"
)

type MonitoredJobResponse struct {
	Printer    string    `json:"printer"`
	JobID      uint32    `json:"job_id"`
	State      string    `json:"state"`
	UserID     string    `json:"user_id,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
	Settled    bool      `json:"settled"`
}

type ListOutcomesQuery struct {
	UserID string `form:"user_id"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type JobHandler struct {
	table    *core.KnownJobs
	outcomes *db.OutcomeOperations
}

func NewJobHandler(table *core.KnownJobs, outcomes *db.OutcomeOperations) *JobHandler {
	return &JobHandler{
		table:    table,
		outcomes: outcomes,
	}
}

// ListMonitored returns jobs the monitor is processing or has recently
// settled.
func (h *JobHandler) ListMonitored(c *gin.Context) {
	snapshot := h.table.Snapshot()
	resp := make([]MonitoredJobResponse, 0, len(snapshot))
	inFlight := 0
	for _, kj := range snapshot {
		if !kj.Settled {
			inFlight++
		}
		resp = append(resp, MonitoredJobResponse{
			Printer:    kj.Key.Printer,
			JobID:      uint32(kj.Key.JobID),
			State:      string(kj.State),
			UserID:     kj.UserID,
			AcceptedAt: kj.AcceptedAt,
			Settled:    kj.Settled,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp, "in_flight": inFlight})
}

func (h *JobHandler) ListOutcomes(c *gin.Context) {
	var q ListOutcomesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Message: err.Error()})
		return
	}

	outcomes, err := h.outcomes.ListOutcomes(c.Request.Context(), q.UserID, q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve outcomes",
		})
		return
	}
	if outcomes == nil {
		outcomes = []*db.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func RegisterJobRoutes(r *gin.RouterGroup, h *JobHandler) {
	r.GET("/monitor/jobs", h.ListMonitored)
	r.GET("/outcomes", h.ListOutcomes)
}
