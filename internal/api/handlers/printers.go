package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kioskctl/printwatch/internal/spooler"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PrinterResponse struct {
	Name     string `json:"name"`
	JobCount int    `json:"job_count"`
}

type QueuedJobResponse struct {
	ID        uint32    `json:"id"`
	Document  string    `json:"document"`
	User      string    `json:"user"`
	Pages     int       `json:"pages"`
	Spooling  bool      `json:"spooling"`
	Paused    bool      `json:"paused"`
	Submitted time.Time `json:"submitted"`
}

// PrinterHandler exposes the spooler's view of the monitored queues.
type PrinterHandler struct {
	spooler  spooler.Spooler
	printers []string
}

func NewPrinterHandler(sp spooler.Spooler, printers []string) *PrinterHandler {
	return &PrinterHandler{spooler: sp, printers: printers}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	ctx := c.Request.Context()
	names := h.printers
	if len(names) == 0 {
		var err error
		names, err = h.spooler.Printers(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "spooler_error",
				Message: "Failed to list printers",
			})
			return
		}
	}

	resp := make([]PrinterResponse, 0, len(names))
	for _, name := range names {
		ids, err := h.spooler.Jobs(ctx, name)
		if err != nil {
			continue
		}
		resp = append(resp, PrinterResponse{Name: name, JobCount: len(ids)})
	}
	c.JSON(http.StatusOK, gin.H{"printers": resp})
}

func (h *PrinterHandler) ListQueue(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	ids, err := h.spooler.Jobs(ctx, name)
	if err != nil {
		if errors.Is(err, spooler.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Printer not found"})
			return
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "spooler_error", Message: "Failed to read queue"})
		return
	}

	jobs := make([]QueuedJobResponse, 0, len(ids))
	for _, id := range ids {
		info, err := h.spooler.Job(ctx, name, id)
		if err != nil {
			// Finished between listing and reading.
			continue
		}
		jobs = append(jobs, QueuedJobResponse{
			ID:        uint32(info.ID),
			Document:  info.Document,
			User:      info.User,
			Pages:     info.TotalPages,
			Spooling:  info.Spooling,
			Paused:    info.Paused,
			Submitted: info.Submitted,
		})
	}
	c.JSON(http.StatusOK, gin.H{"printer": name, "jobs": jobs})
}

func RegisterPrinterRoutes(r *gin.RouterGroup, h *PrinterHandler) {
	r.GET("/printers", h.ListPrinters)
	r.GET("/printers/:name/jobs", h.ListQueue)
}
