package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kioskctl/printwatch/internal/archive"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive_error", Message: "Failed to list archives"})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}
	c.JSON(http.StatusOK, ArchiveListResponse{Archives: archives, Count: len(archives)})
}

// TriggerArchive runs an archive pass now instead of waiting for the
// next scheduled one.
func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": n})
}

// DownloadArchive serves an archive as a plain sqlite file, decrypting
// it first when needed.
func (h *ArchiveHandler) DownloadArchive(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))
	if !strings.HasPrefix(filename, "outcomes_") {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Archive not found"})
		return
	}

	if !strings.HasSuffix(filename, ".age") {
		path := filepath.Join(h.archiver.GetArchivePath(), filename)
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Archive not found"})
			return
		}
		c.FileAttachment(path, filename)
		return
	}

	if !h.archiver.HasPassphrase() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_passphrase", Message: "Archive passphrase not configured"})
		return
	}

	tmpFile, err := os.CreateTemp("", "archive-download-*.db")
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive_error", Message: "Failed to create temp file"})
		return
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := h.archiver.DecryptArchive(filename, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "archive_error",
			Message: fmt.Sprintf("Failed to decrypt archive: %v", err),
		})
		return
	}

	c.FileAttachment(tmpPath, strings.TrimSuffix(filename, ".age"))
}

func RegisterArchiveRoutes(r *gin.RouterGroup, h *ArchiveHandler) {
	r.GET("/archives", h.ListArchives)
	r.POST("/archives/run", h.TriggerArchive)
	r.GET("/archives/:filename", h.DownloadArchive)
}
