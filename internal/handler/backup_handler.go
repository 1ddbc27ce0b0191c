package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-desk-api/internal/dto"
	"github.com/noah-isme/tutor-desk-api/internal/models"
	"github.com/noah-isme/tutor-desk-api/internal/service"
	"github.com/noah-isme/tutor-desk-api/pkg/clock"
	appErrors "github.com/noah-isme/tutor-desk-api/pkg/errors"
	"github.com/noah-isme/tutor-desk-api/pkg/response"
)

// BackupHandler exposes snapshot, restore and import/export endpoints.
type BackupHandler struct {
	service *service.BackupService
}

// NewBackupHandler constructs handler.
func NewBackupHandler(svc *service.BackupService) *BackupHandler {
	return &BackupHandler{service: svc}
}

// List godoc
// @Summary List stored backups
// @Description Newest first, payloads omitted
// @Tags Backups
// @Produce json
// @Param limit query int false "Max rows"
// @Success 200 {object} response.Envelope
// @Router /backups [get]
func (h *BackupHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	backups, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.BackupListItem, 0, len(backups))
	for i := range backups {
		items = append(items, backupListItem(&backups[i]))
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Create godoc
// @Summary Create a manual backup
// @Tags Backups
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /backups [post]
func (h *BackupHandler) Create(c *gin.Context) {
	backup, err := h.service.CreateManual(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	item := backupListItem(backup)
	response.Created(c, item)
}

// RestoreLatest godoc
// @Summary Restore the newest valid backup
// @Description Replaces current state; snapshots with corrupt payloads are skipped
// @Tags Backups
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /backups/restore [post]
func (h *BackupHandler) RestoreLatest(c *gin.Context) {
	backup, err := h.service.RestoreLatest(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, backupListItem(backup), nil)
}

// RestoreByID godoc
// @Summary Restore a specific backup
// @Tags Backups
// @Produce json
// @Param id path string true "Backup ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /backups/{id}/restore [post]
func (h *BackupHandler) RestoreByID(c *gin.Context) {
	backup, err := h.service.RestoreByID(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, backupListItem(backup), nil)
}

// Cleanup godoc
// @Summary Run the retention sweep now
// @Description Snapshots current state, then removes sessions older than the retention window
// @Tags Backups
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /backups/cleanup [post]
func (h *BackupHandler) Cleanup(c *gin.Context) {
	result, err := h.service.RunRetentionSweep(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export full state as a portable file
// @Description Body is the interchange document itself, not wrapped in the envelope
// @Tags Backups
// @Produce json
// @Success 200 {object} models.ExportFile
// @Router /export [get]
func (h *BackupHandler) Export(c *gin.Context) {
	file, err := h.service.Export(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	stamp := time.Now().Format("2006-01-02")
	c.Header("Content-Disposition", `attachment; filename="tutordesk-export-`+stamp+`.json"`)
	c.JSON(http.StatusOK, file)
}

// Import godoc
// @Summary Import a previously exported file
// @Description All-or-nothing replacement; v2.0 files get dates and ledger migrated
// @Tags Backups
// @Accept json
// @Produce json
// @Param payload body models.ExportFile true "Export document"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /import [post]
func (h *BackupHandler) Import(c *gin.Context) {
	var file models.ExportFile
	if err := c.ShouldBindJSON(&file); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrImportInvalid.Code, http.StatusBadRequest, "not a valid export document"))
		return
	}
	result, err := h.service.Import(c.Request.Context(), file, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func backupListItem(backup *models.Backup) dto.BackupListItem {
	item := dto.BackupListItem{
		ID:           backup.ID,
		Kind:         string(backup.Kind),
		Sessions:     len(backup.Payload.Classes),
		Rates:        len(backup.Payload.StudentRates),
		Payments:     len(backup.Payload.PaymentStatus),
		RemovedCount: backup.RemovedCount,
		CreatedAt:    backup.CreatedAt.Format(time.RFC3339),
	}
	if backup.CutoffDate != nil {
		item.CutoffDate = clock.FormatDate(*backup.CutoffDate)
	}
	return item
}
