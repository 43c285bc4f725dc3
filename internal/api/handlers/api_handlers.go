package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/core/models"
	"smart-doorbell-go/internal/core/processor"
	"smart-doorbell-go/internal/notify"
	"smart-doorbell-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Response messages of POST /upload. Devices match on them, so they are not translated.
const (
	msgNoImageData  = "No image data received"
	msgNoFace       = "No face detected"
	msgTooLarge     = "Image too large"
	msgProcessError = "Failed to process image"
)

// ImageProcessor handles one upload
type ImageProcessor interface {
	ProcessImage(ctx context.Context, data []byte) (*processor.Result, error)
	Labels() []string
}

// CaptureRepository is the read side of the capture database
type CaptureRepository interface {
	GetCaptureByID(id uint) (*models.Capture, error)
	GetCaptureByFilename(filename string) (*models.Capture, error)
	GetDeliveriesByCaptureID(captureID uint) ([]models.Delivery, error)
	GetCaptures(limit, offset int) ([]models.Capture, int64, error)
	GetStatistics(unknownLabel string) (models.Statistics, error)
}

// PoolStats exposes the notification pool state
type PoolStats interface {
	Stats() notify.Stats
}

// APIHandler serves the upload endpoint and the JSON API
type APIHandler struct {
	cfg       *config.Config
	processor ImageProcessor
	repo      CaptureRepository
	pool      PoolStats
	startedAt time.Time
}

// NewAPIHandler creates the handler. repo and pool may be nil.
func NewAPIHandler(cfg *config.Config, processor ImageProcessor, repo CaptureRepository, pool PoolStats) *APIHandler {
	return &APIHandler{
		cfg:       cfg,
		processor: processor,
		repo:      repo,
		pool:      pool,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers the JSON API below router
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/captures", h.ListCaptures)
	router.GET("/captures/:ref", h.GetCapture)
	router.GET("/status", h.GetStatus)
}

// Upload classifies the raw image in the request body
func (h *APIHandler) Upload(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Server.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgTooLarge})
			return
		}
		log.WithError(err).Warn("Failed to read upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoImageData})
		return
	}

	result, err := h.processor.ProcessImage(c.Request.Context(), data)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, processor.ErrNoImageData):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoImageData})
	case errors.Is(err, processor.ErrNoFaceDetected):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFace})
	default:
		log.WithError(err).Error("Upload processing failed")
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgProcessError})
	}
}

// CaptureResponse is one entry of GET /api/captures
type CaptureResponse struct {
	ID            uint              `json:"id"`
	Filename      string            `json:"filename"`
	URL           string            `json:"url"`
	CapturedAt    time.Time         `json:"captured_at"`
	Label         string            `json:"label"`
	Predicted     string            `json:"predicted"`
	Confidence    float64           `json:"confidence"`
	Probabilities interface{}       `json:"probabilities,omitempty"`
	Deliveries    []models.Delivery `json:"deliveries,omitempty"`
}

// ListCaptures returns capture records newest first
func (h *APIHandler) ListCaptures(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture database not available"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}

	captures, total, err := h.repo.GetCaptures(limit, offset)
	if err != nil {
		log.WithError(err).Error("Failed to list captures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list captures"})
		return
	}

	items := make([]CaptureResponse, len(captures))
	for i, cp := range captures {
		items[i] = h.captureResponse(cp)
	}

	c.JSON(http.StatusOK, gin.H{
		"captures": items,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetCapture returns one capture with its deliveries. ref is the record id
// or the capture filename.
func (h *APIHandler) GetCapture(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Capture database not available"})
		return
	}

	ref := c.Param("ref")
	var (
		cp  *models.Capture
		err error
	)
	if id, convErr := strconv.ParseUint(ref, 10, 64); convErr == nil {
		cp, err = h.repo.GetCaptureByID(uint(id))
	} else {
		cp, err = h.repo.GetCaptureByFilename(ref)
	}
	if err != nil {
		log.WithError(err).Errorf("Failed to load capture %s", ref)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load capture"})
		return
	}
	if cp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
		return
	}

	deliveries, err := h.repo.GetDeliveriesByCaptureID(cp.ID)
	if err != nil {
		log.WithError(err).Warnf("Failed to load deliveries of capture %d", cp.ID)
	} else {
		cp.Deliveries = deliveries
	}

	c.JSON(http.StatusOK, h.captureResponse(*cp))
}

func (h *APIHandler) captureResponse(cp models.Capture) CaptureResponse {
	return CaptureResponse{
		ID:            cp.ID,
		Filename:      cp.Filename,
		URL:           path.Join(h.cfg.Server.CaptureURL, cp.Filename),
		CapturedAt:    cp.CapturedAt,
		Label:         cp.Label,
		Predicted:     cp.Predicted,
		Confidence:    cp.Confidence,
		Probabilities: cp.Probabilities,
		Deliveries:    cp.Deliveries,
	}
}

// GetStatus reports the model, the notification pool and the host
func (h *APIHandler) GetStatus(c *gin.Context) {
	status := gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
		"model": gin.H{
			"labels":        h.processor.Labels(),
			"threshold":     h.cfg.Recognition.ConfidenceThreshold,
			"unknown_label": h.cfg.Recognition.UnknownLabel,
		},
		"system": utils.GetSystemStats(),
	}

	if h.pool != nil {
		status["notifications"] = h.pool.Stats()
	}
	if h.repo != nil {
		if stats, err := h.repo.GetStatistics(h.cfg.Recognition.UnknownLabel); err != nil {
			log.WithError(err).Warn("Failed to read capture statistics")
		} else {
			status["captures"] = stats
		}
	}

	c.JSON(http.StatusOK, status)
}
