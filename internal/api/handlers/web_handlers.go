package handlers

import (
	"fmt"
	"html/template"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/api/middleware"
	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CaptureLister lists the stored capture files
type CaptureLister interface {
	List() ([]capture.Entry, error)
}

// WebHandler renders the gallery
type WebHandler struct {
	cfg       *config.Config
	store     CaptureLister
	templates *template.Template
	languages []string
	now       func() time.Time
}

// NewWebHandler parses the templates from cfg.Server.TemplateDir
func NewWebHandler(cfg *config.Config, store CaptureLister, languages []string) (*WebHandler, error) {
	h := &WebHandler{
		cfg:       cfg,
		store:     store,
		languages: languages,
		now:       timezone.Now,
	}

	funcMap := template.FuncMap{
		"captureURL": func(name string) string {
			return path.Join(cfg.Server.CaptureURL, name)
		},
		"formatTime": func(t time.Time) string {
			return t.Format("02.01.2006 15:04:05")
		},
	}

	pattern := filepath.Join(cfg.Server.TemplateDir, "*.html")
	templates, err := template.New("").Funcs(funcMap).ParseGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	h.templates = templates
	log.Infof("Loaded %d templates", len(templates.Templates()))
	return h, nil
}

// EventsPath is where the gallery listens for new captures
const EventsPath = "/api/events"

// RegisterRoutes registers the gallery
func (h *WebHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", h.Index)
}

// Index shows all captures newest first and highlights the one nearest to now
func (h *WebHandler) Index(c *gin.Context) {
	entries, err := h.store.List()
	if err != nil {
		log.WithError(err).Warn("Failed to list captures, showing an empty gallery")
		entries = nil
	}
	gallery := capture.BuildGallery(entries, h.now())

	h.render(c, "index.html", gin.H{
		"Images":      gallery.Images,
		"Latest":      gallery.Latest,
		"CurrentTime": gallery.CurrentTime,
		"eventsURL":   EventsPath,
	})
}

func (h *WebHandler) render(c *gin.Context, name string, data gin.H) {
	if h.templates.Lookup(name) == nil {
		log.Errorf("Template %s not found", name)
		c.String(http.StatusInternalServerError, "Template not found")
		return
	}

	lang := c.GetString(middleware.LanguageKey)
	if lang == "" {
		lang = h.cfg.I18n.DefaultLanguage
	}
	t, ok := c.Get(middleware.TranslatorKey)
	if !ok {
		t = func(id string) string { return id }
	}

	data["language"] = lang
	data["languages"] = h.languages
	data["t"] = t

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.templates.ExecuteTemplate(c.Writer, name, data); err != nil {
		log.Errorf("Template execution error: %v", err)
		c.String(http.StatusInternalServerError, "Template error")
	}
}
