package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/api/middleware"
	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/core/models"
	"smart-doorbell-go/internal/core/processor"
	"smart-doorbell-go/internal/notify"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	result *processor.Result
	err    error
	got    []byte
}

func (f *fakeProcessor) ProcessImage(ctx context.Context, data []byte) (*processor.Result, error) {
	f.got = data
	if len(data) == 0 {
		return nil, processor.ErrNoImageData
	}
	return f.result, f.err
}

func (f *fakeProcessor) Labels() []string { return []string{"alice", "bob"} }

type fakeRepo struct {
	captures   []models.Capture
	deliveries []models.Delivery
}

func (r *fakeRepo) GetCaptureByID(id uint) (*models.Capture, error) {
	for i := range r.captures {
		if r.captures[i].ID == id {
			cp := r.captures[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetCaptureByFilename(filename string) (*models.Capture, error) {
	for i := range r.captures {
		if r.captures[i].Filename == filename {
			cp := r.captures[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetDeliveriesByCaptureID(captureID uint) ([]models.Delivery, error) {
	var out []models.Delivery
	for _, d := range r.deliveries {
		if d.CaptureID == captureID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetCaptures(limit, offset int) ([]models.Capture, int64, error) {
	end := offset + limit
	if end > len(r.captures) {
		end = len(r.captures)
	}
	if offset > end {
		offset = end
	}
	return r.captures[offset:end], int64(len(r.captures)), nil
}

func (r *fakeRepo) GetStatistics(unknownLabel string) (models.Statistics, error) {
	return models.Statistics{TotalCaptures: int64(len(r.captures))}, nil
}

type fakePool struct{}

func (fakePool) Stats() notify.Stats { return notify.Stats{Workers: 2, QueueCapacity: 32} }

type fakeLister struct {
	entries []capture.Entry
	err     error
}

func (l *fakeLister) List() ([]capture.Entry, error) { return l.entries, l.err }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.TemplateDir = "../../../web/templates"
	cfg.Server.CaptureURL = "/captures"
	cfg.Server.MaxUploadBytes = 1024
	cfg.Recognition.ConfidenceThreshold = 0.5
	cfg.Recognition.UnknownLabel = "unknown"
	cfg.I18n.DefaultLanguage = "en"
	cfg.I18n.LocalesDir = "../../../web/locales"
	return cfg
}

func newAPIRouter(proc *fakeProcessor, repo CaptureRepository) *gin.Engine {
	h := NewAPIHandler(testConfig(), proc, repo, fakePool{})
	r := gin.New()
	r.POST("/upload", h.Upload)
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name      string
		body      []byte
		result    *processor.Result
		err       error
		wantCode  int
		wantError string
	}{
		{"success", []byte("jpeg"), &processor.Result{Filename: "image_2025-03-14_09-26-53.jpg", Label: "alice", Confidence: 0.9933}, nil, http.StatusOK, ""},
		{"empty body", nil, nil, nil, http.StatusBadRequest, "No image data received"},
		{"no face", []byte("jpeg"), nil, fmt.Errorf("%w: zero detections", processor.ErrNoFaceDetected), http.StatusBadRequest, "No face detected"},
		{"storage failure", []byte("jpeg"), nil, errors.New("disk full"), http.StatusInternalServerError, "Failed to process image"},
		{"too large", bytes.Repeat([]byte("x"), 2048), nil, nil, http.StatusRequestEntityTooLarge, "Image too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{result: tt.result, err: tt.err}
			r := newAPIRouter(proc, nil)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "image/jpeg")
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			body := decode(t, w)
			if tt.wantError != "" {
				if body["error"] != tt.wantError {
					t.Errorf("error = %v, want %q", body["error"], tt.wantError)
				}
				return
			}
			if body["filename"] != "image_2025-03-14_09-26-53.jpg" || body["label"] != "alice" || body["confidence"] != 0.9933 {
				t.Errorf("unexpected body %v", body)
			}
			if len(body) != 3 {
				t.Errorf("response should only carry filename, label and confidence: %v", body)
			}
			if string(proc.got) != "jpeg" {
				t.Errorf("processor received %q", proc.got)
			}
		})
	}
}

func TestListCaptures(t *testing.T) {
	repo := &fakeRepo{}
	for i := 0; i < 3; i++ {
		repo.captures = append(repo.captures, models.Capture{
			Filename:   fmt.Sprintf("image_2025-03-14_09-26-5%d.jpg", i),
			Label:      "alice",
			Confidence: 0.9,
		})
	}
	r := newAPIRouter(&fakeProcessor{}, repo)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/captures?limit=2&offset=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	items := body["captures"].([]interface{})
	if len(items) != 2 || body["total"] != float64(3) {
		t.Fatalf("unexpected body %v", body)
	}
	first := items[0].(map[string]interface{})
	if first["url"] != "/captures/image_2025-03-14_09-26-51.jpg" {
		t.Errorf("unexpected url %v", first["url"])
	}

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "limit=501"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/captures?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGetCapture(t *testing.T) {
	repo := &fakeRepo{
		captures: []models.Capture{{Filename: "image_2025-03-14_09-26-53.jpg", Label: "alice", Confidence: 0.99}},
		deliveries: []models.Delivery{
			{CaptureID: 7, Sink: notify.SinkRemoteLog, Success: true},
			{CaptureID: 7, Sink: notify.SinkHardware, Success: false, Error: "i2c nack"},
			{CaptureID: 8, Sink: notify.SinkMQTT, Success: true},
		},
	}
	repo.captures[0].ID = 7
	r := newAPIRouter(&fakeProcessor{}, repo)

	for _, ref := range []string{"7", "image_2025-03-14_09-26-53.jpg"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/captures/"+ref, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d: %s", ref, w.Code, w.Body.String())
		}
		body := decode(t, w)
		if body["id"] != float64(7) || body["label"] != "alice" {
			t.Errorf("%s: unexpected body %v", ref, body)
		}
		if deliveries, _ := body["deliveries"].([]interface{}); len(deliveries) != 2 {
			t.Errorf("%s: expected 2 deliveries, got %v", ref, body["deliveries"])
		}
	}

	for _, ref := range []string{"99", "image_2000-01-01_00-00-00.jpg"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/captures/"+ref, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", ref, w.Code)
		}
	}
}

func TestGetStatus(t *testing.T) {
	r := newAPIRouter(&fakeProcessor{}, &fakeRepo{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	model := body["model"].(map[string]interface{})
	if labels := model["labels"].([]interface{}); len(labels) != 2 {
		t.Errorf("unexpected labels %v", labels)
	}
	if _, ok := body["notifications"]; !ok {
		t.Errorf("notification stats missing")
	}
	if _, ok := body["system"]; !ok {
		t.Errorf("system stats missing")
	}
}

func newWebRouter(t *testing.T, lister CaptureLister, now time.Time) *gin.Engine {
	t.Helper()
	cfg := testConfig()
	translator, err := middleware.NewTranslator(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	})
	if err != nil {
		t.Fatalf("NewTranslator failed: %v", err)
	}
	h, err := NewWebHandler(cfg, lister, translator.Languages())
	if err != nil {
		t.Fatalf("NewWebHandler failed: %v", err)
	}
	h.now = func() time.Time { return now }

	r := gin.New()
	r.Use(sessions.Sessions("doorbell", cookie.NewStore([]byte("test-secret"))))
	r.Use(middleware.I18n(translator))
	h.RegisterRoutes(r)
	return r
}

func TestIndex(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{entries: []capture.Entry{
		{Name: "image_2025-03-14_08-00-00.jpg", CapturedAt: now.Add(-4 * time.Hour)},
		{Name: "image_2025-03-14_11-55-00.jpg", CapturedAt: now.Add(-5 * time.Minute)},
	}}
	r := newWebRouter(t, lister, now)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	html := w.Body.String()

	newest := strings.Index(html, `alt="image_2025-03-14_11-55-00.jpg" loading`)
	oldest := strings.Index(html, `alt="image_2025-03-14_08-00-00.jpg" loading`)
	if newest < 0 || oldest < 0 || newest > oldest {
		t.Errorf("captures not listed newest first")
	}
	if !strings.Contains(html, `/captures/image_2025-03-14_11-55-00.jpg?t=20250314120000`) {
		t.Errorf("latest capture or cache buster missing")
	}
	if !strings.Contains(html, "Latest visitor") {
		t.Errorf("english text missing")
	}
}

func TestIndex_LanguageIsRemembered(t *testing.T) {
	r := newWebRouter(t, &fakeLister{}, time.Now())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?lang=de", nil))
	if !strings.Contains(w.Body.String(), "Noch keine Aufnahmen.") {
		t.Fatalf("german gallery expected: %s", w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("language was not stored in the session")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "Noch keine Aufnahmen.") {
		t.Errorf("session language not applied")
	}
}

func TestIndex_AcceptLanguage(t *testing.T) {
	r := newWebRouter(t, &fakeLister{}, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "Smarte Türklingel") {
		t.Errorf("Accept-Language not honoured")
	}
}

func TestIndex_ListErrorShowsEmptyGallery(t *testing.T) {
	r := newWebRouter(t, &fakeLister{err: errors.New("permission denied")}, time.Now())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No captures yet.") {
		t.Errorf("expected empty gallery, got %d", w.Code)
	}
}
