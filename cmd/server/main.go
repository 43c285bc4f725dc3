package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/api/handlers"
	"smart-doorbell-go/internal/api/middleware"
	"smart-doorbell-go/internal/capture"
	"smart-doorbell-go/internal/cleanup"
	"smart-doorbell-go/internal/core/processor"
	"smart-doorbell-go/internal/db"
	"smart-doorbell-go/internal/db/repository"
	"smart-doorbell-go/internal/hardware"
	"smart-doorbell-go/internal/integrations/homeassistant"
	"smart-doorbell-go/internal/integrations/mqtt"
	"smart-doorbell-go/internal/logger"
	"smart-doorbell-go/internal/notify"
	"smart-doorbell-go/internal/recognition/classifier"
	"smart-doorbell-go/internal/recognition/embedding/dlib"
	"smart-doorbell-go/internal/server/sse"
	"smart-doorbell-go/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "config.yaml"

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("DOORBELL_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	} else {
		defer logCloser.Close()
	}

	timezone.Initialize(cfg.Server.Timezone)

	// Database
	log.Info("Initializing database...")
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close(gdb)
	repo := repository.NewSQLiteRepository(gdb)

	store, err := capture.NewStore(cfg.Capture.Dir, cfg.Capture.TempDir, timezone.Location())
	if err != nil {
		log.Fatalf("Failed to open capture store: %v", err)
	}

	// Recognition
	model, err := classifier.Load(cfg.Recognition.ClassifierPath)
	if err != nil {
		log.Fatalf("Failed to load classifier (run cmd/train first): %v", err)
	}
	log.Infof("Classifier loaded: %d labels, trained %s", len(model.Labels), model.TrainedAt.Format(time.RFC3339))

	extractor, err := dlib.NewExtractor(cfg.Recognition.ModelsDir)
	if err != nil {
		log.Fatalf("Failed to initialize face extractor: %v", err)
	}
	defer extractor.Close()

	// Notification sinks
	var notifiers []notify.Notifier
	if cfg.RemoteLog.Enabled {
		remoteLog, err := notify.NewRemoteLog(cfg.RemoteLog)
		if err != nil {
			log.Warnf("Remote log disabled: %v", err)
		} else {
			notifiers = append(notifiers, remoteLog)
		}
	}

	feedback := hardware.Open(cfg.Hardware, cfg.Recognition.UnknownLabel)
	defer feedback.Close()
	notifiers = append(notifiers, notify.NewHardware(feedback))

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		if cfg.MQTT.HomeAssistant.Enabled {
			discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT)
			mqttClient.OnConnect(func() {
				if err := discovery.Register(); err != nil {
					log.Warnf("Home Assistant discovery failed: %v", err)
				}
			})
		}
		if err := mqttClient.Start(); err != nil {
			// paho keeps retrying in the background
			log.Warnf("MQTT client error: %v", err)
		}
		defer mqttClient.Stop()
		notifiers = append(notifiers, homeassistant.NewPublisher(mqttClient, cfg.MQTT))
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Live gallery updates
	hub := sse.NewHub(cfg.Server.CaptureURL)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	notifiers = append(notifiers, hub)

	pool := notify.NewWorkerPool(cfg.Notify, repo, notifiers...)
	imageProcessor := processor.NewImageProcessor(extractor, model, store, repo, pool, cfg.Recognition)

	// Cleanup
	cleanupService := cleanup.NewService(repo, store, cfg.Cleanup.RetentionDays,
		time.Duration(cfg.Cleanup.CheckIntervalHours)*time.Hour)
	cleanupService.StartBackgroundCleanup()
	defer cleanupService.StopBackgroundCleanup()

	// HTTP
	translator, err := middleware.NewTranslator(middleware.I18nConfig{
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		LocalesDir:      cfg.I18n.LocalesDir,
	})
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}

	webHandler, err := handlers.NewWebHandler(cfg, store, translator.Languages())
	if err != nil {
		log.Fatalf("Failed to initialize web handlers: %v", err)
	}
	apiHandler := handlers.NewAPIHandler(cfg, imageProcessor, repo, pool)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(sessions.Sessions("doorbell", cookie.NewStore([]byte(cfg.Server.SessionSecret))))
	router.Use(middleware.I18n(translator))

	router.POST("/upload", apiHandler.Upload)
	webHandler.RegisterRoutes(router)
	router.Static(cfg.Server.CaptureURL, store.Dir())
	log.Infof("Serving captures from %s under %s", store.Dir(), cfg.Server.CaptureURL)

	apiGroup := router.Group("/api")
	apiGroup.Use(cors.Default())
	apiHandler.RegisterRoutes(apiGroup)
	router.GET(handlers.EventsPath, hub.Stream)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}
	// event streams never finish on their own
	server.RegisterOnShutdown(stopHub)

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
	if err := pool.Shutdown(ctx); err != nil {
		log.Warnf("Notification pool did not drain: %v", err)
	}

	log.Info("Server stopped.")
}
