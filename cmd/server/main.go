package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/seowatch/seowatch-backend/internal/alerting"
	"github.com/seowatch/seowatch-backend/internal/api/middleware"
	"github.com/seowatch/seowatch-backend/internal/api/rest"
	"github.com/seowatch/seowatch-backend/internal/api/websocket"
	"github.com/seowatch/seowatch-backend/internal/config"
	"github.com/seowatch/seowatch-backend/internal/detector"
	"github.com/seowatch/seowatch-backend/internal/fusion"
	"github.com/seowatch/seowatch-backend/internal/metricstore"
	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/notify"
	"github.com/seowatch/seowatch-backend/internal/pkg/logger"
	"github.com/seowatch/seowatch-backend/internal/pkg/tracing"
	"github.com/seowatch/seowatch-backend/internal/repository"
	"github.com/seowatch/seowatch-backend/internal/service"
	"github.com/seowatch/seowatch-backend/migrations"
)

func main() {
	log.Println("🚀 SEOWatch pipeline starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	slogger := logger.StdLogger(cfg.LogLevel)

	log.Printf("📋 Configuration loaded: port=%d, db=%s, rules=%s", cfg.Port, cfg.DatabasePath, cfg.RulesPath)

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTracing, err := tracing.Init("seowatch-pipeline", cfg.OTLPEndpoint)
	if err != nil {
		log.Printf("⚠️  Tracing init failed, continuing without export: %v", err)
	} else {
		defer shutdownTracing()
	}

	// Initialize database
	log.Println("💾 Initializing database...")
	repo, err := repository.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrationsFS(migrations.FS); err != nil {
		log.Fatalf("❌ Failed to run migrations: %v", err)
	}
	log.Println("✅ Database migrations completed")

	// Metric store: Postgres analytics DB when configured, local otherwise.
	var reader metricstore.Reader
	if cfg.MetricStoreDSN != "" {
		pg, err := metricstore.NewPostgresReader(cfg.MetricStoreDSN)
		if err != nil {
			log.Fatalf("❌ Failed to connect metric store: %v", err)
		}
		defer pg.Close()
		reader = pg
		log.Println("📈 Metric store: Postgres")
	} else {
		reader = metricstore.NewLocalReader(repo)
		log.Println("📈 Metric store: local database")
	}

	// Alert rules are loaded once at startup; an unreadable file is fatal,
	// individually malformed rules are excluded and reported via the API.
	rules, err := alerting.LoadRules(cfg.RulesPath, time.Duration(cfg.SuppressionWindowSec)*time.Second, slogger)
	if err != nil {
		log.Fatalf("❌ Failed to load alert rules: %v", err)
	}
	log.Printf("📜 Alert rules loaded: %d valid of %d", len(rules.Valid()), len(rules.Statuses()))

	// Detection + fusion
	detCfg := detector.Config{
		WindowDays:        cfg.WindowDays,
		MinWindowPoints:   cfg.MinWindowPoints,
		ZThreshold:        cfg.ZScoreThreshold,
		ZCeiling:          cfg.ZScoreCeiling,
		OutlierPercentile: cfg.OutlierPercentile,
		OutlierMinScore:   cfg.OutlierMinScore,
		SeasonCycleDays:   cfg.SeasonCycleDays,
	}
	detectors := []detector.Detector{
		detector.NewStatistical(detCfg, cfg.ZThresholdFor),
		detector.NewOutlier(detCfg, nil),
		detector.NewForecast(detCfg),
	}
	fuser := fusion.NewEngine(repo, fusion.Weights{
		models.DetectorStatistical: cfg.DetectorWeights.Statistical,
		models.DetectorOutlier:     cfg.DetectorWeights.Outlier,
		models.DetectorForecast:    cfg.DetectorWeights.Forecast,
	}, fusion.Bands{
		Medium: cfg.SeverityBands.Medium,
		High:   cfg.SeverityBands.High,
	}, slogger)

	// Delivery
	enqueuer := notify.NewEnqueuer(repo, slogger)
	suppressor := alerting.NewSuppressor(repo, rules, func(ctx context.Context, rule models.AlertRule, s *models.Suppression) error {
		_, err := enqueuer.EnqueueDigest(ctx, rule, s)
		return err
	}, slogger)

	sendTimeout := time.Duration(cfg.SendTimeoutSec) * time.Second
	registry := notify.NewRegistry()
	registry.Register(models.ChannelWebhook, notify.NewWebhookSender(sendTimeout))
	registry.Register(models.ChannelSlack, notify.NewSlackSender(sendTimeout))
	registry.Register(models.ChannelEmail, notify.NewEmailSender(cfg.SMTPAddr, cfg.SMTPFrom))

	// Initialize WebSocket hub
	log.Println("🔌 Initializing WebSocket hub...")
	wsHub := websocket.NewHub(ctx)
	go wsHub.Run()

	dispatcher := notify.NewDispatcher(repo, registry, notify.DispatcherOptions{
		Workers:     cfg.WorkerCount,
		MaxAttempts: cfg.MaxDeliveryAttempts,
		SendTimeout: sendTimeout,
		Backoff: notify.Backoff{
			Base: time.Duration(cfg.BackoffBaseSec) * time.Second,
			Cap:  time.Duration(cfg.BackoffCapSec) * time.Second,
		},
		ChannelRatePerSec: cfg.ChannelRatePerSec,
		OnResult: func(job *models.NotificationJob) {
			if err := wsHub.BroadcastJob(job); err != nil {
				slogger.Warn("job broadcast failed", "job_id", job.ID, "error", err)
			}
		},
	}, slogger)
	dispatcher.Start(ctx)

	// Pipeline + scheduler
	evaluator := alerting.NewEngine(rules)
	pipeline := service.NewPipelineService(reader, detectors, fuser, evaluator, suppressor, enqueuer, rules, repo, repo, cfg, slogger)
	pipeline.SetAlertHook(func(alert *models.Alert, outcome alerting.AdmitOutcome) {
		if err := wsHub.BroadcastAlert(string(outcome), alert); err != nil {
			slogger.Warn("alert broadcast failed", "alert_id", alert.ID, "error", err)
		}
	})

	scheduler := service.NewScheduler(pipeline, cfg, slogger)
	scheduler.Start(ctx)
	log.Println("✅ Pipeline services started")

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.Tracing)
	router.Use(middleware.SecureHeaders)
	router.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))

	healthz := rest.NewHealthzHandler(repo)
	router.HandleFunc("/healthz/live", healthz.Live).Methods("GET")
	router.HandleFunc("/healthz/ready", healthz.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	rest.SetupRoutes(apiRouter, rest.NewHandler(repo, rules, pipeline))

	wsHandler := websocket.NewHandler(ctx, wsHub, cfg.AllowedOrigins)
	router.HandleFunc("/ws/alerts", wsHandler.ServeWS).Methods("GET")

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handlerWithCORS := c.Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlerWithCORS,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on port %d", cfg.Port)
		log.Printf("📡 API available at http://localhost:%d/api/v1", cfg.Port)
		log.Printf("🔌 Alert feed at ws://localhost:%d/ws/alerts", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")

	// Order matters: stop producing (scheduler), stop delivering
	// (dispatcher waits for in-flight sends), then close the front door.
	scheduler.Stop()
	dispatcher.Stop()
	wsHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server exited gracefully")
}
