// Package main is the entry point for the civic grievance engine server.
// It exposes the REST API for grievance submission, duplicate checks,
// listings and the review workflow, and runs the relevance worker and the
// group reconciler in-process.
//
// Architecture:
//   - Every submission is resolved to a ward and compared with open reports nearby
//   - Restated issues are merged into one group led by the first report
//   - Credibility and priority are derived values, refreshed on every merge
//   - A queue feeds new reports to the relevance worker for async re-scoring
//   - New reports are announced on ward-scoped websocket rooms
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicplus/grievance-engine/internal/config"
	"github.com/civicplus/grievance-engine/internal/database"
	"github.com/civicplus/grievance-engine/internal/filestore"
	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/handlers"
	"github.com/civicplus/grievance-engine/internal/middleware"
	"github.com/civicplus/grievance-engine/internal/notify"
	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/services"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const workerConcurrency = 4

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger, _ := zap.NewProduction()
	if !cfg.IsProduction() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("Starting grievance engine",
		"port", cfg.Port,
		"env", cfg.Environment,
		"store", cfg.StoreDriver,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Scoring overrides
	overrides, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		sugar.Fatalf("Failed to load scoring config: %v", err)
	}
	calc := scoring.NewCalculator(overrides.SeverityTable(scoring.DefaultSeverityTable))
	classifier := scoring.NewKeywordClassifier(overrides.RelevanceKeywords)

	// Record store
	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		Pool: database.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			ApplicationName: "grievance-engine",
		},
	}, sugar)
	if err != nil {
		sugar.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close(context.Background())

	// Ward boundaries; missing data only disables validation
	resolver := geo.NewResolverFromFile(cfg.WardGeoJSONPath, sugar)

	// Queue and event fan-out
	hub := notify.NewHub(sugar)
	var (
		jobs      queue.Queue
		publisher notify.Publisher = hub
	)
	if cfg.RedisURL != "" {
		rq, err := queue.NewRedis(ctx, cfg.RedisURL, queue.DefaultName)
		if err != nil {
			sugar.Fatalf("Failed to connect to Redis: %v", err)
		}
		jobs = rq
		publisher = notify.Multi{hub, notify.NewRedisPublisher(rq.Client())}
		sugar.Infow("Using Redis queue and event fan-out", "queue", queue.DefaultName)
	} else {
		jobs = queue.NewMemory(1024)
		sugar.Warn("REDIS_URL not set, relevance queue is in-process")
	}
	defer jobs.Close()

	// Evidence storage
	var files filestore.Backend
	var local *filestore.Local
	if cfg.S3Bucket != "" {
		files, err = filestore.NewS3(ctx, filestore.S3Config{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		}, sugar)
		if err != nil {
			sugar.Fatalf("Failed to configure S3: %v", err)
		}
	} else {
		local, err = filestore.NewLocal(cfg.UploadDir, cfg.PublicBaseURL+"/uploads")
		if err != nil {
			sugar.Fatalf("Failed to prepare upload dir: %v", err)
		}
		files = local
	}

	// Initialize services
	detector := services.NewDuplicateDetector(st, resolver, cfg.GroupingRadiusMeters, sugar)
	groups := services.NewGroupAggregator(st, calc, sugar)
	grievanceSvc := services.NewGrievanceService(services.GrievanceDeps{
		Store:      st,
		Resolver:   resolver,
		Detector:   detector,
		Groups:     groups,
		Limiter:    services.NewRateLimiter(st, cfg.GrievancesPer24h, sugar),
		Calculator: calc,
		Files:      files,
		Queue:      jobs,
		Publisher:  publisher,
	}, services.IntakeOptions{
		GroupingLookback:   cfg.GroupingLookback,
		QuickCheckLookback: cfg.QuickCheckLookback,
		OldPhotoAge:        cfg.OldPhotoAge,
	}, sugar)
	reviewSvc := services.NewReviewService(st, groups, sugar)

	// Background workers
	if cfg.WorkerEnabled {
		worker := services.NewRelevanceWorker(st, jobs, classifier, calc, cfg.WorkerAttempts, cfg.WorkerBackoff, sugar)
		go worker.Start(ctx, workerConcurrency)
	}
	reconciler := services.NewGroupReconciler(st, groups, sugar)
	go reconciler.Start(ctx, cfg.ReconcileInterval)

	// Initialize handlers
	grievanceHandler := handlers.NewGrievanceHandler(grievanceSvc, sugar)
	reviewHandler := handlers.NewReviewHandler(reviewSvc, grievanceSvc, sugar)
	zoneHandler := handlers.NewZoneHandler(grievanceSvc, sugar)
	healthHandler := handlers.NewHealthHandler(st, resolver, sugar)
	feedHandler := handlers.NewFeedHandler(hub, cfg.AllowedOrigins, sugar)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(middleware.RateLimit(cfg.RateLimitRPM))

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Live feed is long-lived and stays outside the request timeout
		r.Get("/ws", feedHandler.Serve)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))

			// Health check
			r.Get("/health", healthHandler.Check)
			r.Get("/health/ready", healthHandler.Ready)

			// Zone lookup (public)
			r.Get("/zones/resolve", zoneHandler.Resolve)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(cfg.JWTSecret))

				r.Route("/grievances", func(r chi.Router) {
					r.Post("/", grievanceHandler.Submit)
					r.Post("/check", grievanceHandler.Check)
					r.Get("/", grievanceHandler.List)
					r.Get("/mine", grievanceHandler.Mine)
					r.Get("/stats", grievanceHandler.Stats)
					r.Get("/{id}", grievanceHandler.Get)
					r.Get("/{id}/history", reviewHandler.History)

					r.With(middleware.RequireRole("officer", "admin")).Put("/{id}/status", reviewHandler.UpdateStatus)
				})

				r.With(middleware.RequireRole("officer", "admin")).Post("/groups/{groupId}/recompute", reviewHandler.Recompute)
			})
		})
	})

	// Serve locally stored evidence
	if local != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(local.Dir()))))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	// Stop background workers first
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}
