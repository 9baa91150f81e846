package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/tillsync/internal/cache"
	"github.com/prudhvinik1/tillsync/internal/config"
	"github.com/prudhvinik1/tillsync/internal/database"
	"github.com/prudhvinik1/tillsync/internal/models"
	"github.com/prudhvinik1/tillsync/internal/network"
	"github.com/prudhvinik1/tillsync/internal/remote"
	"github.com/prudhvinik1/tillsync/internal/repositories"
	"github.com/prudhvinik1/tillsync/internal/services"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Repositories and cache
	queueRepo := repositories.NewPostgresQueueRepository(postgresPool)
	conflictRepo := repositories.NewPostgresConflictRepository(postgresPool)
	logRepo := repositories.NewPostgresSyncLogRepository(postgresPool)
	entityStore := repositories.NewPostgresEntityStore(postgresPool)
	cacheManager := cache.NewManager(cache.NewRedisStore(redisClient, cfg.MaxCacheSize), cfg.DefaultCacheTTL)

	// Remote applier and connectivity
	applier := remote.NewHTTPApplier(cfg.RemoteURL, cfg.DeviceID, cfg.RemoteSecret)
	monitor := network.NewMonitor(network.NewHTTPProbe(applier.HealthURL()), cfg.ProbeInterval)
	monitor.Start(ctx)

	// Sync services
	bus := services.NewBus()
	syncService := services.NewSyncService(queueRepo, conflictRepo, logRepo, applier, monitor, bus, services.SyncConfig{
		BatchSize:    cfg.SyncBatchSize,
		MaxAttempts:  cfg.SyncMaxAttempts,
		SyncInterval: cfg.SyncInterval,
		RetentionAge: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	})
	conflictService := services.NewConflictService(conflictRepo, queueRepo, entityStore, applier, bus)

	stopSync := syncService.Start(ctx)
	defer stopSync()

	// HTTP server
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Post("/queue/items", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OperationType models.OperationType `json:"operation_type"`
			EntityType    string               `json:"entity_type"`
			EntityID      string               `json:"entity_id"`
			Payload       json.RawMessage      `json:"payload"`
			Priority      models.Priority      `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := syncService.Enqueue(r.Context(), services.EnqueueRequest{
			OperationType: req.OperationType,
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			Payload:       req.Payload,
			Priority:      req.Priority,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	})

	router.Post("/queue/retry-failed", func(w http.ResponseWriter, r *http.Request) {
		n, err := syncService.RetryFailed(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
	})

	router.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		summary, err := syncService.ForceSync(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if summary.Busy {
			writeJSON(w, http.StatusConflict, summary)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	router.Get("/sync/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := syncService.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	router.Get("/conflicts", func(w http.ResponseWriter, r *http.Request) {
		conflicts, err := conflictService.ListUnresolved(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, conflicts)
	})

	router.Post("/conflicts/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var req struct {
			Strategy models.ResolutionStrategy `json:"strategy"`
			Data     json.RawMessage           `json:"data,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := conflictService.Resolve(r.Context(), id, req.Strategy, req.Data); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
	})

	router.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := cacheManager.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrConflictResolved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
