package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/roster-import-api/api/swagger"
	"github.com/noah-isme/roster-import-api/internal/handler"
	"github.com/noah-isme/roster-import-api/internal/middleware"
	"github.com/noah-isme/roster-import-api/internal/models"
	"github.com/noah-isme/roster-import-api/internal/repository"
	"github.com/noah-isme/roster-import-api/internal/service"
	"github.com/noah-isme/roster-import-api/pkg/cache"
	"github.com/noah-isme/roster-import-api/pkg/config"
	"github.com/noah-isme/roster-import-api/pkg/database"
	"github.com/noah-isme/roster-import-api/pkg/jobs"
	"github.com/noah-isme/roster-import-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/roster-import-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/roster-import-api/pkg/middleware/requestid"
	"github.com/noah-isme/roster-import-api/pkg/projects"
	"github.com/noah-isme/roster-import-api/pkg/storage"
)

// @title Roster Import API
// @version 1.0.0
// @description Stages student rosters from CSV files and manual entry, then commits them to the project API
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handler.Pinger{}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	var commitRepo *repository.ImportCommitRepository
	if db != nil {
		defer db.Close() //nolint:errcheck
		commitRepo = repository.NewImportCommitRepository(db)
		checks["database"] = commitRepo
	} else {
		logr.Info("database disabled, commit history is not recorded")
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	var sessions sessionBackend
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		sessions = repository.NewRedisSessionRepository(redisClient, cfg.Import.SessionTTL, logr)
	} else {
		memory := repository.NewMemorySessionRepository(cfg.Import.SessionTTL)
		go sweepSessions(ctx, memory, logr)
		sessions = memory
		logr.Info("redis disabled, import sessions are kept in memory")
	}
	checks["sessions"] = sessions

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	projectsClient := projects.NewClient(cfg.Projects.BaseURL, cfg.Projects.Timeout, logr)

	var commits commitBackend
	if commitRepo != nil {
		commits = commitRepo
	}
	importSvc := service.NewImportService(sessions, commits, projectsClient, metricsSvc, validate, logr, service.ImportConfig{
		EmailDomain:    cfg.Import.AllowedEmailDomain,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
	})

	queue := jobs.NewQueue("roster-import", importSvc.HandleImportJob, jobs.QueueConfig{
		Workers:     cfg.Import.AsyncWorkers,
		BufferSize:  cfg.Import.AsyncBuffer,
		MaxRetries:  2,
		Logger:      logr,
		OnExhausted: importSvc.AbandonImportJob,
	})
	importSvc.AttachQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(importSvc, exportStore, signer, metricsSvc, validate, logr, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	})
	exportSvc.StartCleanup(ctx, cfg.Exports.CleanupInterval)

	importHandler := handler.NewImportHandler(importSvc, cfg.Import.MaxUploadBytes)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/exports/:token", exportHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokenSvc), middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
	{
		secured.GET("/imports/template", importHandler.Template)
		secured.GET("/imports/history", importHandler.History)
		secured.POST("/imports", importHandler.Create)
		secured.GET("/imports/:id", importHandler.Get)
		secured.DELETE("/imports/:id", importHandler.Discard)
		secured.POST("/imports/:id/files", importHandler.UploadFile)
		secured.POST("/imports/:id/students", importHandler.AddStudent)
		secured.PUT("/imports/:id/draft", importHandler.SaveDraft)
		secured.PATCH("/imports/:id/students/:index", importHandler.UpdateStudent)
		secured.DELETE("/imports/:id/students/:index", importHandler.RemoveStudent)
		secured.POST("/imports/:id/commit", importHandler.Commit)
		secured.GET("/imports/:id/commits", importHandler.ListCommits)
		secured.POST("/imports/:id/exports", exportHandler.Create)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
}

type sessionBackend interface {
	Get(ctx context.Context, id string) (*models.ImportSession, error)
	Save(ctx context.Context, session *models.ImportSession) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type commitBackend interface {
	Create(ctx context.Context, commit *models.ImportCommit) error
	ListBySession(ctx context.Context, sessionID string) ([]models.ImportCommit, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ImportCommit, error)
}

func sweepSessions(ctx context.Context, store *repository.MemorySessionRepository, logr *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Sweep(); removed > 0 {
				logr.Debug("expired import sessions removed", zap.Int("count", removed))
			}
		}
	}
}
