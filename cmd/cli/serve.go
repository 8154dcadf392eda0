package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"ratepro/internal/config"
	"ratepro/internal/handlers"
	"ratepro/internal/middleware"
	"ratepro/internal/models"
	"ratepro/internal/observability"
	"ratepro/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RatePro API server",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// server holds everything serve wires together.
type server struct {
	router    *gin.Engine
	responses *handlers.ResponseHandler
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logrus.StandardLogger()
	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Monitoring.Tracing)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	contacts, closeContacts, err := openContactStore(ctx, cfg, db)
	if err != nil {
		return err
	}

	srv := newServer(cfg, db, rdb, contacts, log)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting server on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	srv.responses.Wait()
	if err := closeContacts(shutdownCtx); err != nil {
		log.Warnf("Failed to close contact store: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warnf("Failed to flush traces: %v", err)
	}
	log.Info("Server exited")
	return nil
}

func newServer(cfg *config.Config, db *gorm.DB, rdb *redis.Client, contacts services.ContactStore, log *logrus.Logger) *server {
	responses := services.NewResponseStore(db)
	surveys := services.NewSurveyStore(db)
	actions := services.NewActionStore(db)
	recognitions := services.NewRecognitionStore(db)

	var (
		sink services.NotificationSink = services.NewLogSink(log)
		lock services.AnalysisLock     = services.NoopLock{}
	)
	if rdb != nil {
		sink = services.NewRedisAlertQueue(rdb, cfg.Pipeline.AlertQueueKey, log)
		lock = services.NewRedisAnalysisLock(rdb, cfg.Pipeline.LockTTL)
	}

	insights, breaker := buildInsightSource(cfg, log)
	executor := services.NewActionExecutor(responses, actions, recognitions, sink, log)
	executor.SetRatingScale(cfg.Pipeline.RatingScale)
	analysis := services.NewAnalysisService(services.AnalysisServiceDeps{
		Responses:      responses,
		Surveys:        surveys,
		Insights:       insights,
		Executor:       executor,
		Lock:           lock,
		InsightTimeout: cfg.Pipeline.InsightTimeout,
	}, log)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}
	r.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	metricsPath := ""
	if cfg.Monitoring.Enabled {
		metricsPath = cfg.Monitoring.MetricsPath
	}
	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db, rdb, breaker, Version, log), metricsPath)

	responseHandler := handlers.NewResponseHandler(responses, surveys, analysis, cfg.Pipeline.AutoAnalyze, log)
	api := r.Group("/api/v1")
	api.Use(middleware.RequireTenant(), middleware.RateLimitMiddleware(cfg.Security.RateLimiting))
	handlers.RegisterAnalysisRoutes(api, handlers.NewAnalysisHandler(analysis, log))
	handlers.RegisterResponseRoutes(api, responseHandler)
	handlers.RegisterSurveyRoutes(api, handlers.NewSurveyHandler(services.NewSurveyService(surveys, log), log))
	handlers.RegisterSegmentRoutes(api, handlers.NewSegmentHandler(services.NewSegmentService(contacts), log))
	handlers.RegisterActionRoutes(api, handlers.NewActionHandler(actions, log))
	handlers.RegisterRecognitionRoutes(api, handlers.NewRecognitionHandler(recognitions, log))

	return &server{router: r, responses: responseHandler}
}
