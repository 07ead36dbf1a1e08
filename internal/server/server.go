package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/config"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/export"
	"github.com/smallbiznis/stocktake/internal/observability"
	obslogger "github.com/smallbiznis/stocktake/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stocktake/internal/observability/metrics"
	obstracing "github.com/smallbiznis/stocktake/internal/observability/tracing"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	recondomain "github.com/smallbiznis/stocktake/internal/reconciliation/domain"
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxCaptureBytes caps multipart capture uploads.
const maxCaptureBytes = 20 << 20

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	sessions  sessiondomain.Service
	rolls     rolldomain.Service
	triage    triagedomain.Service
	rerun     jobdomain.Service
	reconcile recondomain.Service
	exporter  *export.Service
	photos    *storage.Local
	auditSvc  auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Sessions  sessiondomain.Service
	Rolls     rolldomain.Service
	Triage    triagedomain.Service
	Rerun     jobdomain.Service
	Reconcile recondomain.Service
	Exporter  *export.Service
	Photos    *storage.Local
	AuditSvc  auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http.server"),
		sessions:  p.Sessions,
		rolls:     p.Rolls,
		triage:    p.Triage,
		rerun:     p.Rerun,
		reconcile: p.Reconcile,
		exporter:  p.Exporter,
		photos:    p.Photos,
		auditSvc:  p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerPhotoRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Sessions --------
	api.POST("/sessions", s.StartOrResumeSession)
	api.GET("/sessions", s.ListSessions)
	api.GET("/sessions/:id", s.GetSession)
	api.POST("/sessions/:id/end", s.EndSession)
	api.POST("/sessions/:id/cancel", s.CancelSession)
	api.POST("/sessions/:id/complete", s.CompleteReview)
	api.GET("/sessions/:id/audit-logs", s.ListAuditLogs)

	// -------- Rolls --------
	api.POST("/sessions/:id/rolls", s.IngestRoll)
	api.POST("/sessions/:id/captures", s.CaptureRoll)
	api.GET("/sessions/:id/rolls", s.ListRolls)
	api.GET("/sessions/:id/rolls/ready", s.ListReadyForApproval)
	api.POST("/sessions/:id/rolls/bulk-approve", s.BulkApprove)
	api.GET("/rolls/:id", s.GetRoll)
	api.PATCH("/rolls/:id", s.EditRoll)
	api.POST("/rolls/:id/approve", s.ApproveRoll)
	api.POST("/rolls/:id/reject", s.RejectRoll)
	api.POST("/rolls/:id/recount", s.RequestRecount)
	api.POST("/rolls/:id/ocr-rerun", s.RerunRollOCR)

	// -------- OCR rerun jobs --------
	api.POST("/sessions/:id/ocr-rerun", s.StartSessionRerun)
	api.GET("/sessions/:id/ocr-jobs", s.ListRerunJobs)
	api.GET("/ocr-jobs/:id", s.GetRerunJob)
	api.POST("/ocr-jobs/:id/cancel", s.CancelRerunJob)

	// -------- Exports --------
	api.GET("/sessions/:id/export.csv", s.ExportCSV)
	api.GET("/sessions/:id/report.pdf", s.ExportReport)
}

func (s *Server) registerPhotoRoutes() {
	s.engine.GET("/photos/*path", s.ServePhoto)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
