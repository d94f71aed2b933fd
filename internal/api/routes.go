package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/api/handlers"
	"github.com/hmsportal/hms/internal/api/middleware"
	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/services"
	"github.com/hmsportal/hms/internal/storage"
	"github.com/hmsportal/hms/pkg/metrics"
)

type Services struct {
	Sessions  *services.SessionService
	Documents *services.DocumentService
	Risks     *services.RiskService
	Members   *services.MemberService
	Store     storage.Store
}

type Router struct {
	engine          *gin.Engine
	logger          *zap.Logger
	metrics         *metrics.MetricsCollector
	cfg             *config.Configuration
	authHandler     *handlers.AuthHandler
	docHandler      *handlers.DocumentHandler
	templateHandler *handlers.TemplateHandler
	riskHandler     *handlers.RiskHandler
	userHandler     *handlers.UserHandler
	fileHandler     *handlers.FileHandler
	authMiddleware  *middleware.AuthMiddleware
	reqMiddleware   *middleware.RequestMiddleware
	logMiddleware   *middleware.LoggingMiddleware
	loginTracker    *middleware.IPAttemptTracker
}

func NewRouter(
	logger *zap.Logger,
	metrics *metrics.MetricsCollector,
	cfg *config.Configuration,
	svc Services,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = 32 << 20

	loginTracker := middleware.NewIPAttemptTracker(cfg.Security.LoginAttemptLimit, cfg.Security.LockoutDuration)
	reqMiddleware := middleware.NewRequestMiddleware(logger, loginTracker)
	logMiddleware := middleware.NewLoggingMiddleware(logger, metrics)
	authMiddleware := middleware.NewAuthMiddleware(svc.Sessions, logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.Use(logMiddleware.LogRequest())

	r := &Router{
		engine:          engine,
		logger:          logger,
		metrics:         metrics,
		cfg:             cfg,
		authHandler:     handlers.NewAuthHandler(svc.Sessions, cfg.Security.CookieSecure, logger),
		docHandler:      handlers.NewDocumentHandler(svc.Documents, logger),
		templateHandler: handlers.NewTemplateHandler(svc.Documents, logger),
		riskHandler:     handlers.NewRiskHandler(svc.Risks, logger),
		userHandler:     handlers.NewUserHandler(svc.Members, logger),
		authMiddleware:  authMiddleware,
		reqMiddleware:   reqMiddleware,
		logMiddleware:   logMiddleware,
		loginTracker:    loginTracker,
	}
	if signed, ok := svc.Store.(handlers.SignedStore); ok {
		r.fileHandler = handlers.NewFileHandler(signed, logger)
	}
	return r
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "hms"})
	})

	if r.cfg.Metrics.Enabled && r.metrics != nil {
		path := r.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(r.metrics.Handler()))
	}

	if r.fileHandler != nil {
		r.engine.GET("/files/*key", r.fileHandler.Download)
	}

	api := r.engine.Group("/api")
	api.POST("/login", r.reqMiddleware.LoginAttemptMiddleware(), r.authHandler.Login)
	api.POST("/logout", r.authHandler.Logout)

	authorized := api.Group("/")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.GET("/me", r.userHandler.Me)
		authorized.GET("/users", r.userHandler.ListUsers)

		authorized.GET("/templates", r.templateHandler.ListTemplates)
		authorized.POST("/templates", r.templateHandler.CreateTemplate)

		authorized.GET("/documents", r.docHandler.ListDocuments)
		authorized.POST("/documents", r.docHandler.UploadDocument)
		authorized.GET("/documents/due", r.docHandler.DueForReview)
		authorized.GET("/documents/:id", r.docHandler.GetDocument)
		authorized.PATCH("/documents/:id", r.docHandler.UpdateDocument)
		authorized.DELETE("/documents/:id", r.docHandler.DeleteDocument)
		authorized.POST("/documents/:id/versions", r.docHandler.UploadVersion)
		authorized.POST("/documents/:id/approve", r.docHandler.ApproveDocument)
		authorized.GET("/documents/:id/download", r.docHandler.DownloadDocument)

		authorized.GET("/risks", r.riskHandler.ListRisks)
		authorized.POST("/risks", r.riskHandler.CreateRisk)
		authorized.GET("/risks/due", r.riskHandler.DueForReview)
		authorized.GET("/risks/matrix", r.riskHandler.Matrix)
		authorized.GET("/risks/:id", r.riskHandler.GetRisk)
		authorized.PUT("/risks/:id", r.riskHandler.UpdateRisk)
		authorized.PUT("/risks/:id/goal", r.riskHandler.LinkGoal)
		authorized.PUT("/risks/:id/inspection-template", r.riskHandler.LinkInspectionTemplate)
		authorized.POST("/risks/:id/reviewed", r.riskHandler.MarkReviewed)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Close stops background work owned by the router.
func (r *Router) Close() {
	r.loginTracker.Stop()
}
