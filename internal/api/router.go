package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/api/handlers"
	"github.com/kioskctl/printwatch/internal/api/middleware"
	"github.com/kioskctl/printwatch/internal/archive"
	"github.com/kioskctl/printwatch/internal/config"
	"github.com/kioskctl/printwatch/internal/core"
	"github.com/kioskctl/printwatch/internal/db"
	"github.com/kioskctl/printwatch/internal/spooler"
)

type Deps struct {
	Config   *config.Config
	Auth     *middleware.AuthMiddleware
	Spooler  spooler.Spooler
	Table    *core.KnownJobs
	Sessions *core.Sessions
	Pricing  *core.PricingResolver
	DB       *db.DB
	Archiver *archive.Archiver
	Version  string
	Log      *zap.Logger
}

// NewRouter builds the admin API. Everything except health and login
// requires a token.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.RequestLogger(d.Log))

	apiGroup := r.Group("/api")
	apiGroup.GET("/health", func(c *gin.Context) {
		_, active := d.Sessions.Active()
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"version":        d.Version,
			"session_active": active,
		})
	})

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/login", d.Auth.LoginHandler)
	authGroup.POST("/logout", d.Auth.LogoutHandler)
	authGroup.GET("/status", d.Auth.StatusHandler)

	protected := apiGroup.Group("")
	protected.Use(d.Auth.RequireAuth())

	handlers.RegisterJobRoutes(protected, handlers.NewJobHandler(d.Table, d.DB.Outcomes()))
	handlers.RegisterAccountRoutes(protected, handlers.NewAccountHandler(d.DB.Accounts()))
	handlers.RegisterSettingsRoutes(protected, handlers.NewSettingsHandler(d.DB.Pricing(), d.Pricing, d.Config))
	handlers.RegisterSessionRoutes(protected, handlers.NewSessionHandler(d.Sessions))
	handlers.RegisterPrinterRoutes(protected, handlers.NewPrinterHandler(d.Spooler, d.Config.Spooler.Printers))
	if d.Archiver != nil {
		handlers.RegisterArchiveRoutes(protected, handlers.NewArchiveHandler(d.Archiver))
	}

	return r
}

type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: log.Named("api"),
	}
}

// Start serves in the background. A listener failure is reported on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
