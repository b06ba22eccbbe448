package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/chessmate/chessmate/internal/http/handlers"
	httpMW "github.com/chessmate/chessmate/internal/http/middleware"
	"github.com/chessmate/chessmate/internal/observability"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

type RouterConfig struct {
	Log           *logger.Logger
	HealthHandler *httpH.HealthHandler
	QueryHandler  *httpH.QueryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(observability.Current()))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}
	if cfg.QueryHandler != nil {
		r.POST("/query", cfg.QueryHandler.Query)
	}

	return r
}
