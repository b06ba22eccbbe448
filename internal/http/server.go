// Package http hosts chessmate's HTTP surface: GET /health and POST /query,
// wired through the same gin/gin-contrib stack the teacher repo used for
// its API.
package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/chessmate/chessmate/internal/http/handlers"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

type Server struct {
	Engine *gin.Engine
}

// NewServer builds the query server: a health check plus the single
// POST /query endpoint backed by exec.
func NewServer(log *logger.Logger, exec httpH.Executor) *Server {
	cfg := RouterConfig{
		Log:           log,
		HealthHandler: httpH.NewHealthHandler(),
		QueryHandler:  httpH.NewQueryHandler(log, exec),
	}
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}
