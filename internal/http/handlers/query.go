package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chessmate/chessmate/internal/http/response"
	"github.com/chessmate/chessmate/internal/hybrid"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/platform/logger"
	"github.com/chessmate/chessmate/internal/platform/operr"
)

var errEmptyQuestion = errors.New("question must not be empty")

// Executor is the subset of hybrid.Executor this handler calls; named here
// so it can be faked in handler tests without a real metadata store.
type Executor interface {
	Execute(ctx context.Context, plan intent.Plan) (*hybrid.Result, error)
}

type QueryHandler struct {
	log  *logger.Logger
	exec Executor
}

func NewQueryHandler(log *logger.Logger, exec Executor) *QueryHandler {
	return &QueryHandler{log: log.With("component", "handlers.QueryHandler"), exec: exec}
}

// Question carries "required" so gin's bound validator (go-playground/
// validator/v10) rejects a missing field before Query ever runs; the
// explicit blank/whitespace check below still catches `"question": "   "`,
// which validator's required tag treats as present.
type queryRequest struct {
	Question string `json:"question" binding:"required"`
}

type queryResponseBody struct {
	Plan     intent.Plan           `json:"plan"`
	Results  []hybrid.ScoredResult `json:"results"`
	Warnings []string              `json:"warnings"`
	Agent    any                   `json:"agent,omitempty"`
}

// Query handles POST /query: 400 on an empty question, 503 when the
// executor reports the metadata store is unreachable, 200 otherwise
// (including the degraded-vector-search case, which rides back as a
// warning rather than an error).
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		response.RespondError(c, http.StatusBadRequest, "bad_request", errEmptyQuestion)
		return
	}

	plan := intent.Analyse(question)
	result, err := h.exec.Execute(c.Request.Context(), plan)
	if err != nil {
		if operr.KindOf(err) == operr.KindUnavailable {
			response.RespondError(c, http.StatusServiceUnavailable, "unavailable", err)
			return
		}
		h.log.Error("query execution failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	body := queryResponseBody{Plan: plan, Results: result.Results, Warnings: result.Warnings}
	if result.Agent != nil {
		body.Agent = result.Agent
	}
	response.RespondOK(c, body)
}
