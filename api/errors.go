package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opensearch-project/mlagent/core"
)

type errorDetail struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  errorDetail `json:"error"`
	Status int         `json:"status"`
}

func errorBody(status int, typ, reason string) errorResponse {
	return errorResponse{Error: errorDetail{Type: typ, Reason: reason}, Status: status}
}

// StatusOf maps the error taxonomy to an HTTP status.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "illegal_argument_exception"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "resource_not_found_exception"
	case errors.Is(err, core.ErrAlreadyExists):
		return http.StatusConflict, "resource_already_exists_exception"
	case errors.Is(err, core.ErrFeatureDisabled):
		return http.StatusForbidden, "feature_disabled_exception"
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable_exception"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_exception"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "cancelled_exception"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, typ := StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api.request.failed", "route", c.FullPath(), "status", status, "error", err)
	} else {
		s.logger.Debug("api.request.rejected", "route", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody(status, typ, err.Error()))
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.fail(c, core.Validationf("invalid request body: %v", err))
}
