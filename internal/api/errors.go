package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/middleware"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	*domain.TriageError
	Violations []*domain.ValidationError `json:"violations,omitempty"`
}

func (s *Server) writeError(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, &errorResponse{
		TriageError: domain.NewTriageError(code, message, details, middleware.GetCorrelationID(c)),
	})
}

func (s *Server) writeAssessError(c *gin.Context, err error) {
	status, body := s.classifyError(c, err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("correlation_id", middleware.GetCorrelationID(c)).
			Error("Assessment failed")
	}
	c.JSON(status, body)
}

// classifyError maps pipeline errors to an HTTP status and envelope.
func (s *Server) classifyError(c *gin.Context, err error) (int, *errorResponse) {
	requestID := middleware.GetCorrelationID(c)

	var rejection *domain.RejectionError
	switch {
	case errors.As(err, &rejection):
		return http.StatusUnprocessableEntity, &errorResponse{
			TriageError: domain.NewTriageError(domain.ErrValidation, "Vitals rejected", rejection.Error(), requestID),
			Violations:  rejection.Violations,
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, &errorResponse{
			TriageError: domain.NewTriageError(domain.ErrServiceUnavailable, "Request deadline exceeded", err.Error(), requestID),
		}
	default:
		return http.StatusInternalServerError, &errorResponse{
			TriageError: domain.NewTriageError(domain.ErrInternalServer, "Assessment failed", "", requestID),
		}
	}
}
