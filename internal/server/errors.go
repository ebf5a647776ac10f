package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/routes"
	"github.com/Vertexcore-AI/IoT/internal/stats"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

var (
	errUnavailable  = errors.New("service not configured")
	errBadRequest   = errors.New("invalid request payload")
	errUnauthorized = errors.New("invalid ingest token")
	errNoReading    = errors.New("no reading for sensor and metric")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, telemetry.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, farm.ErrActuatorNotFound),
		errors.Is(err, farm.ErrSlotNotFound),
		errors.Is(err, routes.ErrUnknownRoute),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, errNoReading):
		return http.StatusNotFound
	case errors.Is(err, farm.ErrLevelUnsupported),
		errors.Is(err, farm.ErrInvalidSlotStatus),
		errors.Is(err, farm.ErrUnknownGrowthStage),
		errors.Is(err, farm.ErrUnknownProfile),
		errors.Is(err, farm.ErrInvalidVolumeRange),
		errors.Is(err, stats.ErrInvalidRange),
		errors.Is(err, telemetry.ErrSensorRequired),
		errors.Is(err, telemetry.ErrUnknownMetric),
		errors.Is(err, telemetry.ErrInvalidValue),
		errors.Is(err, telemetry.ErrOutOfRange),
		errors.Is(err, telemetry.ErrFutureTimestamp),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrNameRequired),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fieldFor names the form field a validation error belongs to.
func fieldFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrNameRequired):
		return "name"
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		return "password"
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrInvalidCredentials):
		return "email"
	default:
		return "form"
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
