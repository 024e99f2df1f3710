package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dashpulse/internal/domain"
)

// statusFor maps a domain error class to a response code. malformed is the
// code used for ErrValidation, which differs between feedback (400) and the
// redirect (404).
func statusFor(err error, malformed int) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		if malformed == http.StatusNotFound {
			return malformed, "Event not found"
		}
		return malformed, "Invalid event UUID"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Event not found"
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError, "Dashboard URL not configured"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": msg})
}
