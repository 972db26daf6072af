// Package respond centralizes the HTTP error envelope: validation failures
// return {detail}, everything else {error}, and ownership violations are
// reported as plain not-found so existence never leaks across users.
package respond

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
)

// Error translates an error into the §7 envelope and status code.
func Error(c *gin.Context, err error) {
	var validationErr *registrygraphstore.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": validationErr.Error()})
		return
	}
	var notFoundErr *registrygraphstore.NotFoundError
	if errors.As(err, &notFoundErr) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var forbiddenErr *registrygraphstore.ForbiddenError
	if errors.As(err, &forbiddenErr) {
		c.JSON(http.StatusForbidden, gin.H{"error": forbiddenErr.Error()})
		return
	}
	var conflictErr *registrygraphstore.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error()})
		return
	}

	log.Error("request failed", "path", c.Request.URL.Path, "err", err)
	if isBackingServiceDown(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backing service unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// BadRequest returns the validation envelope for request-parsing failures.
func BadRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": detail})
}

// NotFound returns the indistinguishable-from-nonexistence envelope.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func isBackingServiceDown(err error) bool {
	msg := err.Error()
	for _, s := range []string{"connection closed by server", "service unavailable", "ECONNREFUSED", "ECONNRESET"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
