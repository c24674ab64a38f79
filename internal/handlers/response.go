package handlers

import (
	"errors"
	"net/http"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/pkg/logger"
	"github.com/gin-gonic/gin"
)

// respondError maps err onto a status code and writes {"detail": message}.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrProvider):
		// provider failures are reported like unknown users
		status = http.StatusNotFound
		err = apperror.NotFound(apperror.UserNotVerified)
	}

	message := apperror.Message(err, http.StatusText(status))
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": message})
}
