package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tours-auth/internal/service"
)

// respondAuthError mapea errores operacionales a su status y mensaje
// seguro. Todo lo inesperado se loguea y sale como 500 generico: el
// detalle interno no viaja al cliente.
func respondAuthError(logger *zap.Logger, c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": "Incorrect email or password!"})
	case errors.Is(err, service.ErrInvalidTwoFactorCode):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": "Invalid 2FA code"})
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "2FA not enabled"})
	case errors.Is(err, service.ErrTokenExpired), errors.Is(err, service.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": "Invalid or expired token"})
	case errors.Is(err, service.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": "You're not logged in."})
	case errors.Is(err, service.ErrTokenMismatch):
		c.JSON(http.StatusForbidden, gin.H{"status": "fail", "message": "Invalid refresh token"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "fail", "message": "There is no user with that email address"})
	case errors.Is(err, service.ErrResetTokenInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid token or token expired!"})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Duplicate field value: email. Please use another value!"})
	case errors.Is(err, service.ErrPasswordMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Passwords do not match"})
	case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "fail", "message": "Too many attempts. Please try again later."})
	case errors.Is(err, service.ErrNotificationFailure):
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Some error occurred while sending email. Please try again later!"})
	default:
		if logger != nil {
			logger.Error("unexpected auth error", zap.Error(err), zap.String("path", c.Request.URL.Path))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Something went very wrong!"})
	}
}
