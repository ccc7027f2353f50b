package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tours-auth/internal/domain"
	"tours-auth/internal/service"
)

// AuthHandler mantiene dependencias para los endpoints de autenticacion.
type AuthHandler struct {
	logger           *zap.Logger
	authServ         *service.AuthService
	publicURL        string
	accessCookieTTL  time.Duration
	refreshCookieTTL time.Duration
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService, publicURL string, accessCookieTTL, refreshCookieTTL time.Duration) *AuthHandler {
	if accessCookieTTL <= 0 {
		accessCookieTTL = time.Hour
	}
	if refreshCookieTTL <= 0 {
		refreshCookieTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		logger:           logger,
		authServ:         authServ,
		publicURL:        publicURL,
		accessCookieTTL:  accessCookieTTL,
		refreshCookieTTL: refreshCookieTTL,
	}
}

// Signup maneja POST /api/v1/users/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Name            string `json:"name"`
		Email           string `json:"email" binding:"required,email"`
		Password        string `json:"password" binding:"required,min=8"`
		PasswordConfirm string `json:"passwordConfirm" binding:"required"`
		Role            string `json:"role" binding:"omitempty,oneof=user guide lead-guide admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signup request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
		return
	}

	result, err := h.authServ.Signup(c.Request.Context(), service.SignupInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Role:            domain.Role(req.Role),
	}, h.publicURL+"/api/v1/users/verify-email")
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}

	h.setSessionCookies(c, result.Session)
	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"token":  result.Session.AccessToken,
		"user":   result.Session.User,
		"secret": result.TwoFactorSecret,
	})
}

// Login maneja POST /api/v1/users/login. Con 2FA habilitado no emite
// sesion: devuelve el userId para el segundo paso.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Please provide email and password!"})
		return
	}

	result, err := h.authServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}

	if result.TwoFactorRequired {
		c.JSON(http.StatusOK, gin.H{
			"status": "2fa_required",
			"userId": result.UserID,
		})
		return
	}

	h.setSessionCookies(c, result.Session)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  result.Session.AccessToken,
		"user":   result.Session.User,
	})
}

// LoginStep2 maneja POST /api/v1/users/login/2fa.
func (h *AuthHandler) LoginStep2(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Token  string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid 2fa request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
		return
	}

	session, err := h.authServ.LoginStep2(c.Request.Context(), req.UserID, req.Token)
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}

	h.setSessionCookies(c, session)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  session.AccessToken,
		"user":   session.User,
	})
}

// Logout maneja GET /api/v1/users/logout. Limpia cookies y el refresh
// token almacenado para que una rotacion posterior falle.
func (h *AuthHandler) Logout(c *gin.Context) {
	if refresh, err := c.Cookie(refreshCookieName); err == nil {
		if err := h.authServ.Logout(c.Request.Context(), refresh); err != nil {
			h.logger.Warn("logout cleanup failed", zap.Error(err))
		}
	}
	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Refresh maneja POST /api/v1/users/refresh. Rota el refresh token y
// devuelve un access token nuevo.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refresh, err := c.Cookie(refreshCookieName)
	if err != nil {
		respondAuthError(h.logger, c, service.ErrMissingToken)
		return
	}

	session, err := h.authServ.Refresh(c.Request.Context(), refresh)
	if err != nil {
		// Un refresh token ilegible o vencido recibe el mismo 403 que uno
		// que no coincide con el almacenado.
		if errors.Is(err, service.ErrTokenInvalid) || errors.Is(err, service.ErrTokenExpired) {
			c.JSON(http.StatusForbidden, gin.H{"status": "fail", "message": "Invalid refresh token"})
			return
		}
		respondAuthError(h.logger, c, err)
		return
	}

	h.setRefreshCookie(c, session.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"accessToken": session.AccessToken})
}

// VerifyEmail maneja GET /api/v1/users/verify-email?token=.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid or expired token"})
		return
	}
	if err := h.authServ.VerifyEmail(c.Request.Context(), token); err != nil {
		// Un enlace roto o vencido es un pedido invalido, no falta de sesion.
		if errors.Is(err, service.ErrTokenInvalid) || errors.Is(err, service.ErrTokenExpired) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid or expired token"})
			return
		}
		respondAuthError(h.logger, c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Email verified successfully! You can now log in.",
	})
}

// ForgotPassword maneja POST /api/v1/users/forgotPassword.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
		return
	}

	err := h.authServ.ForgotPassword(c.Request.Context(), req.Email, h.publicURL+"/api/v1/users/resetPassword")
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Token sent to email!"})
}

// ResetPassword maneja PATCH /api/v1/users/resetPassword/:token.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Password        string `json:"password" binding:"required,min=8"`
		PasswordConfirm string `json:"passwordConfirm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
		return
	}

	session, err := h.authServ.ResetPassword(c.Request.Context(), c.Param("token"), req.Password, req.PasswordConfirm)
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}

	h.setSessionCookies(c, session)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  session.AccessToken,
		"user":   session.User,
	})
}

// UpdatePassword maneja PATCH /api/v1/users/updatePassword (autenticado).
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msgNotLoggedIn})
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		Password        string `json:"password" binding:"required,min=8"`
		PasswordConfirm string `json:"passwordConfirm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "Invalid input data"})
		return
	}

	session, err := h.authServ.UpdatePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.Password, req.PasswordConfirm)
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}

	h.setSessionCookies(c, session)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  session.AccessToken,
		"user":   session.User,
	})
}

// EnableTwoFactor maneja POST /api/v1/users/2fa (autenticado). Devuelve
// el secreto nuevo para registrarlo en la app de autenticacion.
func (h *AuthHandler) EnableTwoFactor(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msgNotLoggedIn})
		return
	}
	secret, err := h.authServ.EnableTwoFactor(c.Request.Context(), user.ID)
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "secret": secret})
}

// DisableTwoFactor maneja DELETE /api/v1/users/2fa (autenticado).
func (h *AuthHandler) DisableTwoFactor(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msgNotLoggedIn})
		return
	}
	if err := h.authServ.DisableTwoFactor(c.Request.Context(), user.ID); err != nil {
		respondAuthError(h.logger, c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "2FA disabled"})
}

// ListUsers maneja GET /api/v1/users (solo admin).
func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.authServ.ListUsers(c.Request.Context())
	if err != nil {
		respondAuthError(h.logger, c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "results": len(users), "users": users})
}

// Me maneja GET /api/v1/users/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msgNotLoggedIn})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "user": user})
}

// setSessionCookies fija la cookie jwt (corta, Secure bajo TLS) y la
// cookie refreshToken (larga, httpOnly).
func (h *AuthHandler) setSessionCookies(c *gin.Context, session service.Session) {
	c.SetCookie(accessCookieName, session.AccessToken, int(h.accessCookieTTL.Seconds()), "/", "", requestIsSecure(c), true)
	h.setRefreshCookie(c, session.RefreshToken)
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refresh string) {
	c.SetCookie(refreshCookieName, refresh, int(h.refreshCookieTTL.Seconds()), "/", "", false, true)
}

func (h *AuthHandler) clearSessionCookies(c *gin.Context) {
	c.SetCookie(accessCookieName, "", -1, "/", "", false, true)
	c.SetCookie(refreshCookieName, "", -1, "/", "", false, true)
}

// requestIsSecure detecta TLS directo o un proxy que lo termina.
func requestIsSecure(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}
