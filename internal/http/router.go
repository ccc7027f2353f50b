package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tours-auth/internal/domain"
	"tours-auth/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	authSvc *service.AuthService,
	tokens *service.TokenService,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	users := r.Group("/api/v1/users")
	users.POST("/signup", authH.Signup)
	users.POST("/login", authH.Login)
	users.POST("/login/2fa", authH.LoginStep2)
	users.GET("/logout", authH.Logout)
	users.POST("/forgotPassword", authH.ForgotPassword)
	users.PATCH("/resetPassword/:token", authH.ResetPassword)
	users.GET("/verify-email", authH.VerifyEmail)
	users.POST("/refresh", authH.Refresh)

	// Rutas protegidas.
	authed := users.Group("", RequireAuth(authSvc, tokens))
	authed.PATCH("/updatePassword", authH.UpdatePassword)
	authed.POST("/2fa", authH.EnableTwoFactor)
	authed.DELETE("/2fa", authH.DisableTwoFactor)
	authed.GET("/me", authH.Me)
	authed.GET("", RestrictTo(domain.RoleAdmin), authH.ListUsers)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
