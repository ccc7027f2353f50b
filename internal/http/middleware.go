package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tours-auth/internal/domain"
	"tours-auth/internal/service"
)

const currentUserKey = "current_user"

const (
	accessCookieName  = "jwt"
	refreshCookieName = "refreshToken"
)

const (
	msgNotLoggedIn     = "You're not logged in."
	msgUserGone        = "The user belonging to this token does not exist!"
	msgPasswordChanged = "User recently changed password! You need to login again."
	msgBadToken        = "Invalid or expired token"
)

// RequireAuth valida el access token, carga el usuario y lo deja en el
// contexto. Un token emitido antes del ultimo cambio de password se
// rechaza aunque no haya expirado.
func RequireAuth(authSvc *service.AuthService, tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, msg := resolveUser(c, authSvc, tokens)
		if msg != "" {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msg})
			c.Abort()
			return
		}
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// OptionalAuth hace la misma resolucion pero nunca falla: paginas que
// renderizan distinto para visitantes anonimos siguen como anonimas.
func OptionalAuth(authSvc *service.AuthService, tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, msg := resolveUser(c, authSvc, tokens); msg == "" {
			c.Set(currentUserKey, user)
		}
		c.Next()
	}
}

// RestrictTo corta con 403 cuando el rol del usuario no esta permitido.
// Debe ir detras de RequireAuth.
func RestrictTo(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "fail", "message": msgNotLoggedIn})
			c.Abort()
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"status": "fail", "message": "You do not have permission to perform this action"})
		c.Abort()
	}
}

// CurrentUser obtiene el usuario resuelto desde el contexto.
func CurrentUser(c *gin.Context) (domain.User, bool) {
	val, ok := c.Get(currentUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := val.(domain.User)
	return user, ok
}

func resolveUser(c *gin.Context, authSvc *service.AuthService, tokens *service.TokenService) (domain.User, string) {
	token := extractAccessToken(c)
	if token == "" {
		return domain.User{}, msgNotLoggedIn
	}
	claims, err := tokens.ParseAccess(token)
	if err != nil {
		return domain.User{}, msgBadToken
	}
	user, err := authSvc.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		return domain.User{}, msgUserGone
	}
	if claims.IssuedAt != nil && user.ChangedPasswordAfter(claims.IssuedAt.Time) {
		return domain.User{}, msgPasswordChanged
	}
	return user, ""
}

// extractAccessToken busca primero el header Authorization y despues la
// cookie jwt.
func extractAccessToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" && strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	if cookie, err := c.Cookie(accessCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
