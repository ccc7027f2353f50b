package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tours-auth/internal/domain"
)

func newProtectedRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := r.Group("/", RequireAuth(env.authSvc, env.tokens))
	auth.GET("/whoami", func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
	})
	auth.GET("/admin", RestrictTo(domain.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})
	r.GET("/maybe", OptionalAuth(env.authSvc, env.tokens), func(c *gin.Context) {
		if user, ok := CurrentUser(c); ok {
			c.JSON(http.StatusOK, gin.H{"id": user.ID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": nil})
	})
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_BearerHeader(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "a@b.com", "Secret123", domain.RoleUser)
	router := newProtectedRouter(env)

	access, err := env.tokens.IssueAccess(user.ID)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := serve(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["id"] != user.ID {
		t.Fatalf("expected id %q, got %v", user.ID, body["id"])
	}
}

func TestRequireAuth_JWTCookie(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "a@b.com", "Secret123", domain.RoleUser)
	router := newProtectedRouter(env)

	access, err := env.tokens.IssueAccess(user.ID)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: access})
	rec := serve(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	router := newProtectedRouter(env)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != msgNotLoggedIn {
		t.Fatalf("expected %q, got %v", msgNotLoggedIn, body["message"])
	}
}

func TestRequireAuth_GarbageToken(t *testing.T) {
	env := newTestEnv(t)
	router := newProtectedRouter(env)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := serve(router, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != msgBadToken {
		t.Fatalf("expected %q, got %v", msgBadToken, body["message"])
	}
}

func TestRequireAuth_DeletedUser(t *testing.T) {
	env := newTestEnv(t)
	router := newProtectedRouter(env)

	access, err := env.tokens.IssueAccess("ghost-user")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := serve(router, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != msgUserGone {
		t.Fatalf("expected %q, got %v", msgUserGone, body["message"])
	}
}

func TestRequireAuth_PasswordChangedAfterIssue(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "a@b.com", "Secret123", domain.RoleUser)
	router := newProtectedRouter(env)

	access, err := env.tokens.IssueAccess(user.ID)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	// Cambiar el password despues de emitir el token lo invalida.
	changed := time.Now().UTC().Add(time.Hour)
	if err := env.repo.UpdatePassword(context.Background(), user.ID, user.PasswordHash, changed); err != nil {
		t.Fatalf("update password: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := serve(router, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != msgPasswordChanged {
		t.Fatalf("expected %q, got %v", msgPasswordChanged, body["message"])
	}
}

func TestOptionalAuth_AnonymousPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	router := newProtectedRouter(env)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/maybe", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != nil {
		t.Fatalf("expected anonymous, got %v", body["id"])
	}

	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = serve(router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bad token must not break optional auth, got %d", rec.Code)
	}
}

func TestOptionalAuth_ResolvesUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "a@b.com", "Secret123", domain.RoleUser)
	router := newProtectedRouter(env)

	access, err := env.tokens.IssueAccess(user.ID)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: access})
	rec := serve(router, req)
	body := decodeBody(t, rec)
	if body["id"] != user.ID {
		t.Fatalf("expected id %q, got %v", user.ID, body["id"])
	}
}

func TestRestrictTo(t *testing.T) {
	env := newTestEnv(t)
	regular := env.seedUser(t, "a@b.com", "Secret123", domain.RoleUser)
	admin := env.seedUser(t, "admin@b.com", "Secret123", domain.RoleAdmin)
	router := newProtectedRouter(env)

	for _, tc := range []struct {
		name string
		user domain.User
		want int
	}{
		{"regular user forbidden", regular, http.StatusForbidden},
		{"admin allowed", admin, http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			access, err := env.tokens.IssueAccess(tc.user.ID)
			if err != nil {
				t.Fatalf("issue access: %v", err)
			}
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+access)
			rec := serve(router, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
