package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func bearer(t *testing.T, auth *service.AuthService, actor model.Actor) string {
	t.Helper()
	token, err := auth.GenerateToken(actor)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func TestRequireJWTAndRoles(t *testing.T) {
	auth := service.NewAuthService("test-secret", time.Hour)
	r := gin.New()
	r.Use(RequireJWT(auth))
	r.GET("/student", RequireStudent(), func(c *gin.Context) {
		actor, _ := GetActor(c)
		c.String(http.StatusOK, "%d", actor.ID)
	})
	r.GET("/staff", RequireStaff(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		path   string
		header string
		query  string
		want   int
	}{
		{"missing token", "/student", "", "", http.StatusUnauthorized},
		{"garbage token", "/student", "Bearer nope", "", http.StatusUnauthorized},
		{"student on student route", "/student", bearer(t, auth, model.Actor{ID: 7, Role: model.RoleStudent}), "", http.StatusOK},
		{"teacher on student route", "/student", bearer(t, auth, model.Actor{ID: 9, Role: model.RoleTeacher}), "", http.StatusForbidden},
		{"student on staff route", "/staff", bearer(t, auth, model.Actor{ID: 7, Role: model.RoleStudent}), "", http.StatusForbidden},
		{"admin on staff route", "/staff", bearer(t, auth, model.Actor{ID: 1, Role: model.RoleAdmin}), "", http.StatusNoContent},
		{"query token", "/staff", "", strings.TrimPrefix(bearer(t, auth, model.Actor{ID: 9, Role: model.RoleTeacher}), "Bearer "), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := tc.path
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRateLimiterKeysByUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth := service.NewAuthService("test-secret", time.Hour)
	rl := NewRateLimiter(ctx, 2, time.Hour)

	r := gin.New()
	r.Use(RequireJWT(auth), rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := bearer(t, auth, model.Actor{ID: 1, Role: model.RoleStudent})
	bob := bearer(t, auth, model.Actor{ID: 2, Role: model.RoleStudent})

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", token)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := do(alice); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := do(alice); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget, got %d", code)
	}
	if code := do(bob); code != http.StatusOK {
		t.Fatalf("expected separate bucket for another user on the same IP, got %d", code)
	}
}

func TestRateLimiterAllowSharesMiddlewareBucket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth := service.NewAuthService("test-secret", time.Hour)
	rl := NewRateLimiter(ctx, 2, time.Hour)

	r := gin.New()
	r.Use(RequireJWT(auth), rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := model.Actor{ID: 1, Role: model.RoleStudent}
	if !rl.Allow(ActorKey(alice)) || !rl.Allow(ActorKey(alice)) {
		t.Fatal("expected the first two tokens to be granted")
	}
	if rl.Allow(ActorKey(alice)) {
		t.Fatal("expected the bucket to be empty")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, auth, alice))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected HTTP requests to share the drained bucket, got %d", w.Code)
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64}))
	big := strings.Repeat("session ", 100)
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("expected br encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	plain, err := io.ReadAll(brotli.NewReader(w.Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(plain) != big {
		t.Fatal("decoded body mismatch")
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("expected small body uncompressed, got %q %q", w.Header().Get("Content-Encoding"), w.Body.String())
	}
}
