package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return NewService(store, store, WithHashCost(bcrypt.MinCost), WithClock(clk.Now), WithTTL(time.Hour)), clk
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Email: "a@b.io", Password: "secret123"})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.Register(ctx, RegisterInput{Name: "Kasun", Email: "not-an-email", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, RegisterInput{Name: "Kasun", Email: "k@farm.lk", Password: "short"})
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = svc.Register(ctx, RegisterInput{Name: "Kasun", Email: "k@farm.lk", Password: strings.Repeat("p", 73)})
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	u, err := svc.Register(ctx, RegisterInput{Name: " Kasun ", Email: " K@Farm.lk ", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "Kasun", u.Name)
	assert.Equal(t, "k@farm.lk", u.Email)
	assert.NotEqual(t, "secret123", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Name: "Other", Email: "k@farm.lk", Password: "secret123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginResolveLogout(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Nimal", Email: "nimal@farm.lk", Password: "greenhouse"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "nimal@farm.lk", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@farm.lk", "greenhouse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	sess, u, err := svc.Login(ctx, "NIMAL@farm.lk", "greenhouse")
	require.NoError(t, err)
	assert.Equal(t, clk.now.Add(time.Hour), sess.ExpiresAt)

	got, err := svc.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, svc.Logout(ctx, sess.Token))
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResolveExpired(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Name: "Ama", Email: "ama@farm.lk", Password: "greenhouse"})
	require.NoError(t, err)
	sess, err := svc.Open(ctx, u.ID)
	require.NoError(t, err)

	clk.now = clk.now.Add(2 * time.Hour)
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired sessions are deleted on access")
}

func TestPurgeExpired(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, 1)
	require.NoError(t, err)
	clk.now = clk.now.Add(90 * time.Minute)
	_, err = svc.Open(ctx, 1)
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@farm.lk", Password: "greenhouse"})
	_, _ = svc.Register(ctx, RegisterInput{Name: "B", Email: "b@farm.lk", Password: "greenhouse"})

	_, err := svc.UpdateProfile(ctx, a.ID, ProfileInput{Name: "A", Email: "b@farm.lk"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	u, err := svc.UpdateProfile(ctx, a.ID, ProfileInput{Name: "Anura", Email: "anura@farm.lk"})
	require.NoError(t, err)
	assert.Equal(t, "Anura", u.Name)
	assert.Equal(t, PublicUser{ID: a.ID, Name: "Anura", Email: "anura@farm.lk"}, u.Public())
}

func TestMiddlewareAndGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Name: "Ravi", Email: "ravi@farm.lk", Password: "greenhouse"})
	require.NoError(t, err)
	sess, err := svc.Open(ctx, u.ID)
	require.NoError(t, err)

	r := gin.New()
	r.Use(svc.Middleware("sid"))
	r.GET("/dashboard", Required("/login"), func(c *gin.Context) {
		c.String(http.StatusOK, UserFrom(c).Name)
	})
	r.GET("/api/sensors", Required("/login"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/login", Guest("/dashboard"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sensors", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: sess.Token})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ravi", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: sess.Token})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "stale"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "sid=;")
}
