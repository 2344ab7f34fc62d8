package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/service"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/logger"
)

type validatorStub map[string]*models.JWTClaims

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type auditStub struct {
	entries []service.AuditEntry
}

func (a *auditStub) Record(ctx context.Context, entry service.AuditEntry) {
	a.entries = append(a.entries, entry)
}

type observerStub struct {
	paths []string
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
}

var tokens = validatorStub{
	"student": {UserID: "student-1", Role: models.RoleStudent},
	"teacher": {UserID: "teacher-1", Role: models.RoleTeacher},
	"admin":   {UserID: "admin-1", Role: models.RoleAdmin},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	chain := append([]gin.HandlerFunc{JWT(tokens)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(logger.UserIDKey))
	})
	router.GET("/users/:id", chain...)
	router.DELETE("/users/:id", chain...)
	return router
}

func do(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	router := newRouter()

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/users/x", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/users/x", "forged").Code)

	req := httptest.NewRequest(http.MethodGet, "/users/x", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ok := do(router, http.MethodGet, "/users/x", "teacher")
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "teacher-1", ok.Body.String())
}

func TestRBACAllowsRolesAndSelf(t *testing.T) {
	router := newRouter(RBAC(string(models.RoleAdmin), Self))

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/users/anyone", "admin").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/users/student-1", "student").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/users/student-2", "student").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/users/student-1", "teacher").Code)
}

func TestRequireRolesRejectsUnknownRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u", Role: "ROOT"})
	}, RequireRoles(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	recorder := &auditStub{}
	router := newRouter(RequireRoles(models.RoleAdmin), Audit(recorder, models.AuditActionDelete, models.AuditResourceUser))

	do(router, http.MethodDelete, "/users/u-9", "admin")
	do(router, http.MethodDelete, "/users/u-9", "teacher")

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, "admin-1", entry.Actor.ID)
	assert.Equal(t, "u-9", entry.ResourceID)
	assert.Equal(t, models.AuditActionDelete, entry.Action)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/courses/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/courses/1", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []string{"/courses/:id", "unmatched"}, observer.paths)
}
