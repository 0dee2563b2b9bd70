package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coordmutex/pkg/auth"
)

func protectedRouter(svc *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.POST("/op", AuthMiddleware(svc), RequireRole(auth.RoleOperator), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func call(r http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/op", nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuth_DisabledWithoutService(t *testing.T) {
	assert.Equal(t, http.StatusNoContent, call(protectedRouter(nil), ""))
}

func TestAuth_RequiresToken(t *testing.T) {
	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	require.NoError(t, err)
	r := protectedRouter(svc)

	assert.Equal(t, http.StatusUnauthorized, call(r, ""))
	assert.Equal(t, http.StatusUnauthorized, call(r, "garbage"))

	operator, _ := svc.GenerateToken("ops", auth.RoleOperator)
	assert.Equal(t, http.StatusNoContent, call(r, operator))

	viewer, _ := svc.GenerateToken("eyes", auth.RoleViewer)
	assert.Equal(t, http.StatusForbidden, call(r, viewer))
}

func TestAuth_RejectsOtherSchemes(t *testing.T) {
	svc, _ := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	token, _ := svc.GenerateToken("ops", auth.RoleOperator)

	req := httptest.NewRequest(http.MethodPost, "/op", nil)
	req.Header.Set(AuthHeaderKey, "Basic "+token)
	w := httptest.NewRecorder()
	protectedRouter(svc).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
