package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func init() {
	gin.SetMode(gin.TestMode)
}

// setupRouterWithAuth 构造挂载鉴权中间件的最小路由
func setupRouterWithAuth() *gin.Engine {
	r := gin.New()
	api := r.Group("/api", Auth(testSecret))
	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"accountId": AccountID(c), "admin": IsAdmin(c)})
	})
	api.GET("/admin", AdminOnly(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestGenerateToken(t *testing.T) {
	token, expiresAt, err := GenerateToken("acc-1", true, testSecret, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.True(t, claims.Admin)

	_, _, err = GenerateToken("acc-1", false, "", time.Hour)
	assert.Error(t, err)
}

func TestParseTokenRejects(t *testing.T) {
	expired, _, err := GenerateToken("acc", false, testSecret, -time.Minute)
	require.NoError(t, err)
	noSubject, _, err := GenerateToken("", false, testSecret, time.Hour)
	require.NoError(t, err)
	otherSecret, _, err := GenerateToken("acc", false, "other", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acc"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acc", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"已过期", expired},
		{"缺少 sub", noSubject},
		{"密钥不匹配", otherSecret},
		{"缺少过期时间", noExpiry},
		{"alg none", unsigned},
		{"格式错误", "invalid.token.here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, testSecret)
			assert.Error(t, err)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	router := setupRouterWithAuth()
	user, _, err := GenerateToken("acc-user", false, testSecret, time.Hour)
	require.NoError(t, err)
	admin, _, err := GenerateToken("acc-admin", true, testSecret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"有效令牌", "/api/me", "Bearer " + user, http.StatusOK},
		{"小写 scheme", "/api/me", "bearer " + user, http.StatusOK},
		{"缺少请求头", "/api/me", "", http.StatusUnauthorized},
		{"缺少 Bearer 前缀", "/api/me", user, http.StatusUnauthorized},
		{"无效令牌", "/api/me", "Bearer invalid.token.here", http.StatusUnauthorized},
		{"普通用户访问管理接口", "/api/admin", "Bearer " + user, http.StatusForbidden},
		{"管理员访问管理接口", "/api/admin", "Bearer " + admin, http.StatusOK},
		{"查询参数令牌", "/api/me?token=" + user, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.JSONEq(t, `{"accountId":"acc-user","admin":false}`, w.Body.String())
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(false))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", w.Header().Get(HeaderRequestID))
}
