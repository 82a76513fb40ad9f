package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestLogger 测试日志中间件
func TestLogger(t *testing.T) {
	router := gin.New()
	router.Use(Logger())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("期望状态码 200, 实际 %d", w.Code)
	}

	// 验证 X-Request-ID 头
	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Error("期望 X-Request-ID 头存在")
	}
}

// TestLoggerWithRequestID 测试日志中间件使用已有的请求 ID
func TestLoggerWithRequestID(t *testing.T) {
	router := gin.New()
	router.Use(Logger())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	requestID := w.Header().Get("X-Request-ID")
	if requestID != "custom-request-id" {
		t.Errorf("期望 X-Request-ID 为 custom-request-id, 实际 %s", requestID)
	}
}

// TestRedactQuery 日志中的查询串不得包含票据明文
func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"服务票据", "service=https%3A%2F%2Fapp.example.org%2Fcb&ticket=ST-secret-token"},
		{"代理票据", "targetService=https%3A%2F%2Fbackend.example.org%2F&ticket=PT-secret-token"},
	}

	for _, tt := range tests {
		got := redactQuery(tt.raw)
		if strings.Contains(got, "secret-token") {
			t.Errorf("%s: 遮蔽后仍包含票据明文: %q", tt.name, got)
		}
		if !strings.Contains(got, "ticket=") {
			t.Errorf("%s: 遮蔽后应保留 ticket 参数: %q", tt.name, got)
		}
		if !strings.Contains(got, "example.org") {
			t.Errorf("%s: 遮蔽后应保留服务参数: %q", tt.name, got)
		}
	}

	// 不含 ticket 参数时原样返回
	if got := redactQuery("service=https%3A%2F%2Fapp.example.org%2Fcb&renew=true"); got != "service=https%3A%2F%2Fapp.example.org%2Fcb&renew=true" {
		t.Errorf("无票据查询串不应被改写: %q", got)
	}
	if got := redactQuery(""); got != "" {
		t.Errorf("空查询串应原样返回: %q", got)
	}
}

// TestRecovery 测试恢复中间件
func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Logger()) // Recovery 依赖 Logger 设置的 request_id
	router.Use(Recovery())
	router.GET("/panic", func(c *gin.Context) {
		panic("测试 panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("期望状态码 500, 实际 %d", w.Code)
	}
}

// TestRecoveryLegacyValidate v1 校验端点崩溃时仍回应协议格式
func TestRecoveryLegacyValidate(t *testing.T) {
	router := gin.New()
	router.Use(Logger())
	router.Use(Recovery())
	router.GET("/validate", func(c *gin.Context) {
		panic("测试 panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("期望状态码 200, 实际 %d", w.Code)
	}
	if w.Body.String() != "no\n\n" {
		t.Errorf("期望响应 no\\n\\n, 实际 %q", w.Body.String())
	}
}

// TestRecoveryXMLValidate XML 校验端点崩溃时回应结构完整的失败文档
func TestRecoveryXMLValidate(t *testing.T) {
	router := gin.New()
	router.Use(Logger())
	router.Use(Recovery())
	router.GET("/serviceValidate", func(c *gin.Context) {
		panic("测试 panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/serviceValidate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("期望状态码 200, 实际 %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("期望响应包含 INTERNAL_ERROR, 实际 %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "cas:authenticationFailure") {
		t.Errorf("期望响应为 CAS 失败文档, 实际 %s", w.Body.String())
	}
}

// TestNoCache 测试禁用缓存中间件
func TestNoCache(t *testing.T) {
	router := gin.New()
	router.Use(NoCache())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("期望 Cache-Control 包含 no-store, 实际 %q", cc)
	}
	if w.Header().Get("Pragma") != "no-cache" {
		t.Error("期望 Pragma 为 no-cache")
	}
}
