package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/middleware"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/provider"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/web"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubUserService 内存身份存储
type stubUserService struct {
	users    map[string]*model.User
	password string
}

func newStubUserService() *stubUserService {
	return &stubUserService{users: make(map[string]*model.User), password: "Test1234"}
}

func (s *stubUserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, ok := s.users[username]
	if !ok || password != s.password {
		return nil, service.ErrInvalidCredentials
	}
	return user, nil
}

func (s *stubUserService) Create(ctx context.Context, user *model.User, password string) error {
	s.users[user.Username] = user
	return nil
}

func (s *stubUserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if user, ok := s.users[username]; ok {
		return user, nil
	}
	return nil, service.ErrInvalidCredentials
}

func (s *stubUserService) UpsertFederated(ctx context.Context, providerTag string, profile *service.FederatedProfile) (*model.User, error) {
	if profile == nil || profile.DisplayName == "" {
		return nil, service.ErrProfileIncomplete
	}
	username := profile.DisplayName + "_" + providerTag
	if user, ok := s.users[username]; ok {
		return user, nil
	}
	user := &model.User{
		Username:    username,
		DisplayName: profile.DisplayName,
		Provider:    providerTag,
		Status:      model.StatusActive,
	}
	s.users[username] = user
	return user, nil
}

// testEnv 一套完整的处理器测试装置
type testEnv struct {
	router    *gin.Engine
	users     *stubUserService
	sessions  service.SessionService
	tickets   service.TicketService
	proxies   service.ProxyService
	state     service.StateService
	providers *provider.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	registry := service.NewServiceRegistry(nil)
	tickets := service.NewTicketService(client, registry, nil)
	sessions := service.NewSessionService(client, nil)
	users := newStubUserService()
	users.Create(context.Background(), &model.User{
		Username:    "alice",
		Email:       "alice@example.org",
		DisplayName: "Alice",
		Status:      model.StatusActive,
	}, "Test1234")

	proxies := service.NewProxyService(tickets, nil)
	state := service.NewStateService(&service.StateServiceConfig{Secret: "test-secret"})
	providers := provider.NewRegistry(nil, nil)

	env := &testEnv{
		users:     users,
		sessions:  sessions,
		tickets:   tickets,
		proxies:   proxies,
		state:     state,
		providers: providers,
	}
	env.router = env.buildRouter()
	return env
}

func (e *testEnv) buildRouter() *gin.Engine {
	loginHandler := NewLoginHandler(e.users, e.sessions, e.tickets, e.providers, nil)
	validateHandler := NewValidateHandler(e.tickets, e.proxies, e.users)
	oauthHandler := NewOAuthHandler(e.providers, e.state, e.users, e.sessions, e.tickets, 0)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.SetHTMLTemplate(web.Templates())

	router.GET("/login", loginHandler.ShowLogin)
	router.POST("/login", loginHandler.DoLogin)
	router.GET("/logout", loginHandler.Logout)
	router.GET("/warn", loginHandler.ShowWarn)
	router.POST("/warn", loginHandler.DoWarn)

	router.GET("/validate", validateHandler.LegacyValidate)
	router.GET("/serviceValidate", validateHandler.ServiceValidate)
	router.GET("/proxyValidate", validateHandler.ProxyValidate)
	router.GET("/proxy", validateHandler.Proxy)
	router.POST("/samlValidate", validateHandler.SamlValidate)

	router.GET("/oauth/authorize/:provider", oauthHandler.Authorize)
	router.GET("/oauth/callback", oauthHandler.Callback)

	return router
}

// login 建立会话并返回 cookie
func (e *testEnv) login(t *testing.T, username string, warn bool) *http.Cookie {
	t.Helper()
	session, err := e.sessions.Create(context.Background(), username, warn)
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookieName, Value: session.ID}
}

// get 执行 GET 请求
func (e *testEnv) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
