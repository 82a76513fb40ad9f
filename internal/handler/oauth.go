package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/provider"
	"github.com/pu-ac-cn/cas-server/internal/service"
)

// OAuthHandler 第三方登录处理器
// 把外部身份提供方接入与本地登录相同的签票流程：
// 授权回调成功后落地本地用户、建立 SSO 会话、签发 primary ST
type OAuthHandler struct {
	providers *provider.Registry
	state     service.StateService
	users     service.UserService
	sessions  service.SessionService
	tickets   service.TicketService

	sessionExpiry time.Duration
}

// NewOAuthHandler 创建第三方登录处理器
func NewOAuthHandler(providers *provider.Registry, state service.StateService,
	users service.UserService, sessions service.SessionService,
	tickets service.TicketService, sessionExpiry time.Duration) *OAuthHandler {
	if sessionExpiry == 0 {
		sessionExpiry = 8 * time.Hour
	}
	return &OAuthHandler{
		providers:     providers,
		state:         state,
		users:         users,
		sessions:      sessions,
		tickets:       tickets,
		sessionExpiry: sessionExpiry,
	}
}

// callbackURI 回调地址，所有提供方共用一个回调入口
func (h *OAuthHandler) callbackURI(c *gin.Context) string {
	scheme := "https"
	if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + c.Request.Host + "/oauth/callback"
}

// Authorize 跳转到提供方授权页
// GET /oauth/authorize/:provider?service=...
// state 令牌签名绑定提供方与目标服务，回调时只认令牌不认明文参数
func (h *OAuthHandler) Authorize(c *gin.Context) {
	tag := c.Param("provider")
	adapter, err := h.providers.Get(tag)
	if err != nil {
		c.String(http.StatusNotFound, "未知的登录方式")
		return
	}

	state, err := h.state.Issue(tag, c.Query("service"))
	if err != nil {
		c.String(http.StatusInternalServerError, "第三方登录暂不可用")
		return
	}
	c.Redirect(http.StatusFound, adapter.AuthorizeURL(h.callbackURI(c), state))
}

// Callback 提供方授权回调
// GET /oauth/callback?state=...&code=...
func (h *OAuthHandler) Callback(c *gin.Context) {
	tag, svc, err := h.state.Verify(c.Query("state"))
	if err != nil {
		c.String(http.StatusBadRequest, "第三方登录失败: 回调状态无效")
		return
	}
	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "第三方登录失败: 缺少授权码")
		return
	}

	adapter, err := h.providers.Get(tag)
	if err != nil {
		c.String(http.StatusBadRequest, "第三方登录失败: 未知的登录方式")
		return
	}

	profile, err := adapter.FetchProfile(c.Request.Context(), code, h.callbackURI(c))
	if err != nil {
		c.String(http.StatusBadGateway, "第三方登录失败: "+err.Error())
		return
	}

	user, err := h.users.UpsertFederated(c.Request.Context(), tag, profile)
	if err != nil {
		c.String(http.StatusBadGateway, "第三方登录失败: "+err.Error())
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), user.Username, false)
	if err != nil {
		c.String(http.StatusInternalServerError, "第三方登录失败: 创建会话失败")
		return
	}
	c.SetCookie(sessionCookieName, session.ID, int(h.sessionExpiry/time.Second), "/", "", false, true)

	if svc == "" {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	// 回调是一次直接的凭据出示，签发 primary 票据
	ticket, err := h.tickets.IssueServiceTicket(c.Request.Context(), svc, user.Username, true)
	if err != nil {
		c.String(http.StatusBadGateway, "第三方登录失败: 签发票据失败")
		return
	}
	c.Redirect(http.StatusFound, appendTicket(svc, ticket.Token))
}
