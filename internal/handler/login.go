// Package handler HTTP 处理器
package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/provider"
	"github.com/pu-ac-cn/cas-server/internal/service"
)

// 会话 cookie 名
const sessionCookieName = "cas_sso"

// LoginHandler 登录、登出与确认页处理器
// 按 renew/gateway/service 参数与会话状态决定质询、透明签发或无票回跳
type LoginHandler struct {
	users    service.UserService
	sessions service.SessionService
	tickets  service.TicketService
	registry *provider.Registry

	// defaultService 未携带 service 参数时的默认目标
	defaultService string
	// followLogoutURL 登出时是否跟随 service 参数回跳
	followLogoutURL bool
	sessionExpiry   time.Duration
}

// LoginHandlerConfig 登录处理器配置
type LoginHandlerConfig struct {
	DefaultService  string
	FollowLogoutURL bool
	SessionExpiry   time.Duration
}

// NewLoginHandler 创建登录处理器
func NewLoginHandler(users service.UserService, sessions service.SessionService,
	tickets service.TicketService, registry *provider.Registry, config *LoginHandlerConfig) *LoginHandler {
	if config == nil {
		config = &LoginHandlerConfig{FollowLogoutURL: true}
	}
	if config.SessionExpiry == 0 {
		config.SessionExpiry = 8 * time.Hour
	}
	return &LoginHandler{
		users:           users,
		sessions:        sessions,
		tickets:         tickets,
		registry:        registry,
		defaultService:  config.DefaultService,
		followLogoutURL: config.FollowLogoutURL,
		sessionExpiry:   config.SessionExpiry,
	}
}

// currentSession 读取 cookie 并校验会话，不存在或过期返回 nil
func (h *LoginHandler) currentSession(c *gin.Context) *model.Session {
	id, err := c.Cookie(sessionCookieName)
	if err != nil || id == "" {
		return nil
	}
	session, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		return nil
	}
	return session
}

func (h *LoginHandler) setSessionCookie(c *gin.Context, sessionID string) {
	c.SetCookie(sessionCookieName, sessionID, int(h.sessionExpiry/time.Second), "/", "", false, true)
}

func (h *LoginHandler) clearSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
}

// serviceParam 取 service 参数，缺省时回落到配置的默认服务
func (h *LoginHandler) serviceParam(c *gin.Context) string {
	svc := c.Query("service")
	if svc == "" {
		svc = h.defaultService
	}
	return svc
}

// appendTicket 在回跳地址上追加 ticket 参数，保留原有查询串
func appendTicket(svc, ticket string) string {
	u, err := url.Parse(svc)
	if err != nil {
		return svc
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()
	return u.String()
}

// renderLogin 渲染登录页
func (h *LoginHandler) renderLogin(c *gin.Context, status int, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	// 模板引用的键都要有值，缺省为空
	for _, key := range []string{"Error", "Service", "Username", "LoggedInUser"} {
		if _, ok := data[key]; !ok {
			data[key] = ""
		}
	}
	if _, ok := data["Providers"]; !ok {
		data["Providers"] = h.registry.Tags()
	}
	c.HTML(status, "login.html", data)
}

// issueTransparent 基于已有会话透明签发 ST
// 会话带 warn 标记时先经确认页，不直接回跳
func (h *LoginHandler) issueTransparent(c *gin.Context, session *model.Session, svc string) {
	ticket, err := h.tickets.IssueServiceTicket(c.Request.Context(), svc, session.Username, false)
	if err != nil {
		h.renderLogin(c, http.StatusOK, gin.H{"Error": "签发票据失败，请确认服务地址是否被允许", "Service": svc})
		return
	}
	if session.Warn {
		c.Redirect(http.StatusFound, "/warn?"+url.Values{
			"service": {svc},
			"ticket":  {ticket.Token},
		}.Encode())
		return
	}
	c.Redirect(http.StatusFound, appendTicket(svc, ticket.Token))
}

// ShowLogin 登录页与透明签发入口
// GET /login
func (h *LoginHandler) ShowLogin(c *gin.Context) {
	svc := h.serviceParam(c)
	renew := c.Query("renew") == "true"
	gateway := c.Query("gateway") == "true"

	// renew 强制交互式登录，忽略已有会话
	if renew {
		h.renderLogin(c, http.StatusOK, gin.H{"Service": svc})
		return
	}

	session := h.currentSession(c)

	if gateway && svc != "" {
		if session != nil {
			h.issueTransparent(c, session, svc)
			return
		}
		// gateway 无会话：回跳且不带任何 ticket 参数
		c.Redirect(http.StatusFound, svc)
		return
	}

	if session != nil {
		if svc != "" {
			h.issueTransparent(c, session, svc)
			return
		}
		h.renderLogin(c, http.StatusOK, gin.H{"LoggedInUser": session.Username})
		return
	}

	h.renderLogin(c, http.StatusOK, gin.H{"Service": svc})
}

// DoLogin 处理凭据提交
// POST /login
func (h *LoginHandler) DoLogin(c *gin.Context) {
	svc := h.serviceParam(c)
	username := c.PostForm("username")
	password := c.PostForm("password")
	warn := c.PostForm("warn") == "true"

	user, err := h.users.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		// 登录失败重新渲染质询页，不建立会话
		h.renderLogin(c, http.StatusUnauthorized, gin.H{
			"Error":    err.Error(),
			"Service":  svc,
			"Username": username,
		})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), user.Username, warn)
	if err != nil {
		h.renderLogin(c, http.StatusInternalServerError, gin.H{"Error": "创建会话失败", "Service": svc})
		return
	}
	h.setSessionCookie(c, session.ID)

	if svc != "" {
		// 直接提交凭据签发的票据带 primary 标记，供 renew 校验
		ticket, err := h.tickets.IssueServiceTicket(c.Request.Context(), svc, user.Username, true)
		if err != nil {
			h.renderLogin(c, http.StatusOK, gin.H{"Error": "签发票据失败，请确认服务地址是否被允许", "Service": svc})
			return
		}
		c.Redirect(http.StatusFound, appendTicket(svc, ticket.Token))
		return
	}

	h.renderLogin(c, http.StatusOK, gin.H{"LoggedInUser": user.Username})
}

// Logout 销毁会话
// GET /logout
func (h *LoginHandler) Logout(c *gin.Context) {
	if id, err := c.Cookie(sessionCookieName); err == nil && id != "" {
		_ = h.sessions.Delete(c.Request.Context(), id)
	}
	h.clearSessionCookie(c)

	svc := c.Query("service")
	if svc != "" && h.followLogoutURL {
		c.Redirect(http.StatusFound, svc)
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// ShowWarn 透明签发前的确认页
// GET /warn
func (h *LoginHandler) ShowWarn(c *gin.Context) {
	svc := c.Query("service")
	ticket := c.Query("ticket")
	if svc == "" || ticket == "" {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.HTML(http.StatusOK, "warn.html", gin.H{"Service": svc, "Ticket": ticket})
}

// DoWarn 确认页提交：继续则携带待用票据回跳，取消则不带票据回跳
// POST /warn
func (h *LoginHandler) DoWarn(c *gin.Context) {
	svc := c.PostForm("service")
	ticket := c.PostForm("ticket")
	if svc == "" {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	if c.PostForm("action") == "continue" && ticket != "" {
		c.Redirect(http.StatusFound, appendTicket(svc, ticket))
		return
	}
	c.Redirect(http.StatusFound, svc)
}
