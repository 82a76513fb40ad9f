package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/pkg/casprotocol"
)

const xmlContentType = "application/xml; charset=utf-8"

// ValidateHandler 票据校验处理器
// 覆盖 v1 明文、v2/v3 XML 与 SAML 1.1 三种响应形态，
// 任何输入都回应结构完整的文档
type ValidateHandler struct {
	tickets service.TicketService
	proxies service.ProxyService
	users   service.UserService

	// samlValidity SAML 断言有效窗口
	samlValidity time.Duration
}

// NewValidateHandler 创建校验处理器
func NewValidateHandler(tickets service.TicketService, proxies service.ProxyService,
	users service.UserService) *ValidateHandler {
	return &ValidateHandler{
		tickets:      tickets,
		proxies:      proxies,
		users:        users,
		samlValidity: 5 * time.Minute,
	}
}

// errorCode 服务层错误到协议错误码
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrTicketMalformed):
		return casprotocol.CodeInvalidTicketSpec
	case errors.Is(err, service.ErrTicketNotFound),
		errors.Is(err, service.ErrTicketExpired),
		errors.Is(err, service.ErrTicketConsumed),
		errors.Is(err, service.ErrRenewRequired):
		return casprotocol.CodeInvalidTicket
	case errors.Is(err, service.ErrServiceMismatch),
		errors.Is(err, service.ErrServiceNotAllowed):
		return casprotocol.CodeInvalidService
	case errors.Is(err, service.ErrPGTInvalid):
		return casprotocol.CodeBadPGT
	case errors.Is(err, service.ErrProxyCallbackFailed):
		return casprotocol.CodeInvalidProxyCallback
	default:
		return casprotocol.CodeInternalError
	}
}

// attributesFor 从身份存储取用户属性，取不到时不带属性块
func (h *ValidateHandler) attributesFor(c *gin.Context, username string) map[string][]string {
	user, err := h.users.GetByUsername(c.Request.Context(), username)
	if err != nil {
		return nil
	}
	attrs := map[string][]string{
		"username": {user.Username},
	}
	if user.Email != "" {
		attrs["email"] = []string{user.Email}
	}
	if user.DisplayName != "" {
		attrs["display_name"] = []string{user.DisplayName}
	}
	return attrs
}

// LegacyValidate v1 明文校验
// GET /validate
// 成功输出 "yes\n<用户名>\n"，其余一律 "no\n\n"
func (h *ValidateHandler) LegacyValidate(c *gin.Context) {
	svc := c.Query("service")
	token := c.Query("ticket")
	renew := c.Query("renew") == "true"

	if svc == "" || token == "" {
		c.String(http.StatusOK, "no\n\n")
		return
	}
	ticket, err := h.tickets.Consume(c.Request.Context(), token, model.KindServiceTicket, svc, renew)
	if err != nil {
		c.String(http.StatusOK, "no\n\n")
		return
	}
	c.String(http.StatusOK, "yes\n%s\n", ticket.Username)
}

// ServiceValidate v2/v3 ST 校验
// GET /serviceValidate, /p3/serviceValidate
func (h *ValidateHandler) ServiceValidate(c *gin.Context) {
	h.validateXML(c, false)
}

// ProxyValidate v2/v3 ST/PT 校验
// GET /proxyValidate, /p3/proxyValidate
func (h *ValidateHandler) ProxyValidate(c *gin.Context) {
	h.validateXML(c, true)
}

func (h *ValidateHandler) validateXML(c *gin.Context, acceptProxy bool) {
	svc := c.Query("service")
	token := c.Query("ticket")
	renew := c.Query("renew") == "true"
	pgtURL := c.Query("pgtUrl")

	if svc == "" || token == "" {
		c.Data(http.StatusOK, xmlContentType,
			casprotocol.FailureResponse(casprotocol.CodeInvalidRequest, "缺少 service 或 ticket 参数"))
		return
	}

	kind := model.KindServiceTicket
	if acceptProxy {
		// 种类由前缀决定，PT 走同一条消费路径
		if parsed, ok := model.ParseTicketKind(token); ok && parsed == model.KindProxyTicket {
			kind = model.KindProxyTicket
		}
	}

	ticket, err := h.tickets.Consume(c.Request.Context(), token, kind, svc, renew)
	if err != nil {
		c.Data(http.StatusOK, xmlContentType,
			casprotocol.FailureResponse(errorCode(err), err.Error()))
		return
	}

	// pgtUrl 回调失败不影响本次校验结果，只是响应里没有 pgtIou
	var pgtIOU string
	if pgtURL != "" {
		if _, iou, err := h.proxies.IssuePGT(c.Request.Context(), ticket, pgtURL); err == nil {
			pgtIOU = iou
		}
	}

	c.Data(http.StatusOK, xmlContentType, casprotocol.SuccessResponse(
		ticket.Username,
		h.attributesFor(c, ticket.Username),
		pgtIOU,
		ticket.ProxyChain,
	))
}

// Proxy 基于 PGT 签发 PT
// GET /proxy
func (h *ValidateHandler) Proxy(c *gin.Context) {
	pgt := c.Query("pgt")
	target := c.Query("targetService")

	if pgt == "" || target == "" {
		c.Data(http.StatusOK, xmlContentType,
			casprotocol.ProxyFailureResponse(casprotocol.CodeInvalidRequest, "缺少 pgt 或 targetService 参数"))
		return
	}

	ticket, err := h.proxies.IssuePT(c.Request.Context(), pgt, target)
	if err != nil {
		c.Data(http.StatusOK, xmlContentType,
			casprotocol.ProxyFailureResponse(errorCode(err), err.Error()))
		return
	}
	c.Data(http.StatusOK, xmlContentType, casprotocol.ProxySuccessResponse(ticket.Token))
}

// SamlValidate SAML 1.1 校验
// POST /samlValidate?TARGET=<service>
// 票据在请求体的 AssertionArtifact 里
func (h *ValidateHandler) SamlValidate(c *gin.Context) {
	target := c.Query("TARGET")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || target == "" {
		c.Data(http.StatusOK, xmlContentType,
			casprotocol.SamlFailureResponse("缺少 TARGET 参数或请求体不可读"))
		return
	}

	token, err := casprotocol.ParseSamlArtifact(body)
	if err != nil {
		c.Data(http.StatusOK, xmlContentType, casprotocol.SamlFailureResponse(err.Error()))
		return
	}

	ticket, err := h.tickets.Consume(c.Request.Context(), token, model.KindServiceTicket, target, false)
	if err != nil {
		c.Data(http.StatusOK, xmlContentType, casprotocol.SamlFailureResponse(err.Error()))
		return
	}

	issuer := "https://" + c.Request.Host
	c.Data(http.StatusOK, xmlContentType, casprotocol.SamlSuccessResponse(
		ticket.Username,
		h.attributesFor(c, ticket.Username),
		target,
		issuer,
		h.samlValidity,
	))
}
