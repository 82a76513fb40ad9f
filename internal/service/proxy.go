package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-server/internal/model"
)

var (
	ErrProxyCallbackFailed = errors.New("代理回调地址验证失败")
)

// ProxyService 代理票据链服务接口
type ProxyService interface {
	// IssuePGT 验证回调地址并签发 PGT，返回 PGT 与对应的 IOU
	// 回调失败只意味着没有 PGT，不影响外层票据校验的结果
	IssuePGT(ctx context.Context, validated *model.Ticket, callbackURL string) (*model.Ticket, string, error)
	// IssuePT 基于 PGT 签发 PT，PGT 本身不被消费
	IssuePT(ctx context.Context, pgtToken, targetService string) (*model.Ticket, error)
	// ValidatePT 消费一张 PT，返回票据（含按最近代理方在前排序的代理链）
	ValidatePT(ctx context.Context, service, token string) (*model.Ticket, error)
}

// ProxyServiceConfig 代理服务配置
type ProxyServiceConfig struct {
	// CallbackTimeout 回调探测超时，默认 5 秒
	CallbackTimeout time.Duration
	// Client 可注入的 HTTP 客户端（测试时替换证书校验）
	Client *http.Client
}

type proxyService struct {
	tickets TicketService
	client  *http.Client
}

// NewProxyService 创建代理票据链服务
func NewProxyService(tickets TicketService, config *ProxyServiceConfig) ProxyService {
	if config == nil {
		config = &ProxyServiceConfig{}
	}
	timeout := config.CallbackTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	return &proxyService{tickets: tickets, client: client}
}

// IssuePGT 签发 PGT
// 先生成 pgtId/pgtIou，通过回调送达后才写入存储，
// IOU 把"确认收到"与票据本体的传递分离开
func (s *proxyService) IssuePGT(ctx context.Context, validated *model.Ticket, callbackURL string) (*model.Ticket, string, error) {
	cb, err := url.Parse(callbackURL)
	if err != nil || cb.Scheme != "https" || cb.Host == "" {
		return nil, "", ErrProxyCallbackFailed
	}

	pgtToken := s.tickets.NewToken(model.KindProxyGrantingTicket)
	iou := "PGTIOU-" + uuid.New().String()

	q := cb.Query()
	q.Set("pgtId", pgtToken)
	q.Set("pgtIou", iou)
	cb.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cb.String(), nil)
	if err != nil {
		return nil, "", ErrProxyCallbackFailed
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProxyCallbackFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", ErrProxyCallbackFailed
	}

	pgt := &model.Ticket{
		Token:    pgtToken,
		Kind:     model.KindProxyGrantingTicket,
		Username: validated.Username,
		Service:  validated.Service,
		// 回调地址即代理方标识，签发 PT 时追加到链首
		GrantedBy: callbackURL,
		// 由 PT 换取的 PGT 继承该 PT 的代理链
		ProxyChain: validated.ProxyChain,
	}
	if err := s.tickets.SaveProxyGrantingTicket(ctx, pgt); err != nil {
		return nil, "", err
	}

	return pgt, iou, nil
}

// IssuePT 签发 PT
func (s *proxyService) IssuePT(ctx context.Context, pgtToken, targetService string) (*model.Ticket, error) {
	pgt, err := s.tickets.GetProxyGrantingTicket(ctx, pgtToken)
	if err != nil {
		return nil, err
	}

	// 代理链：PGT 的代理方在前，继承链在后
	chain := make([]string, 0, len(pgt.ProxyChain)+1)
	chain = append(chain, pgt.GrantedBy)
	chain = append(chain, pgt.ProxyChain...)

	return s.tickets.IssueProxyTicket(ctx, targetService, pgt.Username, chain)
}

// ValidatePT 消费 PT
func (s *proxyService) ValidatePT(ctx context.Context, service, token string) (*model.Ticket, error) {
	return s.tickets.Consume(ctx, token, model.KindProxyTicket, service, false)
}
