package model

import (
	"strings"
	"time"
)

// TicketKind 票据种类
// 种类在创建时固定，校验端点只接受与其匹配的种类
type TicketKind string

const (
	// KindServiceTicket 服务票据，一次性
	KindServiceTicket TicketKind = "ST"
	// KindProxyGrantingTicket 代理授权票据，过期前可多次使用
	KindProxyGrantingTicket TicketKind = "PGT"
	// KindProxyTicket 代理票据，一次性，携带代理链
	KindProxyTicket TicketKind = "PT"
)

// Prefix 票据种类对应的令牌前缀
func (k TicketKind) Prefix() string {
	return string(k) + "-"
}

// ParseTicketKind 从令牌前缀解析票据种类
// 前缀不合法时返回 false，调用方按票据格式错误处理
func ParseTicketKind(token string) (TicketKind, bool) {
	switch {
	case strings.HasPrefix(token, KindProxyGrantingTicket.Prefix()):
		return KindProxyGrantingTicket, true
	case strings.HasPrefix(token, KindProxyTicket.Prefix()):
		return KindProxyTicket, true
	case strings.HasPrefix(token, KindServiceTicket.Prefix()):
		return KindServiceTicket, true
	default:
		return "", false
	}
}

// Ticket CAS 票据
type Ticket struct {
	Token    string     `json:"token"`
	Kind     TicketKind `json:"kind"`
	Username string     `json:"username"`
	Service  string     `json:"service"`
	// Primary 表示票据由直接提交凭据签发（本地或第三方登录），
	// 而非来自已有的单点登录会话；renew 校验要求 Primary 为 true
	Primary  bool `json:"primary"`
	Consumed bool `json:"consumed"`
	// GrantedBy 仅 PGT 使用，记录已验证的回调地址
	GrantedBy string `json:"granted_by,omitempty"`
	// ProxyChain 代理链，最近的代理方在前
	// PGT 上保存签发它的票据继承下来的链，PT 上保存完整的链
	ProxyChain []string  `json:"proxy_chain,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsExpired 检查票据是否过期
func (t *Ticket) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
