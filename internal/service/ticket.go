package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/redis/go-redis/v9"
)

// 票据相关错误
var (
	ErrTicketMalformed   = errors.New("票据格式不正确")
	ErrTicketNotFound    = errors.New("票据不存在")
	ErrTicketExpired     = errors.New("票据已过期")
	ErrTicketConsumed    = errors.New("票据已被使用")
	ErrServiceMismatch   = errors.New("票据与请求的服务不匹配")
	ErrRenewRequired     = errors.New("票据并非由直接提交凭据签发")
	ErrServiceNotAllowed = errors.New("服务地址未被允许")
	ErrPGTInvalid        = errors.New("代理授权票据无效或已过期")
)

// TicketService 票据服务接口
// ST/PT 一次性消费，PGT 过期前可多次使用
type TicketService interface {
	IssueServiceTicket(ctx context.Context, service, username string, primary bool) (*model.Ticket, error)
	IssueProxyTicket(ctx context.Context, targetService, username string, chain []string) (*model.Ticket, error)
	// SaveProxyGrantingTicket 回调验证通过后写入 PGT（令牌由调用方预生成）
	SaveProxyGrantingTicket(ctx context.Context, pgt *model.Ticket) error
	GetProxyGrantingTicket(ctx context.Context, token string) (*model.Ticket, error)
	// Consume 原子消费一张 ST/PT：同一令牌的并发消费恰有一次成功
	Consume(ctx context.Context, token string, kind model.TicketKind, service string, renew bool) (*model.Ticket, error)
	// Peek 只读查询，不消费
	Peek(ctx context.Context, token string) (*model.Ticket, error)
	// NewToken 生成带种类前缀的高熵令牌
	NewToken(kind model.TicketKind) string
}

// TicketServiceConfig 票据服务配置
type TicketServiceConfig struct {
	STExpiry  time.Duration // ST 有效期，默认 5 分钟
	PTExpiry  time.Duration // PT 有效期，默认 5 分钟
	PGTExpiry time.Duration // PGT 有效期，默认 8 小时
}

type ticketService struct {
	redis    *redis.Client
	registry ServiceRegistry
	config   *TicketServiceConfig
}

// NewTicketService 创建票据服务
func NewTicketService(redisClient *redis.Client, registry ServiceRegistry, config *TicketServiceConfig) TicketService {
	if config == nil {
		config = &TicketServiceConfig{}
	}
	if config.STExpiry == 0 {
		config.STExpiry = 5 * time.Minute
	}
	if config.PTExpiry == 0 {
		config.PTExpiry = 5 * time.Minute
	}
	if config.PGTExpiry == 0 {
		config.PGTExpiry = 8 * time.Hour
	}
	return &ticketService{
		redis:    redisClient,
		registry: registry,
		config:   config,
	}
}

// Redis key 前缀
const (
	ticketKeyPrefix     = "cas:ticket:"
	ticketUsedKeyPrefix = "cas:ticket:used:"
)

func (s *ticketService) NewToken(kind model.TicketKind) string {
	// 两段 UUID 去掉连字符，约 256 位随机性
	body := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	return kind.Prefix() + body
}

func (s *ticketService) expiryFor(kind model.TicketKind) time.Duration {
	switch kind {
	case model.KindProxyGrantingTicket:
		return s.config.PGTExpiry
	case model.KindProxyTicket:
		return s.config.PTExpiry
	default:
		return s.config.STExpiry
	}
}

// store 写入票据，SETNX 保证令牌全局唯一，碰撞时重新生成
func (s *ticketService) store(ctx context.Context, t *model.Ticket) error {
	ttl := s.expiryFor(t.Kind)
	t.CreatedAt = time.Now()
	t.ExpiresAt = t.CreatedAt.Add(ttl)

	for i := 0; i < 3; i++ {
		if t.Token == "" {
			t.Token = s.NewToken(t.Kind)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("序列化票据失败: %w", err)
		}
		ok, err := s.redis.SetNX(ctx, ticketKeyPrefix+t.Token, data, ttl).Result()
		if err != nil {
			return fmt.Errorf("存储票据失败: %w", err)
		}
		if ok {
			return nil
		}
		// 令牌碰撞，重新生成
		t.Token = ""
	}
	return errors.New("生成唯一票据令牌失败")
}

func (s *ticketService) IssueServiceTicket(ctx context.Context, service, username string, primary bool) (*model.Ticket, error) {
	if !s.registry.IsAllowed(service) {
		return nil, ErrServiceNotAllowed
	}
	t := &model.Ticket{
		Kind:     model.KindServiceTicket,
		Username: username,
		Service:  service,
		Primary:  primary,
	}
	if err := s.store(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *ticketService) IssueProxyTicket(ctx context.Context, targetService, username string, chain []string) (*model.Ticket, error) {
	if !s.registry.IsAllowed(targetService) {
		return nil, ErrServiceNotAllowed
	}
	t := &model.Ticket{
		Kind:       model.KindProxyTicket,
		Username:   username,
		Service:    targetService,
		Primary:    false,
		ProxyChain: chain,
	}
	if err := s.store(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *ticketService) SaveProxyGrantingTicket(ctx context.Context, pgt *model.Ticket) error {
	if pgt.Kind != model.KindProxyGrantingTicket {
		return ErrTicketMalformed
	}
	return s.store(ctx, pgt)
}

func (s *ticketService) GetProxyGrantingTicket(ctx context.Context, token string) (*model.Ticket, error) {
	kind, ok := model.ParseTicketKind(token)
	if !ok || kind != model.KindProxyGrantingTicket {
		return nil, ErrPGTInvalid
	}
	t, err := s.Peek(ctx, token)
	if err != nil {
		return nil, ErrPGTInvalid
	}
	if t.IsExpired() {
		s.redis.Del(ctx, ticketKeyPrefix+token)
		return nil, ErrPGTInvalid
	}
	return t, nil
}

func (s *ticketService) Peek(ctx context.Context, token string) (*model.Ticket, error) {
	data, err := s.redis.Get(ctx, ticketKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("获取票据失败: %w", err)
	}

	var t model.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("反序列化票据失败: %w", err)
	}
	return &t, nil
}

// Consume 按令牌原子消费
// 检查顺序：前缀 → 存在 → 过期 → 服务匹配 → renew → 原子置已用
func (s *ticketService) Consume(ctx context.Context, token string, kind model.TicketKind, service string, renew bool) (*model.Ticket, error) {
	parsed, ok := model.ParseTicketKind(token)
	if !ok {
		return nil, ErrTicketMalformed
	}
	// 种类由前缀唯一确定，与端点期望不符按不存在处理
	if parsed != kind || kind == model.KindProxyGrantingTicket {
		return nil, ErrTicketNotFound
	}

	t, err := s.Peek(ctx, token)
	if err != nil {
		return nil, err
	}

	if t.IsExpired() {
		s.redis.Del(ctx, ticketKeyPrefix+token)
		return nil, ErrTicketExpired
	}

	if s.registry.Normalize(service) != s.registry.Normalize(t.Service) {
		return nil, ErrServiceMismatch
	}

	if renew && !t.Primary {
		return nil, ErrRenewRequired
	}

	// 以令牌自身为键的一次性检查并置位：并发消费恰有一个调用方抢到标记
	won, err := s.redis.SetNX(ctx, ticketUsedKeyPrefix+token, 1, time.Until(t.ExpiresAt)+time.Minute).Result()
	if err != nil {
		return nil, fmt.Errorf("消费票据失败: %w", err)
	}
	if !won {
		return nil, ErrTicketConsumed
	}

	t.Consumed = true
	return t, nil
}
