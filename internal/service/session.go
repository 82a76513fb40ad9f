package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound = errors.New("会话不存在")
	ErrSessionExpired  = errors.New("会话已过期")
)

// SessionService 单点登录会话服务接口
type SessionService interface {
	Create(ctx context.Context, username string, warn bool) (*model.Session, error)
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// SessionServiceConfig 会话服务配置
type SessionServiceConfig struct {
	SessionExpiry time.Duration // 会话有效期，默认 8 小时
}

type sessionService struct {
	redis  *redis.Client
	config *SessionServiceConfig
}

// NewSessionService 创建会话服务
func NewSessionService(redisClient *redis.Client, config *SessionServiceConfig) SessionService {
	if config == nil {
		config = &SessionServiceConfig{}
	}
	if config.SessionExpiry == 0 {
		config.SessionExpiry = 8 * time.Hour
	}
	return &sessionService{
		redis:  redisClient,
		config: config,
	}
}

const sessionKeyPrefix = "cas:session:"

// Create 创建会话
func (s *sessionService) Create(ctx context.Context, username string, warn bool) (*model.Session, error) {
	session := &model.Session{
		ID:        uuid.New().String(),
		Username:  username,
		Warn:      warn,
		ExpiresAt: time.Now().Add(s.config.SessionExpiry),
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("序列化会话失败: %w", err)
	}

	key := sessionKeyPrefix + session.ID
	if err := s.redis.Set(ctx, key, data, s.config.SessionExpiry).Err(); err != nil {
		return nil, fmt.Errorf("存储会话失败: %w", err)
	}

	return session, nil
}

// Get 获取会话，过期时惰性清理
func (s *sessionService) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	key := sessionKeyPrefix + sessionID
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("获取会话失败: %w", err)
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("反序列化会话失败: %w", err)
	}

	if session.IsExpired() {
		s.redis.Del(ctx, key)
		return nil, ErrSessionExpired
	}

	return &session, nil
}

// Delete 删除会话（登出）
func (s *sessionService) Delete(ctx context.Context, sessionID string) error {
	key := sessionKeyPrefix + sessionID
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}
