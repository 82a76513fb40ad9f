package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrStateInvalid = errors.New("state 令牌无效或已过期")
)

// StateService 第三方登录 state 令牌服务
// 回跳参数不再拼明文 provider 和 service，改为签名令牌绑定
// 提供方、目标服务和一次性随机值，防止回调参数被伪造
type StateService interface {
	Issue(providerTag, service string) (string, error)
	Verify(token string) (providerTag, service string, err error)
}

// StateServiceConfig state 令牌服务配置
type StateServiceConfig struct {
	Secret string
	Expiry time.Duration // 默认 10 分钟
}

type stateService struct {
	secret []byte
	expiry time.Duration
}

// stateClaims state 令牌声明
type stateClaims struct {
	Provider string `json:"provider"`
	Service  string `json:"service"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// NewStateService 创建 state 令牌服务
func NewStateService(config *StateServiceConfig) StateService {
	expiry := config.Expiry
	if expiry == 0 {
		expiry = 10 * time.Minute
	}
	return &stateService{
		secret: []byte(config.Secret),
		expiry: expiry,
	}
}

func (s *stateService) Issue(providerTag, service string) (string, error) {
	now := time.Now()
	claims := &stateClaims{
		Provider: providerTag,
		Service:  service,
		Nonce:    uuid.New().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *stateService) Verify(token string) (string, string, error) {
	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrStateInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrStateInvalid
	}
	if claims.Provider == "" {
		return "", "", ErrStateInvalid
	}
	return claims.Provider, claims.Service, nil
}
