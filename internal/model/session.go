package model

import (
	"time"
)

// Session 单点登录会话
// 会话 ID 写入浏览器 Cookie，会话本体存于 Redis
type Session struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Warn 用户要求每次透明签发票据前先确认
	Warn      bool      `json:"warn"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired 检查会话是否过期
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
