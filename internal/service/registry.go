// Package service 业务逻辑层
package service

import (
	"net/url"
	"strings"
)

// ServiceRegistry 依赖方服务地址的校验与规范化
type ServiceRegistry interface {
	// IsAllowed 检查服务地址是否在允许范围内
	IsAllowed(service string) bool
	// Normalize 规范化服务地址，签发和校验两侧比较前都先经过它
	Normalize(service string) string
}

type serviceRegistry struct {
	patterns []string
}

// NewServiceRegistry 创建服务注册表
// patterns 支持三种形式：完整前缀（https://app.example.org/cb）、
// 主机通配（https://*.example.org）；列表为空时放行所有可解析的 http(s) 地址
func NewServiceRegistry(patterns []string) ServiceRegistry {
	return &serviceRegistry{patterns: patterns}
}

func (r *serviceRegistry) IsAllowed(service string) bool {
	if service == "" {
		return false
	}
	u, err := url.Parse(service)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	if len(r.patterns) == 0 {
		return true
	}

	normalized := r.Normalize(service)
	for _, p := range r.patterns {
		if matchPattern(p, normalized) {
			return true
		}
	}
	return false
}

func (r *serviceRegistry) Normalize(service string) string {
	u, err := url.Parse(service)
	if err != nil {
		return service
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	// 去掉默认端口
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Fragment = ""

	// ticket 参数不属于服务标识
	q := u.Query()
	if q.Has("ticket") {
		q.Del("ticket")
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// matchPattern 单条模式匹配
func matchPattern(pattern, service string) bool {
	pu, err := url.Parse(pattern)
	if err != nil {
		return false
	}

	// 主机通配：https://*.example.org
	if strings.HasPrefix(pu.Host, "*.") {
		su, err := url.Parse(service)
		if err != nil {
			return false
		}
		if pu.Scheme != "" && su.Scheme != pu.Scheme {
			return false
		}
		suffix := strings.TrimPrefix(pu.Host, "*")
		return strings.HasSuffix(su.Hostname(), suffix) || su.Hostname() == strings.TrimPrefix(suffix, ".")
	}

	return strings.HasPrefix(service, pattern)
}
