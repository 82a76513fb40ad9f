// Package provider 第三方登录提供方适配器
// 每个提供方封装授权地址构造、授权码换取令牌、拉取用户资料三步，
// 对外只暴露统一的 Adapter 接口，差异（JSON/表单/jsonp 包装）都收在各自实现里
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/config"
	"github.com/pu-ac-cn/cas-server/internal/service"
)

var (
	ErrProviderUnknown  = errors.New("未知的第三方登录提供方")
	ErrExchangeFailed   = errors.New("授权码换取令牌失败")
	ErrProfileFetchFail = errors.New("获取第三方用户资料失败")
)

// Adapter 第三方登录提供方接口
type Adapter interface {
	// Tag 提供方标识，用作用户名后缀和路由参数
	Tag() string
	// AuthorizeURL 构造用户跳转的授权地址
	AuthorizeURL(redirectURI, state string) string
	// FetchProfile 用授权码换取令牌并拉取用户资料
	FetchProfile(ctx context.Context, code, redirectURI string) (*service.FederatedProfile, error)
}

// Registry 按标识查找提供方
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry 根据配置构造提供方注册表，只注册配置了凭据的提供方
func NewRegistry(providers map[string]config.ProviderConfig, client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Registry{adapters: make(map[string]Adapter)}
	for tag, p := range providers {
		if p.ClientID == "" {
			continue
		}
		switch tag {
		case "github":
			r.adapters[tag] = NewGitHub(p.ClientID, p.ClientSecret, client)
		case "qq":
			r.adapters[tag] = NewQQ(p.ClientID, p.ClientSecret, client)
		case "weibo":
			r.adapters[tag] = NewWeibo(p.ClientID, p.ClientSecret, client)
		case "wechat":
			r.adapters[tag] = NewWeChat(p.ClientID, p.ClientSecret, client)
		}
	}
	return r
}

// Register 注册一个提供方，覆盖同标识的已有注册
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Tag()] = a
}

// Get 查找提供方
func (r *Registry) Get(tag string) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, ErrProviderUnknown
	}
	return a, nil
}

// Tags 已注册的提供方标识，按字典序排序，保证登录页按钮顺序稳定
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// postForm 表单 POST，返回原始响应体
func postForm(ctx context.Context, client *http.Client, rawURL string, form url.Values, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return doRequest(client, req)
}

// getRaw GET 请求，返回原始响应体
func getRaw(ctx context.Context, client *http.Client, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return doRequest(client, req)
}

// getJSON GET 请求并解码 JSON
func getJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, out interface{}) error {
	body, err := getRaw(ctx, client, rawURL, header)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("上游返回状态码 %d", resp.StatusCode)
	}
	return body, nil
}
