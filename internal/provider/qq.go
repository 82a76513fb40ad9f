package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pu-ac-cn/cas-server/internal/service"
)

// QQ 提供方适配器
// 令牌接口返回表单编码文本，openid 接口返回 jsonp 包装的 JSON，
// 两处都与常规 OAuth 实现不同，需要单独解包
type QQ struct {
	appID  string
	appKey string
	client *http.Client

	authorizeURL string
	tokenURL     string
	openIDURL    string
	userInfoURL  string
}

// NewQQ 创建 QQ 适配器
func NewQQ(appID, appKey string, client *http.Client) *QQ {
	return &QQ{
		appID:        appID,
		appKey:       appKey,
		client:       client,
		authorizeURL: "https://graph.qq.com/oauth2.0/authorize",
		tokenURL:     "https://graph.qq.com/oauth2.0/token",
		openIDURL:    "https://graph.qq.com/oauth2.0/me",
		userInfoURL:  "https://graph.qq.com/user/get_user_info",
	}
}

func (q *QQ) Tag() string { return "qq" }

func (q *QQ) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", q.appID)
	v.Set("redirect_uri", redirectURI)
	v.Set("state", state)
	return q.authorizeURL + "?" + v.Encode()
}

func (q *QQ) FetchProfile(ctx context.Context, code, redirectURI string) (*service.FederatedProfile, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", q.appID)
	form.Set("client_secret", q.appKey)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	body, err := postForm(ctx, q.client, q.tokenURL, form, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrExchangeFailed
	}
	accessToken := values.Get("access_token")
	if accessToken == "" {
		return nil, ErrExchangeFailed
	}

	openID, err := q.fetchOpenID(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	infoURL := q.userInfoURL + "?" + url.Values{
		"access_token":       {accessToken},
		"oauth_consumer_key": {q.appID},
		"openid":             {openID},
	}.Encode()
	var info struct {
		Nickname string `json:"nickname"`
	}
	if err := getJSON(ctx, q.client, infoURL, nil, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFail, err)
	}

	return &service.FederatedProfile{
		ExternalID:  openID,
		DisplayName: info.Nickname,
	}, nil
}

// fetchOpenID 请求 openid 接口并剥掉 callback( ... ); 包装
func (q *QQ) fetchOpenID(ctx context.Context, accessToken string) (string, error) {
	body, err := getRaw(ctx, q.client, q.openIDURL+"?access_token="+url.QueryEscape(accessToken), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProfileFetchFail, err)
	}
	text := strings.TrimSpace(string(body))
	start := strings.Index(text, "(")
	end := strings.LastIndex(text, ")")
	if !strings.HasPrefix(text, "callback") || start < 0 || end <= start {
		return "", ErrProfileFetchFail
	}
	var payload struct {
		OpenID string `json:"openid"`
	}
	if err := json.Unmarshal([]byte(text[start+1:end]), &payload); err != nil || payload.OpenID == "" {
		return "", ErrProfileFetchFail
	}
	return payload.OpenID, nil
}
