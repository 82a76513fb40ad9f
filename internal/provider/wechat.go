package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pu-ac-cn/cas-server/internal/service"
)

// WeChat 提供方适配器
// 令牌接口一次返回 access_token 与 openid，资料接口两者都要
type WeChat struct {
	appID     string
	appSecret string
	client    *http.Client

	authorizeURL string
	tokenURL     string
	userInfoURL  string
}

// NewWeChat 创建微信适配器
func NewWeChat(appID, appSecret string, client *http.Client) *WeChat {
	return &WeChat{
		appID:        appID,
		appSecret:    appSecret,
		client:       client,
		authorizeURL: "https://open.weixin.qq.com/connect/qrconnect",
		tokenURL:     "https://api.weixin.qq.com/sns/oauth2/access_token",
		userInfoURL:  "https://api.weixin.qq.com/sns/userinfo",
	}
}

func (w *WeChat) Tag() string { return "wechat" }

func (w *WeChat) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("appid", w.appID)
	v.Set("redirect_uri", redirectURI)
	v.Set("response_type", "code")
	v.Set("scope", "snsapi_login")
	v.Set("state", state)
	return w.authorizeURL + "?" + v.Encode() + "#wechat_redirect"
}

func (w *WeChat) FetchProfile(ctx context.Context, code, redirectURI string) (*service.FederatedProfile, error) {
	tokenURL := w.tokenURL + "?" + url.Values{
		"appid":      {w.appID},
		"secret":     {w.appSecret},
		"code":       {code},
		"grant_type": {"authorization_code"},
	}.Encode()
	body, err := getRaw(ctx, w.client, tokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	var token struct {
		AccessToken string `json:"access_token"`
		OpenID      string `json:"openid"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" || token.OpenID == "" {
		return nil, ErrExchangeFailed
	}

	infoURL := w.userInfoURL + "?" + url.Values{
		"access_token": {token.AccessToken},
		"openid":       {token.OpenID},
	}.Encode()
	var info struct {
		Nickname string `json:"nickname"`
	}
	if err := getJSON(ctx, w.client, infoURL, nil, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFail, err)
	}

	return &service.FederatedProfile{
		ExternalID:  token.OpenID,
		DisplayName: info.Nickname,
	}, nil
}
