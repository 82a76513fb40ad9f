package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pu-ac-cn/cas-server/internal/service"
)

// Weibo 提供方适配器
type Weibo struct {
	appKey    string
	appSecret string
	client    *http.Client

	authorizeURL string
	tokenURL     string
	userShowURL  string
}

// NewWeibo 创建微博适配器
func NewWeibo(appKey, appSecret string, client *http.Client) *Weibo {
	return &Weibo{
		appKey:       appKey,
		appSecret:    appSecret,
		client:       client,
		authorizeURL: "https://api.weibo.com/oauth2/authorize",
		tokenURL:     "https://api.weibo.com/oauth2/access_token",
		userShowURL:  "https://api.weibo.com/2/users/show.json",
	}
}

func (w *Weibo) Tag() string { return "weibo" }

func (w *Weibo) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", w.appKey)
	v.Set("redirect_uri", redirectURI)
	v.Set("state", state)
	return w.authorizeURL + "?" + v.Encode()
}

func (w *Weibo) FetchProfile(ctx context.Context, code, redirectURI string) (*service.FederatedProfile, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", w.appKey)
	form.Set("client_secret", w.appSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	body, err := postForm(ctx, w.client, w.tokenURL, form, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	var token struct {
		AccessToken string `json:"access_token"`
		UID         string `json:"uid"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" || token.UID == "" {
		return nil, ErrExchangeFailed
	}

	showURL := w.userShowURL + "?" + url.Values{
		"access_token": {token.AccessToken},
		"uid":          {token.UID},
	}.Encode()
	var user struct {
		ProfileURL string `json:"profile_url"`
		ScreenName string `json:"screen_name"`
	}
	if err := getJSON(ctx, w.client, showURL, nil, &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFail, err)
	}

	// 个性域名是稳定的 ASCII 标识，优先作为用户名来源
	display := user.ProfileURL
	if display == "" {
		display = user.ScreenName
	}
	return &service.FederatedProfile{
		ExternalID:  token.UID,
		DisplayName: display,
	}, nil
}
