package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pu-ac-cn/cas-server/internal/service"
)

// GitHub 提供方适配器
type GitHub struct {
	clientID     string
	clientSecret string
	client       *http.Client

	authorizeURL string
	tokenURL     string
	userURL      string
}

// NewGitHub 创建 GitHub 适配器
func NewGitHub(clientID, clientSecret string, client *http.Client) *GitHub {
	return &GitHub{
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		authorizeURL: "https://github.com/login/oauth/authorize",
		tokenURL:     "https://github.com/login/oauth/access_token",
		userURL:      "https://api.github.com/user",
	}
}

func (g *GitHub) Tag() string { return "github" }

func (g *GitHub) AuthorizeURL(redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", "read:user user:email")
	return g.authorizeURL + "?" + q.Encode()
}

func (g *GitHub) FetchProfile(ctx context.Context, code, redirectURI string) (*service.FederatedProfile, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	body, err := postForm(ctx, g.client, g.tokenURL, form, "application/json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return nil, ErrExchangeFailed
	}

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
	}
	header := http.Header{"Authorization": {"Bearer " + token.AccessToken}}
	if err := getJSON(ctx, g.client, g.userURL, header, &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFail, err)
	}
	if user.Login == "" {
		return nil, ErrProfileFetchFail
	}

	return &service.FederatedProfile{
		ExternalID:  strconv.FormatInt(user.ID, 10),
		DisplayName: user.Login,
		Email:       user.Email,
	}, nil
}
