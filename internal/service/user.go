package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/mozillazg/go-pinyin"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/repository"
)

// 认证相关错误
var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrAccountLocked      = errors.New("账户已锁定，请稍后再试")
	ErrAccountDisabled    = errors.New("账户已禁用")
	ErrProfileIncomplete  = errors.New("第三方账号资料不完整")
)

// FederatedProfile 第三方登录获取的用户资料
type FederatedProfile struct {
	ExternalID  string
	DisplayName string
	Email       string
}

// UserService 用户服务接口（身份存储）
type UserService interface {
	// Authenticate 验证本地用户凭据
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
	// Create 创建本地用户
	Create(ctx context.Context, user *model.User, password string) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// UpsertFederated 第三方账号首次登录时惰性落地为本地用户
	// 用户名由昵称音译加提供方后缀合成，避免跨提供方撞名
	UpsertFederated(ctx context.Context, providerTag string, profile *FederatedProfile) (*model.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	// emailDomain 为无邮箱的第三方账号合成邮箱时使用的后缀
	emailDomain string
}

// NewUserService 创建用户服务
func NewUserService(userRepo repository.UserRepository, emailDomain string) UserService {
	return &userService{userRepo: userRepo, emailDomain: emailDomain}
}

// Authenticate 验证用户凭据
func (s *userService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.IsLocked() {
		return nil, ErrAccountLocked
	}
	if !user.IsActive() {
		return nil, ErrAccountDisabled
	}

	if !user.VerifyPassword(password) {
		user.IncrementFailedLogin()
		_ = s.userRepo.Update(ctx, user)
		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginCount > 0 {
		user.ResetFailedLogin()
		_ = s.userRepo.Update(ctx, user)
	}

	return user, nil
}

// Create 创建本地用户
func (s *userService) Create(ctx context.Context, user *model.User, password string) error {
	if strings.TrimSpace(user.Username) == "" {
		return errors.New("用户名不能为空")
	}
	if err := user.SetPassword(password); err != nil {
		return errors.New("密码加密失败")
	}
	if user.Status == "" {
		user.Status = model.StatusActive
	}
	return s.userRepo.Create(ctx, user)
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.userRepo.GetByUsername(ctx, username)
}

// UpsertFederated 第三方账号落地
func (s *userService) UpsertFederated(ctx context.Context, providerTag string, profile *FederatedProfile) (*model.User, error) {
	if profile == nil {
		return nil, ErrProfileIncomplete
	}

	base := slugify(profile.DisplayName)
	if base == "" {
		base = slugify(profile.ExternalID)
	}
	if base == "" {
		return nil, ErrProfileIncomplete
	}
	username := base + "_" + providerTag

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	email := profile.Email
	if email == "" && s.emailDomain != "" {
		email = username + s.emailDomain
	}

	user = &model.User{
		Username:    username,
		Email:       email,
		DisplayName: profile.DisplayName,
		Provider:    providerTag,
		Status:      model.StatusActive,
	}
	// 第三方账号不走密码登录，设置随机密码仅为占位
	if err := user.SetPassword(uuid.New().String() + uuid.New().String()); err != nil {
		return nil, errors.New("密码加密失败")
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 并发首登时可能撞到刚创建的同名用户，回读一次
		if errors.Is(err, repository.ErrUserUsernameExists) {
			return s.userRepo.GetByUsername(ctx, username)
		}
		return nil, err
	}

	return user, nil
}

// slugify 把显示名转成 ASCII 安全的用户名片段
// 汉字转拼音，字母数字保留并转小写，其余字符丢弃
func slugify(name string) string {
	args := pinyin.NewArgs()
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.Is(unicode.Han, r):
			if py := pinyin.SinglePinyin(r, args); len(py) > 0 {
				b.WriteString(py[0])
			}
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}
