package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/pkg/logger"

	"github.com/google/uuid"
)

const passwordSaltBytes = 16

// 认证子系统的哨兵错误。
var (
	ErrInvalidCredentials = stdErrors.New("invalid credentials")
	ErrInvalidToken       = stdErrors.New("invalid token")
	ErrMissingToken       = stdErrors.New("missing bearer token")
)

// Config 配置认证服务。
type Config struct {
	// Secret 是 HS256 签名密钥。为空时禁用令牌签发，Signin 将报错。
	Secret string
	// Issuer 写入令牌 iss 声明。
	Issuer string
	// AccessTTL 是访问令牌有效期（秒），默认 3600。
	AccessTTL int64
}

// Credential 是 Signin 返回的令牌凭据。
type Credential struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Service 基于账户存储提供注册、登录与令牌校验。
type Service struct {
	users  record.UserStore
	tokens *tokenManager
	audit  *slog.Logger
}

// NewService 构造认证服务。
func NewService(users record.UserStore, cfg Config) (*Service, error) {
	if users == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "认证服务缺少账户存储")
	}
	svc := &Service{users: users, audit: logger.Audit()}
	if strings.TrimSpace(cfg.Secret) != "" {
		if cfg.AccessTTL <= 0 {
			cfg.AccessTTL = 3600
		}
		svc.tokens = &tokenManager{
			secret:    []byte(cfg.Secret),
			issuer:    cfg.Issuer,
			accessTTL: time.Duration(cfg.AccessTTL) * time.Second,
		}
	}
	return svc, nil
}

// Signup 创建新账户。用户名大小写不敏感，重复注册返回 CONFLICT。
func (s *Service) Signup(ctx context.Context, username, password string) (*record.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "用户名不能为空", xerrors.WithField("username"))
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "密码不合法", xerrors.WithField("password"))
	}
	user := &record.User{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(username),
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if stdErrors.Is(err, record.ErrConflict) {
			return nil, xerrors.Wrap(xerrors.CodeConflict, err,
				fmt.Sprintf("用户名 %s 已被占用", user.Username))
		}
		return nil, err
	}
	s.audit.Info("账户注册成功",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Signin 校验凭据并签发访问令牌。
func (s *Service) Signin(ctx context.Context, username, password string) (*Credential, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !verifyPassword(user.PasswordHash, password) {
		s.audit.Warn("登录失败", slog.String("username", user.Username))
		return nil, ErrInvalidCredentials
	}
	if s.tokens == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置令牌签名密钥")
	}
	token, expiresIn, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "签发令牌失败")
	}
	s.audit.Info("账户登录成功",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return &Credential{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	}, nil
}

// VerifyAuthorization 解析 Authorization 头并返回令牌对应的账户 ID。
// 头为空时返回 ErrMissingToken，调用方据此决定操作是否需要身份。
func (s *Service) VerifyAuthorization(ctx context.Context, authorization string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	if s.tokens == nil {
		return "", ErrInvalidToken
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	// 账户可能在令牌有效期内被删除，回源确认。
	if _, err := s.users.GetUser(ctx, claims.Subject); err != nil {
		if stdErrors.Is(err, record.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return claims.Subject, nil
}

// hashPassword 生成带盐的 SHA-256 口令摘要，格式为 base64(salt):base64(digest)。
func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", stdErrors.New("password cannot be empty")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedDigest := base64.RawStdEncoding.EncodeToString(digest[:])
	return encodedSalt + ":" + encodedDigest, nil
}

// verifyPassword 校验口令与摘要是否匹配。
func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare(expected, digest[:]) == 1
}
