package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository"
)

// Profile 是外部身份提供方回传的用户档案。
type Profile struct {
	ID          string
	DisplayName string
	Emails      []string
	Picture     string
	Link        string
}

// AuthService 负责两套认证：socket 的派生密钥认证，
// 以及 HTTP 管理接口的 JWT 认证。
type AuthService struct {
	registry    *domain.Registry
	userRepo    repository.UserRepository
	sockKeySalt []byte
	jwtSecret   []byte
	jwtExpiry   time.Duration
	adminEmails []string
}

// NewAuthService 创建 AuthService 实例。
// sockKeySalt 和 jwtSecretKey 应从安全配置中获取。
// adminEmails 中的邮箱在登录时被自动提升为超级用户。
func NewAuthService(registry *domain.Registry, userRepo repository.UserRepository,
	sockKeySalt, jwtSecretKey string, jwtExpiryHours int, adminEmails []string) (*AuthService, error) {
	if registry == nil {
		panic("Registry cannot be nil for AuthService")
	}
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if sockKeySalt == "" {
		return nil, fmt.Errorf("sock key salt cannot be empty")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24
	}
	return &AuthService{
		registry:    registry,
		userRepo:    userRepo,
		sockKeySalt: []byte(sockKeySalt),
		jwtSecret:   []byte(jwtSecretKey),
		jwtExpiry:   time.Duration(jwtExpiryHours) * time.Hour,
		adminEmails: adminEmails,
	}, nil
}

// SockKeyFor 返回用户的 socket 认证密钥：sha256(userID + salt) 的十六进制。
// 密钥是派生的，不存库；首次计算后缓存在用户对象上。
func (s *AuthService) SockKeyFor(u *domain.User) string {
	if key := u.SockKey(); key != "" {
		return key
	}
	sum := sha256.Sum256(append([]byte(u.ID), s.sockKeySalt...))
	key := hex.EncodeToString(sum[:])
	u.CacheSockKey(key)
	return key
}

// ValidateSockKey 校验 socket auth 命令携带的 (id, key) 对。
// 比较使用常数时间，避免按字节泄露密钥前缀。
func (s *AuthService) ValidateSockKey(id, key string) (*domain.User, error) {
	if id == "" || key == "" {
		return nil, ErrAuthenticationFailed
	}
	s.registry.Lock()
	user := s.registry.UserByID(id)
	s.registry.Unlock()
	if user == nil {
		logrus.WithField("user_id", id).Warn("Socket auth failed: unknown user")
		return nil, ErrAuthenticationFailed
	}
	expected := s.SockKeyFor(user)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(key)) != 1 {
		logrus.WithField("user_id", id).Warn("Socket auth failed: key mismatch")
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// LoginProfile 处理外部身份提供方登录完成后的档案落地：
// 创建或更新用户、按配置提升超级用户，并签发 HTTP 接口用的 JWT。
func (s *AuthService) LoginProfile(ctx context.Context, profile Profile) (*domain.User, string, error) {
	logCtx := logrus.WithField("user_id", profile.ID)
	if profile.ID == "" {
		return nil, "", ErrInvalidInput
	}

	s.registry.Lock()
	user := s.registry.UserByID(profile.ID)
	if user == nil {
		user = &domain.User{ID: profile.ID}
		s.registry.PutUser(user)
	}
	user.DisplayName = profile.DisplayName
	user.Emails = profile.Emails
	user.Picture = profile.Picture
	user.Link = profile.Link
	for _, email := range s.adminEmails {
		if user.HasEmail(email) {
			user.Superuser = true
			break
		}
	}
	s.registry.Unlock()

	if err := s.userRepo.Save(ctx, user); err != nil {
		logCtx.WithError(err).Error("Database error while saving user profile")
		return nil, "", ErrInternalServer
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token during login")
		return nil, "", ErrInternalServer
	}

	logCtx.Info("User logged in successfully")
	return user, token, nil
}

// GrantPerm 授予或撤销一个用户权限并落库。仅超级用户可用。
func (s *AuthService) GrantPerm(ctx context.Context, actor *domain.User, userID, perm string, value bool) error {
	if !actor.IsSuperuser() {
		return ErrPermissionDenied
	}
	valid := false
	for _, k := range domain.PermissionKeys {
		if k == perm {
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidInput
	}

	s.registry.Lock()
	user := s.registry.UserByID(userID)
	if user != nil {
		user.SetPerm(perm, value)
	}
	s.registry.Unlock()
	if user == nil {
		return ErrUserNotFound
	}

	if err := s.userRepo.Save(ctx, user); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Database error while saving user perms")
		return ErrInternalServer
	}
	return nil
}

// UserFromToken 解析 JWT 并返回对应的用户。
func (s *AuthService) UserFromToken(tokenString string) (*domain.User, error) {
	userID, err := s.parseToken(tokenString)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	s.registry.Lock()
	user := s.registry.UserByID(userID)
	s.registry.Unlock()
	if user == nil {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// --- 私有辅助函数 ---

// generateJWT 为指定用户 ID 生成 JWT Token
func (s *AuthService) generateJWT(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.jwtExpiry).Unix(),
		"iat":     time.Now().Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// parseToken 校验 JWT 签名并取出 user_id claim
func (s *AuthService) parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", errors.New("token missing user_id claim")
	}
	return userID, nil
}
