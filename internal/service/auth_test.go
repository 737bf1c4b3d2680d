package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drewww/unhangout/internal/domain"
	"github.com/drewww/unhangout/internal/repository/mocks"
	"github.com/drewww/unhangout/internal/service"
)

func newAuthService(t *testing.T, reg *domain.Registry, userRepo *mocks.UserRepository) *service.AuthService {
	t.Helper()
	authService, err := service.NewAuthService(reg, userRepo, "test-salt", "test-secret", 1, []string{"boss@example.com"})
	require.NoError(t, err, "创建 AuthService 不应失败")
	return authService
}

func TestAuthService_SockKey(t *testing.T) {
	// Arrange
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)

	user := &domain.User{ID: "u1"}
	reg.Lock()
	reg.PutUser(user)
	reg.Unlock()

	// Act
	key := authService.SockKeyFor(user)

	// Assert: 密钥是确定性派生的，且被缓存
	assert.Len(t, key, 64, "sha256 十六进制应为 64 字符")
	assert.Equal(t, key, authService.SockKeyFor(user))
	assert.Equal(t, key, user.SockKey())

	// 校验成功
	got, err := authService.ValidateSockKey("u1", key)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestAuthService_ValidateSockKey_Failures(t *testing.T) {
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)

	user := &domain.User{ID: "u1"}
	reg.Lock()
	reg.PutUser(user)
	reg.Unlock()
	key := authService.SockKeyFor(user)

	// 未知用户
	_, err := authService.ValidateSockKey("ghost", key)
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)

	// 错误密钥
	_, err = authService.ValidateSockKey("u1", "deadbeef")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)

	// 空参数
	_, err = authService.ValidateSockKey("", "")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
}

func TestAuthService_LoginProfile_CreatesUser(t *testing.T) {
	// Arrange
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)
	ctx := context.Background()

	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.ID == "g-123" && u.DisplayName == "Alice"
	})).Return(nil).Once()

	// Act
	user, token, err := authService.LoginProfile(ctx, service.Profile{
		ID:          "g-123",
		DisplayName: "Alice",
		Emails:      []string{"alice@example.com"},
		Picture:     "p.png",
	})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.False(t, user.Superuser)

	// 签发的 token 能解析回同一个用户
	resolved, err := authService.UserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, resolved)

	// Verify
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_LoginProfile_PromotesConfiguredAdmin(t *testing.T) {
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)
	ctx := context.Background()

	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).Return(nil).Once()

	user, _, err := authService.LoginProfile(ctx, service.Profile{
		ID:     "g-9",
		Emails: []string{"boss@example.com"},
	})
	require.NoError(t, err)
	assert.True(t, user.Superuser, "配置的管理员邮箱登录时应被提升为超级用户")
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_LoginProfile_UpdatesExistingUser(t *testing.T) {
	reg := domain.NewRegistry()
	existing := &domain.User{ID: "g-1", DisplayName: "Old Name"}
	reg.Lock()
	reg.PutUser(existing)
	reg.Unlock()

	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)
	ctx := context.Background()

	mockUserRepo.On("Save", ctx, existing).Return(nil).Once()

	user, _, err := authService.LoginProfile(ctx, service.Profile{ID: "g-1", DisplayName: "New Name"})
	require.NoError(t, err)
	assert.Same(t, existing, user, "已有用户被就地更新而不是替换")
	assert.Equal(t, "New Name", user.DisplayName)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_LoginProfile_EmptyID(t *testing.T) {
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)

	_, _, err := authService.LoginProfile(context.Background(), service.Profile{})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAuthService_GrantPerm(t *testing.T) {
	reg := domain.NewRegistry()
	target := &domain.User{ID: "u2"}
	reg.Lock()
	reg.PutUser(target)
	reg.Unlock()

	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)
	ctx := context.Background()
	super := &domain.User{ID: "u1", Superuser: true}
	regular := &domain.User{ID: "u3"}

	// 非超级用户被拒绝
	err := authService.GrantPerm(ctx, regular, "u2", domain.PermFarmHangouts, true)
	assert.ErrorIs(t, err, service.ErrPermissionDenied)

	// 未知权限 key 被拒绝
	err = authService.GrantPerm(ctx, super, "u2", "launchMissiles", true)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	// 未知用户
	err = authService.GrantPerm(ctx, super, "ghost", domain.PermFarmHangouts, true)
	assert.ErrorIs(t, err, service.ErrUserNotFound)

	// 成功授予并落库
	mockUserRepo.On("Save", ctx, target).Return(nil).Once()
	err = authService.GrantPerm(ctx, super, "u2", domain.PermFarmHangouts, true)
	require.NoError(t, err)
	assert.True(t, target.HasPerm(domain.PermFarmHangouts))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_UserFromToken_Invalid(t *testing.T) {
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)
	authService := newAuthService(t, reg, mockUserRepo)

	_, err := authService.UserFromToken("not-a-token")
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
}

func TestNewAuthService_RequiresSecrets(t *testing.T) {
	reg := domain.NewRegistry()
	mockUserRepo := new(mocks.UserRepository)

	_, err := service.NewAuthService(reg, mockUserRepo, "", "secret", 1, nil)
	assert.Error(t, err, "空 salt 应被拒绝")

	_, err = service.NewAuthService(reg, mockUserRepo, "salt", "", 1, nil)
	assert.Error(t, err, "空 JWT secret 应被拒绝")
}
