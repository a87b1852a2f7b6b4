package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"club_chat/internal/config"
	"club_chat/internal/domain"
	"club_chat/internal/repository"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/jwt"
	"club_chat/pkg/logger"
)

// AuthService - Authentication Resolver: токен из запроса -> пользователь.
// Ошибки: ErrNoToken, ErrTokenExpired, ErrInvalidToken, ErrUserNotFound.
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*domain.User, error)
	Authenticate(ctx context.Context, r *http.Request) (*domain.User, error)
	IssueToken(userID int64) (string, error)
}

type authService struct {
	userRepo repository.UserRepository
	jwtCfg   config.JWTConfig
	log      logger.Logger
}

func NewAuthService(userRepo repository.UserRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		userRepo: userRepo,
		jwtCfg:   jwtCfg,
		log:      log,
	}
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.User, error) {
	if tokenString == "" {
		return nil, apperrors.ErrNoToken
	}

	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.Secret)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.ErrUserNotFound
	}

	return user, nil
}

// Authenticate берет токен из ?token= или из заголовка Authorization: Bearer
func (s *authService) Authenticate(ctx context.Context, r *http.Request) (*domain.User, error) {
	return s.ValidateToken(ctx, TokenFromRequest(r))
}

func (s *authService) IssueToken(userID int64) (string, error) {
	return jwt.GenerateAccessToken(userID, s.jwtCfg.Secret, s.jwtCfg.Issuer, s.jwtCfg.AccessTTL)
}

func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
