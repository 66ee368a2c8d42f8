package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/notecompanion/server/internal/shared/metrics"
)

// Service provides account, session, and API key operations.
type Service struct {
	users   UserRepository
	tokens  RefreshTokenRepository
	keys    APIKeyRepository
	jwt     *JWTManager
	google  *GoogleProvider
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a new auth service. google may be nil when OAuth
// sign-in is not configured.
func NewService(
	users UserRepository,
	tokens RefreshTokenRepository,
	keys APIKeyRepository,
	jwtManager *JWTManager,
	google *GoogleProvider,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		keys:    keys,
		jwt:     jwtManager,
		google:  google,
		metrics: m,
		logger:  logger,
	}
}

// Register creates an email/password account and issues a token pair.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, *TokenPair, error) {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, nil, ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		Email:        req.Email,
		Name:         req.Name,
		Provider:     AuthProviderPassword,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.recordAuthEvent("register", AuthProviderPassword)
	return user, pair, nil
}

// Login authenticates an email/password account.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*User, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.recordAuthEvent("login_failed", AuthProviderPassword)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.recordAuthEvent("login_failed", AuthProviderPassword)
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.recordAuthEvent("login_success", AuthProviderPassword)
	return user, pair, nil
}

// GoogleAuthURL returns the Google consent URL for the given state.
func (s *Service) GoogleAuthURL(state string) (string, error) {
	if s.google == nil {
		return "", ErrOAuthFailed
	}
	return s.google.AuthURL(state), nil
}

// GoogleCallback completes Google sign-in: exchanges the code, finds or
// creates the account, and issues a token pair.
func (s *Service) GoogleCallback(ctx context.Context, code string) (*User, *TokenPair, error) {
	if s.google == nil {
		return nil, nil, ErrOAuthFailed
	}

	token, err := s.google.Exchange(ctx, code)
	if err != nil {
		s.recordAuthEvent("login_failed", AuthProviderGoogle)
		return nil, nil, fmt.Errorf("%w: %v", ErrOAuthFailed, err)
	}

	info, err := s.google.UserInfo(ctx, token)
	if err != nil {
		s.recordAuthEvent("login_failed", AuthProviderGoogle)
		return nil, nil, err
	}

	user, err := s.users.GetByOAuth(ctx, AuthProviderGoogle, info.ID)
	if errors.Is(err, ErrUserNotFound) {
		user = &User{
			Email:     info.Email,
			Name:      info.Name,
			AvatarURL: info.AvatarURL,
			Provider:  AuthProviderGoogle,
			OAuthID:   info.ID,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, nil, err
		}
	} else if err != nil {
		return nil, nil, err
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.recordAuthEvent("login_success", AuthProviderGoogle)
	return user, pair, nil
}

// Refresh rotates a refresh token into a fresh token pair.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	stored, err := s.tokens.GetByHash(ctx, s.jwt.HashRefreshToken(rawToken))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !stored.IsValid() {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Revoke(ctx, stored.ID); err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, user)
}

// ResolveSession validates an access token and returns the user ID.
func (s *Service) ResolveSession(tokenString string) (string, error) {
	claims, err := s.jwt.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.UserID == uuid.Nil {
		return "", ErrInvalidTokenClaims
	}
	return claims.UserID.String(), nil
}

// ResolveAPIKey looks up a key by its hash in the local table. Used as
// the fallback when the external verifier cannot answer.
func (s *Service) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	if !IsValidAPIKeyFormat(key) {
		return "", ErrInvalidAPIKey
	}

	stored, err := s.keys.GetByHash(ctx, HashAPIKey(key))
	if err != nil {
		return "", err
	}

	// Best effort, the lookup result matters more than the timestamp.
	if err := s.keys.UpdateLastUsed(ctx, stored.ID); err != nil {
		s.logger.Warn("update key last used", zap.Error(err))
	}

	return stored.UserID.String(), nil
}

// CreateKey issues a new API key for the user. The full key is only
// present in the returned response.
func (s *Service) CreateKey(ctx context.Context, userID uuid.UUID, req *CreateKeyRequest) (*CreateKeyResponse, error) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	record := &APIKey{
		UserID:    userID,
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		IsActive:  true,
	}
	if err := s.keys.Create(ctx, record); err != nil {
		return nil, err
	}

	s.recordAuthEvent("key_created", AuthProviderPassword)
	return &CreateKeyResponse{
		KeyResponse: record.ToResponse(),
		Key:         key,
	}, nil
}

// ListKeys returns the user's API keys without the key material.
func (s *Service) ListKeys(ctx context.Context, userID uuid.UUID) ([]*KeyResponse, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*KeyResponse, len(keys))
	for i, k := range keys {
		responses[i] = k.ToResponse()
	}
	return responses, nil
}

// RevokeKey deactivates one of the user's API keys.
func (s *Service) RevokeKey(ctx context.Context, userID, keyID uuid.UUID) error {
	if err := s.keys.Revoke(ctx, userID, keyID); err != nil {
		return err
	}
	s.recordAuthEvent("key_revoked", AuthProviderPassword)
	return nil
}

func (s *Service) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	accessToken, expiresAt, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, refreshExpiry, err := s.jwt.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Create(ctx, &RefreshToken{
		UserID:    user.ID,
		TokenHash: refreshHash,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.jwt.GetAccessTokenExpiry().Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) recordAuthEvent(event string, provider AuthProvider) {
	if s.metrics != nil {
		s.metrics.RecordAuthEvent(event, provider.String())
	}
}
