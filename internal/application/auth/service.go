// Package auth is the thin password/JWT surface in front of the biometric
// flows: account creation and login. Voice verification is handled elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/pkg/id"
	"github.com/voiceid-api/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Bearer string       `json:"bearer"`
	User   *domain.User `json:"user"`
}

type UserStore interface {
	Put(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type JWTSigner interface {
	Sign(userID, role, sessionID string) (string, error)
}

type AuditSink interface {
	LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string)
}

type Service interface {
	Register(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
}

type ServiceDeps struct {
	Users UserStore
	JWT   JWTSigner
	Audit AuditSink
}

type service struct {
	users UserStore
	jwt   JWTSigner
	audit AuditSink
}

func NewService(deps ServiceDeps) Service {
	return &service{users: deps.Users, jwt: deps.JWT, audit: deps.Audit}
}

func (s *service) Register(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Username:     req.Username,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		Enable:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(ctx, u); err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.UserID, "user.register", "user", u.UserID, true, nil)
	return u, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Indistinguishable from a wrong password on purpose.
			return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !u.Enable {
		return nil, fmt.Errorf("account disabled: %w", domain.ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		s.audit.LogEvent(ctx, u.UserID, "user.login", "user", u.UserID, false, nil)
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}

	bearer, err := s.jwt.Sign(u.UserID, u.Role, id.New())
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.UserID, "user.login", "user", u.UserID, true, nil)
	return &LoginResult{Bearer: bearer, User: u}, nil
}
