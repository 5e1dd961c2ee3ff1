// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"compass/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	InsertUserWithPassword(ctx context.Context, displayName, email, passwordHash string) (store.User, error)
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

var ErrInvalidCredentials = errors.New("invalid email or password")

// SignUp creates an account. The caller decides the session to issue.
func (s *Service) SignUp(ctx context.Context, displayName, email, password string) (store.User, error) {
	if displayName == "" || email == "" || password == "" {
		return store.User{}, errors.New("display name, email, and password are required")
	}
	if len(password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.InsertUserWithPassword(ctx, displayName, email, string(hash))
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates by email and password. Lookup and comparison
// failures collapse into one error so callers cannot probe for accounts.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
