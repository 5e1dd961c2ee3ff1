package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"compass/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	getUserByEmailFn         func(context.Context, string) (store.User, error)
	insertUserWithPasswordFn func(context.Context, string, string, string) (store.User, error)
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) InsertUserWithPassword(ctx context.Context, displayName, email, passwordHash string) (store.User, error) {
	if f.insertUserWithPasswordFn != nil {
		return f.insertUserWithPasswordFn(ctx, displayName, email, passwordHash)
	}
	return store.User{ID: "u1", DisplayName: displayName, Email: email, PasswordHash: passwordHash, Role: "specialist"}, nil
}

func TestSignUpHashesPassword(t *testing.T) {
	var storedHash string
	f := &fakeUserStore{
		insertUserWithPasswordFn: func(_ context.Context, displayName, email, passwordHash string) (store.User, error) {
			storedHash = passwordHash
			return store.User{ID: "u1", DisplayName: displayName, Email: email, PasswordHash: passwordHash}, nil
		},
	}
	service := NewService(f)

	user, err := service.SignUp(context.Background(), "Avery", "avery@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("unexpected user: %+v", user)
	}
	if storedHash == "correct horse" || storedHash == "" {
		t.Error("password must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte("correct horse")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	service := NewService(&fakeUserStore{})
	if _, err := service.SignUp(context.Background(), "Avery", "a@example.com", "short"); err == nil {
		t.Error("expected error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	f := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "u1"}, nil
		},
	}
	service := NewService(f)
	if _, err := service.SignUp(context.Background(), "Avery", "a@example.com", "long enough"); err == nil {
		t.Error("expected error for already-registered email")
	}
}

func TestSignInSuccess(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	f := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "u1", Email: "a@example.com", PasswordHash: string(hash)}, nil
		},
	}
	service := NewService(f)

	user, err := service.SignIn(context.Background(), "a@example.com", "correct horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	f := &fakeUserStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "u1", PasswordHash: string(hash)}, nil
		},
	}
	service := NewService(f)

	if _, err := service.SignIn(context.Background(), "a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInUnknownEmailSameError(t *testing.T) {
	service := NewService(&fakeUserStore{})
	if _, err := service.SignIn(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email must yield the same error as a bad password, got %v", err)
	}
}
