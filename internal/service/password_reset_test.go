package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestForgotPassword_StoresHashAndEmailsToken(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc, _ := newTestAuthService(repo, sender)
	user := seedUser(t, repo, "a@b.com", "Secret123", false)

	if err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost/api/v1/users/resetPassword"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if len(sender.resetURLs) != 1 {
		t.Fatalf("expected one reset email, got %d", len(sender.resetURLs))
	}

	parts := strings.Split(sender.resetURLs[0], "/")
	token := parts[len(parts)-1]

	stored, _ := repo.GetByID(context.Background(), user.ID)
	if stored.PasswordResetToken == "" || stored.PasswordResetExpires == nil {
		t.Fatalf("reset fields not stored together: %+v", stored)
	}
	// En la base solo vive el hash, nunca el token en claro.
	if stored.PasswordResetToken == token {
		t.Fatalf("reset token stored in cleartext")
	}
	if stored.PasswordResetToken != hashResetToken(token) {
		t.Fatalf("stored hash does not match emailed token")
	}
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestAuthService(repo, &mockSender{})

	err := svc.ForgotPassword(context.Background(), "nobody@b.com", "http://localhost")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestForgotPassword_RollsBackOnSendFailure(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{failNext: true}
	svc, _ := newTestAuthService(repo, sender)
	user := seedUser(t, repo, "a@b.com", "Secret123", false)

	err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost")
	if !errors.Is(err, ErrNotificationFailure) {
		t.Fatalf("expected ErrNotificationFailure, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), user.ID)
	if stored.PasswordResetToken != "" || stored.PasswordResetExpires != nil {
		t.Fatalf("reset state left dangling after send failure: %+v", stored)
	}
}

func TestResetPassword_ConsumesTokenAndIssuesSession(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc, tokens := newTestAuthService(repo, sender)
	user := seedUser(t, repo, "a@b.com", "Secret123", false)

	if err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost/api/v1/users/resetPassword"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	parts := strings.Split(sender.resetURLs[0], "/")
	token := parts[len(parts)-1]

	session, err := svc.ResetPassword(context.Background(), token, "NewSecret456", "NewSecret456")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	claims, err := tokens.ParseAccess(session.AccessToken)
	if err != nil || claims.UserID != user.ID {
		t.Fatalf("session token does not resolve to user: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), user.ID)
	if stored.PasswordResetToken != "" || stored.PasswordResetExpires != nil {
		t.Fatalf("reset fields not cleared on consume")
	}
	if stored.PasswordChangedAt == nil {
		t.Fatalf("password change timestamp not recorded")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("NewSecret456")); err != nil {
		t.Fatalf("new password not persisted: %v", err)
	}

	// Segundo intento con el mismo token debe fallar: un solo uso.
	if _, err := svc.ResetPassword(context.Background(), token, "Another789", "Another789"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid on reuse, got %v", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	repo := newMockUserRepo()
	sender := &mockSender{}
	svc, _ := newTestAuthService(repo, sender)
	seedUser(t, repo, "a@b.com", "Secret123", false)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base }
	if err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost/api/v1/users/resetPassword"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	parts := strings.Split(sender.resetURLs[0], "/")
	token := parts[len(parts)-1]

	// Avanza el reloj mas alla de la ventana de reset.
	svc.now = func() time.Time { return base.Add(defaultResetTTL + time.Minute) }
	if _, err := svc.ResetPassword(context.Background(), token, "NewSecret456", "NewSecret456"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid for expired token, got %v", err)
	}
}

func TestResetPassword_MismatchedConfirmation(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestAuthService(repo, &mockSender{})

	if _, err := svc.ResetPassword(context.Background(), "whatever", "one", "two"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestUpdatePassword_RequiresCurrentPassword(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestAuthService(repo, &mockSender{})
	user := seedUser(t, repo, "a@b.com", "Secret123", false)

	if _, err := svc.UpdatePassword(context.Background(), user.ID, "wrong", "NewSecret456", "NewSecret456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	session, err := svc.UpdatePassword(context.Background(), user.ID, "Secret123", "NewSecret456", "NewSecret456")
	if err != nil {
		t.Fatalf("update password: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("expected fresh session after password change")
	}

	stored, _ := repo.GetByID(context.Background(), user.ID)
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("NewSecret456")); err != nil {
		t.Fatalf("password not updated: %v", err)
	}
}

func TestForgotPassword_RateLimited(t *testing.T) {
	repo := newMockUserRepo()
	tokens := NewTokenService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	sender := &mockSender{}
	svc := NewAuthService(nil, repo, tokens, sender, NewAttemptLimiter(time.Minute, 1))
	seedUser(t, repo, "a@b.com", "Secret123", false)

	if err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := svc.ForgotPassword(context.Background(), "a@b.com", "http://localhost"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
