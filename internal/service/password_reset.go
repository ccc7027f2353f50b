package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tours-auth/internal/repository"
)

// ForgotPassword genera un token de reset de un solo uso. Solo el hash
// sha256 se persiste; el valor en claro viaja en el enlace del correo.
// Si el envio falla se limpia el estado: no debe quedar un reset colgado
// que el usuario nunca recibio.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr, resetBaseURL string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrUserNotFound
	}
	if s.limiter != nil && !s.limiter.Allow("reset:"+emailAddr) {
		return ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	token, tokenHash, err := generateResetToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTTL)
	if err := s.users.SetPasswordReset(ctx, user.ID, tokenHash, expires); err != nil {
		return err
	}

	resetURL := resetBaseURL + "/" + token
	if err := s.emailSender.SendPasswordReset(ctx, user, resetURL); err != nil {
		if s.logger != nil {
			s.logger.Warn("send password reset failed", zap.Error(err), zap.String("email", emailAddr))
		}
		if clearErr := s.users.ClearPasswordReset(ctx, user.ID); clearErr != nil && s.logger != nil {
			s.logger.Error("password reset rollback failed", zap.Error(clearErr), zap.String("user_id", user.ID))
		}
		return ErrNotificationFailure
	}
	return nil
}

// ResetPassword consume el token de reset y emite una sesion nueva.
// Consumir limpia hash y expiracion: un segundo intento con el mismo
// token no encuentra usuario.
func (s *AuthService) ResetPassword(ctx context.Context, token, password, passwordConfirm string) (Session, error) {
	if password == "" || password != passwordConfirm {
		return Session{}, ErrPasswordMismatch
	}
	tokenHash := hashResetToken(token)
	user, err := s.users.GetByResetToken(ctx, tokenHash, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrResetTokenInvalid
		}
		return Session{}, err
	}

	if err := s.setPassword(ctx, user.ID, password); err != nil {
		return Session{}, err
	}
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil
	return s.issueSession(ctx, user)
}

// UpdatePassword cambia el password de un usuario autenticado y emite
// una sesion nueva. Requiere el password vigente.
func (s *AuthService) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword, newPasswordConfirm string) (Session, error) {
	if newPassword == "" || newPassword != newPasswordConfirm {
		return Session{}, ErrPasswordMismatch
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrUserNotFound
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *AuthService) setPassword(ctx context.Context, userID, password string) error {
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	// Un segundo hacia atras evita rechazar el token de la sesion que se
	// emite inmediatamente despues del cambio.
	changedAt := s.now().Add(-time.Second)
	return s.users.UpdatePassword(ctx, userID, string(hashBytes), changedAt)
}

func generateResetToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(raw)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
