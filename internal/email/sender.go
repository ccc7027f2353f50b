package email

import (
	"context"
	"errors"

	"tours-auth/internal/domain"
)

// Sender define la interfaz para correos transaccionales de la plataforma.
type Sender interface {
	SendWelcome(ctx context.Context, user domain.User, verifyURL string) error
	SendPasswordReset(ctx context.Context, user domain.User, resetURL string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendWelcome(_ context.Context, _ domain.User, _ string) error {
	return s.err()
}

func (s *disabledSender) SendPasswordReset(_ context.Context, _ domain.User, _ string) error {
	return s.err()
}

func (s *disabledSender) err() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
