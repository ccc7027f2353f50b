package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tours-auth/internal/domain"
	"tours-auth/internal/email"
	"tours-auth/internal/repository"
)

// AuthService coordina credenciales, sesiones y los flujos de recuperacion.
type AuthService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	tokens      *TokenService
	emailSender email.Sender
	limiter     AttemptLimiter
	resetTTL    time.Duration
	totpIssuer  string
	now         func() time.Time
}

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled  = errors.New("two-factor not enabled")
	ErrTokenMismatch        = errors.New("refresh token mismatch")
	ErrMissingToken         = errors.New("missing token")
	ErrUserNotFound         = errors.New("user not found")
	ErrResetTokenInvalid    = errors.New("reset token invalid or expired")
	ErrNotificationFailure  = errors.New("notification delivery failed")
	ErrPasswordMismatch     = errors.New("password confirmation mismatch")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidRole          = errors.New("invalid role")
	ErrRateLimited          = errors.New("rate limited")
)

const (
	defaultResetTTL = 10 * time.Minute
	totpPeriod      = 30
	// Una ventana de paso en cada direccion tolera deriva de reloj.
	totpSkew = 1
)

func NewAuthService(logger *zap.Logger, users repository.UserRepository, tokens *TokenService, emailSender email.Sender, limiter AttemptLimiter) *AuthService {
	if limiter == nil {
		limiter = NewAttemptLimiter(defaultResetTTL, 3)
	}
	return &AuthService{
		logger:      logger,
		users:       users,
		tokens:      tokens,
		emailSender: emailSender,
		limiter:     limiter,
		resetTTL:    defaultResetTTL,
		totpIssuer:  "tours-auth",
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetResetTTL ajusta la ventana de los tokens de reset.
func (s *AuthService) SetResetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.resetTTL = ttl
	}
}

// Session es el resultado de una autenticacion completa.
type Session struct {
	User         domain.User
	AccessToken  string
	RefreshToken string
}

// LoginResult distingue entre sesion emitida y escalon 2FA pendiente.
type LoginResult struct {
	TwoFactorRequired bool
	UserID            string
	Session           Session
}

type SignupInput struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
	Role            domain.Role
}

// SignupResult incluye el secreto TOTP en base32, devuelto una sola vez
// para que el usuario lo registre en su app de autenticacion.
type SignupResult struct {
	Session          Session
	TwoFactorSecret  string
	VerificationSent bool
}

// Signup crea la cuenta, aprovisiona 2FA y emite la primera sesion.
// El correo de bienvenida lleva el enlace de verificacion; si el envio
// falla la cuenta queda creada igualmente con is_verified en falso.
func (s *AuthService) Signup(ctx context.Context, input SignupInput, verifyBaseURL string) (SignupResult, error) {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return SignupResult{}, ErrInvalidEmail
	}
	if input.Password == "" || input.Password != input.PasswordConfirm {
		return SignupResult{}, ErrPasswordMismatch
	}
	role := input.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return SignupResult{}, ErrInvalidRole
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return SignupResult{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: emailAddr,
		SecretSize:  20,
	})
	if err != nil {
		return SignupResult{}, err
	}

	user := domain.User{
		ID:                 uuid.NewString(),
		Name:               strings.TrimSpace(input.Name),
		Email:              emailAddr,
		Role:               role,
		PasswordHash:       string(hashBytes),
		IsVerified:         false,
		IsTwoFactorEnabled: true,
		TwoFactorSecret:    key.Secret(),
		CreatedAt:          s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return SignupResult{}, ErrEmailTaken
		}
		return SignupResult{}, err
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return SignupResult{}, err
	}

	result := SignupResult{
		Session:         session,
		TwoFactorSecret: user.TwoFactorSecret,
	}
	verifyURL := verifyBaseURL + "?token=" + session.AccessToken
	if err := s.emailSender.SendWelcome(ctx, user, verifyURL); err != nil {
		if s.logger != nil {
			s.logger.Warn("send welcome email failed", zap.Error(err), zap.String("email", emailAddr))
		}
	} else {
		result.VerificationSent = true
	}
	return result, nil
}

// Login valida credenciales. Email desconocido y password incorrecto se
// reportan identicos para no permitir enumeracion de cuentas.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.IsTwoFactorEnabled {
		return LoginResult{TwoFactorRequired: true, UserID: user.ID}, nil
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{UserID: user.ID, Session: session}, nil
}

// LoginStep2 verifica el codigo TOTP y recien entonces emite la sesion.
// Un codigo rechazado es terminal: no se emite sesion.
func (s *AuthService) LoginStep2(ctx context.Context, userID, code string) (Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrTwoFactorNotEnabled
		}
		return Session{}, err
	}
	if !user.IsTwoFactorEnabled || user.TwoFactorSecret == "" {
		return Session{}, ErrTwoFactorNotEnabled
	}
	if s.limiter != nil && !s.limiter.Allow("2fa:"+user.ID) {
		return Session{}, ErrRateLimited
	}

	ok, err := totp.ValidateCustom(strings.TrimSpace(code), user.TwoFactorSecret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return Session{}, ErrInvalidTwoFactorCode
	}

	return s.issueSession(ctx, user)
}

// Refresh rota el refresh token: el presentado debe coincidir con el
// almacenado y queda invalido en cuanto se persiste el nuevo.
func (s *AuthService) Refresh(ctx context.Context, presented string) (Session, error) {
	if strings.TrimSpace(presented) == "" {
		return Session{}, ErrMissingToken
	}
	claims, err := s.tokens.ParseRefresh(presented)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrTokenMismatch
		}
		return Session{}, err
	}
	if user.RefreshToken != presented {
		return Session{}, ErrTokenMismatch
	}

	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return Session{}, err
	}
	rotated, err := s.users.RotateRefreshToken(ctx, user.ID, presented, refresh)
	if err != nil {
		return Session{}, err
	}
	if !rotated {
		// Otra rotacion concurrente gano; el token presentado ya no vale.
		return Session{}, ErrTokenMismatch
	}
	user.RefreshToken = refresh
	return Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Logout invalida el refresh token almacenado. Es best-effort: si ningun
// usuario lo tiene registrado no es un error.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if strings.TrimSpace(presented) == "" {
		return nil
	}
	return s.users.ClearRefreshTokenByValue(ctx, presented)
}

// VerifyEmail redime el token del enlace de verificacion y marca la cuenta.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.IsVerified {
		return nil
	}
	return s.users.SetVerified(ctx, user.ID)
}

// EnableTwoFactor genera un secreto TOTP nuevo y lo activa. El secreto
// se devuelve una sola vez; re-aprovisionar invalida el anterior.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.totpIssuer,
		AccountName: user.Email,
		SecretSize:  20,
	})
	if err != nil {
		return "", err
	}
	if err := s.users.SetTwoFactor(ctx, user.ID, key.Secret()); err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// DisableTwoFactor limpia secreto y flag en conjunto.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.users.DisableTwoFactor(ctx, userID)
}

// ListUsers devuelve todos los usuarios; solo lo expone la ruta admin.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

// GetUser resuelve un usuario por id para el middleware de sesion.
func (s *AuthService) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (s *AuthService) issueSession(ctx context.Context, user domain.User) (Session, error) {
	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return Session{}, err
	}
	// Sobrescribe cualquier refresh token previo: una sola sesion viva
	// por usuario.
	if err := s.users.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		return Session{}, err
	}
	user.RefreshToken = refresh
	return Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
