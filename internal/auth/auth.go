// Package auth registers users and issues the bearer tokens that identify them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// ValidationError reports the first invalid field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Token is a signed bearer token for UserID.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
}

var validate = validator.New()

var fieldMessages = map[string]string{
	"Email":           "Please enter a valid email",
	"Password":        "Password must be at least 6 characters",
	"ConfirmPassword": "Passwords do not match",
}

type Service struct {
	users  *UserStore
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewService(users *UserStore, secret string, ttl time.Duration, logger *zap.Logger) (*Service, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl, logger: logger, now: time.Now}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].StructField()
		msg, ok := fieldMessages[field]
		if !ok {
			msg = verrs[0].Error()
		}
		return &ValidationError{Field: field, Message: msg}
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a user and returns its id.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("signup", "invalid").Inc()
		return "", validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	user := User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			observability.AuthAttemptsTotal.WithLabelValues("signup", "conflict").Inc()
			return "", err
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	observability.AuthAttemptsTotal.WithLabelValues("signup", "success").Inc()
	observability.LoggerFromContext(ctx, s.logger).Info("user registered", zap.String("userId", user.ID))
	return user.ID, nil
}

// Login checks the credentials and issues a token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Token, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return Token{}, validationError(err)
	}

	user, ok, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return Token{}, err
	}
	if !ok || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		observability.AuthAttemptsTotal.WithLabelValues("login", "denied").Inc()
		return Token{}, ErrInvalidCredentials
	}

	token, err := s.issue(user.ID)
	if err != nil {
		return Token{}, err
	}
	observability.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	return token, nil
}

func (s *Service) issue(userID string) (Token, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt.Truncate(time.Second), UserID: userID}, nil
}

// Verify returns the user id a token was issued for.
func (s *Service) Verify(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
