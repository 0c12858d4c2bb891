package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kjstillabower/weather-lookup-service/internal/boltdb"
)

const testSecret = "0123456789abcdef0123"

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "auth.db"), time.Second)
	if err != nil {
		t.Fatalf("boltdb.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users, err := NewUserStore(db)
	if err != nil {
		t.Fatalf("NewUserStore() error = %v", err)
	}
	svc, err := NewService(users, testSecret, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewService_ShortSecret(t *testing.T) {
	if _, err := NewService(nil, "short", time.Hour, nil); err == nil {
		t.Fatal("NewService() with short secret expected error")
	}
}

// TestSignUp_Validation verifies each invalid field yields its user-facing message.
func TestSignUp_Validation(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		name      string
		req       SignUpRequest
		wantField string
		wantMsg   string
	}{
		{"empty email", SignUpRequest{Password: "secret1", ConfirmPassword: "secret1"}, "Email", "Please enter a valid email"},
		{"bad email", SignUpRequest{Email: "nope", Password: "secret1", ConfirmPassword: "secret1"}, "Email", "Please enter a valid email"},
		{"short password", SignUpRequest{Email: "a@b.co", Password: "12345", ConfirmPassword: "12345"}, "Password", "Password must be at least 6 characters"},
		{"mismatch", SignUpRequest{Email: "a@b.co", Password: "secret1", ConfirmPassword: "secret2"}, "ConfirmPassword", "Passwords do not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SignUp() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField || verr.Message != tt.wantMsg {
				t.Errorf("ValidationError = %+v, want %s/%q", verr, tt.wantField, tt.wantMsg)
			}
		})
	}
}

// TestSignUpLoginVerify walks the full account flow, including a duplicate email.
func TestSignUpLoginVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	userID, err := svc.SignUp(ctx, SignUpRequest{Email: " Ada@Example.com ", Password: "secret1", ConfirmPassword: "secret1"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if userID == "" {
		t.Fatal("SignUp() returned empty user id")
	}

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "ada@example.com", Password: "other12", ConfirmPassword: "other12"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate SignUp() error = %v, want ErrEmailTaken", err)
	}

	if _, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "wrong12"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() unknown user error = %v, want ErrInvalidCredentials", err)
	}

	token, err := svc.Login(ctx, LoginRequest{Email: "ADA@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token.UserID != userID || token.Value == "" {
		t.Errorf("token = %+v, want user %s", token, userID)
	}

	got, err := svc.Verify(token.Value)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != userID {
		t.Errorf("Verify() = %q, want %q", got, userID)
	}
}

// TestVerify_Rejects covers expiry, a foreign signature and a non-HMAC algorithm.
func TestVerify_Rejects(t *testing.T) {
	svc := newTestService(t)

	expired := *svc
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.issue("user-1")
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}

	foreign := *svc
	foreign.secret = []byte("another-secret-of-length")
	forged, _ := foreign.issue("user-1")

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":  old.Value,
		"forged":   forged.Value,
		"none alg": unsigned,
		"garbage":  "not-a-token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
