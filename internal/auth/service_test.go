package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/record"
)

func newTestService(t *testing.T) (*Service, record.Store) {
	t.Helper()
	store := record.NewMemoryStore()
	svc, err := NewService(store, Config{Secret: "test-secret", Issuer: "settleflow"})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestSignupSigninRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, "Alice", "s3cret")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("username = %q, want lowercased", user.Username)
	}
	if strings.Contains(user.PasswordHash, "s3cret") {
		t.Fatal("password stored in clear")
	}

	cred, err := svc.Signin(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Signin: %v", err)
	}
	if cred.AccessToken == "" || cred.TokenType != "Bearer" {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	actorID, err := svc.VerifyAuthorization(ctx, "Bearer "+cred.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAuthorization: %v", err)
	}
	if actorID != user.ID {
		t.Fatalf("actor = %q, want %q", actorID, user.ID)
	}
}

func TestSigninRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "bob", "right"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := svc.Signin(ctx, "bob", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Signin = %v, want ErrInvalidCredentials", err)
	}
	// 未注册的用户名得到同样的错误，不泄露账户是否存在。
	if _, err := svc.Signin(ctx, "nobody", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Signin unknown user = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "carol", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	_, err := svc.Signup(ctx, "Carol", "pw2")
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("duplicate signup code = %v, want CONFLICT", xerrors.CodeOf(err))
	}
}

func TestVerifyAuthorizationRejectsTampering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "dave", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	cred, err := svc.Signin(ctx, "dave", "pw")
	if err != nil {
		t.Fatalf("Signin: %v", err)
	}

	if _, err := svc.VerifyAuthorization(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty header = %v, want ErrMissingToken", err)
	}
	tampered := cred.AccessToken + "x"
	if _, err := svc.VerifyAuthorization(ctx, "Bearer "+tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token = %v, want ErrInvalidToken", err)
	}

	other, err := NewService(record.NewMemoryStore(), Config{Secret: "other-secret"})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.VerifyAuthorization(ctx, "Bearer "+cred.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret = %v, want ErrInvalidToken", err)
	}
}
