package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/users"
)

type stubResolver struct {
	profiles []users.Profile
	err      error
}

func (s *stubResolver) Resolve(_ context.Context, profile users.Profile) (users.Resolved, error) {
	s.profiles = append(s.profiles, profile)
	if s.err != nil {
		return users.Resolved{}, s.err
	}
	return users.Resolved{UserID: profile.UserID, DisplayName: "Resolved " + profile.DisplayName}, nil
}

func TestAuthenticatorResolvesIdentity(t *testing.T) {
	now := time.Now()
	validator := newTestValidator(t, func() time.Time { return now })
	resolver := &stubResolver{}
	authenticator, err := NewAuthenticator(validator, resolver, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	identity, err := authenticator.ResolveIdentity(context.Background(), signTestClaims(t, validClaims(now), testSessionSigningSecret))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if identity.UserID != testSessionUserID || identity.DisplayName != "Resolved Example User" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(resolver.profiles) != 1 || resolver.profiles[0].Email != "user@example.com" {
		t.Fatalf("unexpected resolver calls %+v", resolver.profiles)
	}
}

func TestAuthenticatorRejectsInvalidCredential(t *testing.T) {
	resolver := &stubResolver{}
	authenticator, err := NewAuthenticator(newTestValidator(t, nil), resolver, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if _, err := authenticator.ResolveIdentity(context.Background(), "bogus"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if len(resolver.profiles) != 0 {
		t.Fatalf("resolver must not run for rejected credentials")
	}
}

func TestAuthenticatorPropagatesResolverFailure(t *testing.T) {
	now := time.Now()
	resolverErr := errors.New("resolver down")
	authenticator, err := NewAuthenticator(newTestValidator(t, func() time.Time { return now }), &stubResolver{err: resolverErr}, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if _, err := authenticator.ResolveIdentity(context.Background(), signTestClaims(t, validClaims(now), testSessionSigningSecret)); !errors.Is(err, resolverErr) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestNewAuthenticatorRequiresDependencies(t *testing.T) {
	if _, err := NewAuthenticator(nil, &stubResolver{}, nil); !errors.Is(err, errMissingDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
