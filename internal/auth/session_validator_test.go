package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "session-secret"
	testSessionIssuer        = "inkwell-auth"
	testSessionCookieName    = "app_session_id"
	testSessionUserID        = "user-123"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestClaims(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(now time.Time) SessionClaims {
	return SessionClaims{
		UserID:          testSessionUserID,
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	testCases := []struct {
		name   string
		config SessionValidatorConfig
		want   error
	}{
		{name: "secret", config: SessionValidatorConfig{Issuer: "i", CookieName: "c"}, want: ErrMissingSessionSigningKey},
		{name: "issuer", config: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}, want: ErrMissingSessionIssuer},
		{name: "cookie", config: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}, want: ErrMissingSessionCookieName},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewSessionValidator(testCase.config); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorAcceptsValidToken(t *testing.T) {
	now := time.Now()
	validator := newTestValidator(t, func() time.Time { return now })

	claims, err := validator.ValidateToken(signTestClaims(t, validClaims(now), testSessionSigningSecret))
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.UserDisplayName != "Example User" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	now := time.Now()
	validator := newTestValidator(t, func() time.Time { return now })

	expired := validClaims(now)
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Second))

	foreignIssuer := validClaims(now)
	foreignIssuer.Issuer = "someone-else"

	anonymous := validClaims(now)
	anonymous.Subject = ""
	anonymous.UserID = ""

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "  ", want: ErrMissingSessionToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidSessionToken},
		{name: "wrong secret", token: signTestClaims(t, validClaims(now), "other-secret"), want: ErrInvalidSessionToken},
		{name: "expired", token: signTestClaims(t, expired, testSessionSigningSecret), want: ErrExpiredSessionToken},
		{name: "issuer", token: signTestClaims(t, foreignIssuer, testSessionSigningSecret), want: ErrInvalidSessionToken},
		{name: "subject", token: signTestClaims(t, anonymous, testSessionSigningSecret), want: ErrMissingSessionSubject},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestSessionValidatorRequestCredentialPrefersCookie(t *testing.T) {
	validator := newTestValidator(t, nil)

	request := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	request.Header.Set("Authorization", "Bearer header-token")
	if got := validator.RequestCredential(request); got != "header-token" {
		t.Fatalf("expected bearer fallback, got %q", got)
	}

	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "cookie-token"})
	if got := validator.RequestCredential(request); got != "cookie-token" {
		t.Fatalf("expected cookie to win, got %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	bare.Header.Set("Authorization", "Basic abc")
	if got := validator.RequestCredential(bare); got != "" {
		t.Fatalf("expected no credential, got %q", got)
	}
}

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresAt, err := issuer.Issue(testSessionUserID, "Example User", "user@example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := newTestValidator(t, clock).ValidateToken(token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if claims.Subject != testSessionUserID || claims.UserEmail != "user@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, _, err := issuer.Issue(" ", "", ""); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected subject error, got %v", err)
	}
}
