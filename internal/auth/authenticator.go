package auth

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/MarcoPoloResearchLab/inkwell/internal/users"
	"go.uber.org/zap"
)

var errMissingDependency = errors.New("authenticator: validator and user resolver are required")

// UserResolver maps a verified profile to its canonical user.
type UserResolver interface {
	Resolve(ctx context.Context, profile users.Profile) (users.Resolved, error)
}

// Authenticator turns a session credential into a collaboration identity.
type Authenticator struct {
	validator *SessionValidator
	users     UserResolver
	logger    *zap.Logger
}

// NewAuthenticator wires a validator to a user resolver.
func NewAuthenticator(validator *SessionValidator, resolver UserResolver, logger *zap.Logger) (*Authenticator, error) {
	if validator == nil || resolver == nil {
		return nil, errMissingDependency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{validator: validator, users: resolver, logger: logger}, nil
}

// ResolveIdentity validates credential and resolves the user behind it.
func (a *Authenticator) ResolveIdentity(ctx context.Context, credential string) (collab.Identity, error) {
	claims, err := a.validator.ValidateToken(credential)
	if err != nil {
		a.logger.Debug("credential rejected", zap.Error(err))
		return collab.Identity{}, err
	}
	resolved, err := a.users.Resolve(ctx, users.Profile{
		Subject:     claims.Subject,
		UserID:      claims.UserID,
		Email:       claims.UserEmail,
		DisplayName: claims.UserDisplayName,
	})
	if err != nil {
		a.logger.Warn("user resolution failed", zap.String("subject", claims.Subject), zap.Error(err))
		return collab.Identity{}, err
	}
	return collab.Identity{UserID: resolved.UserID, DisplayName: resolved.DisplayName}, nil
}
