package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the profile did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves provider logins to canonical user ids and display names.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the canonical user for profile, recording the provider+subject
// pair the first time it is seen. The display name falls back to the stored
// one, then the email, then the user id.
func (s *Service) Resolve(ctx context.Context, profile Profile) (Resolved, error) {
	provider, subject := deriveProviderSubject(profile)
	if subject == "" {
		return Resolved{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if resolved, ok := cached.(Resolved); ok {
			if display := normalize(profile.DisplayName); display != "" {
				resolved.DisplayName = display
			}
			return resolved, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(profile.Email),
			DisplayName: normalize(profile.DisplayName),
			LastSeenAt:  s.now(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return Resolved{}, err
		}
	case err != nil:
		return Resolved{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email := normalize(profile.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(profile.DisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		// A failed refresh keeps the stored profile; resolution still succeeds.
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("identity refresh failed",
				zap.String("provider", provider),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}

	resolved := Resolved{UserID: identity.UserID, DisplayName: displayNameOf(identity)}
	s.cache.Store(cacheKey, resolved)
	return resolved, nil
}

func displayNameOf(identity Identity) string {
	switch {
	case identity.DisplayName != "":
		return identity.DisplayName
	case identity.Email != "":
		return identity.Email
	default:
		return identity.UserID
	}
}

func deriveProviderSubject(profile Profile) (string, string) {
	provider := "default"
	subject := normalize(profile.Subject)

	raw := normalize(profile.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(profile.Email)
	}

	return provider, subject
}
