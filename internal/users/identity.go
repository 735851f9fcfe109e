package users

import (
	"strings"
	"time"
)

// Identity maps a provider login to the canonical user id used on documents.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the verified login a credential carried.
type Profile struct {
	Subject     string
	UserID      string
	Email       string
	DisplayName string
}

// Resolved is the canonical user behind a profile.
type Resolved struct {
	UserID      string
	DisplayName string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
