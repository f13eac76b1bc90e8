package accounts

import (
	"strings"
	"time"
)

// Profile is the cached view of an upstream user, keyed by backend and upstream id.
type Profile struct {
	Backend     string    `gorm:"column:backend;primaryKey;size:32;not null" json:"backend"`
	Subject     string    `gorm:"column:subject;primaryKey;size:150;not null" json:"-"`
	UserID      string    `gorm:"column:user_id;size:190;not null;uniqueIndex" json:"userId"`
	Email       string    `gorm:"column:email;size:320" json:"email"`
	DisplayName string    `gorm:"column:display_name;size:320" json:"displayName"`
	Role        string    `gorm:"column:role;size:64" json:"role"`
	LastLoginAt time.Time `gorm:"column:last_login_at" json:"lastLoginAt"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing cached profiles.
func (Profile) TableName() string {
	return "account_profiles"
}

// CanonicalUserID joins backend and subject into the id desks are keyed by.
func CanonicalUserID(backend string, subject string) string {
	return normalize(backend) + ":" + normalize(subject)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
