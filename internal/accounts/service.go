// Package accounts caches the profiles of users who signed in to the desk.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidLogin indicates the login did not carry a usable identifier.
	ErrInvalidLogin = errors.New("accounts: invalid login")
	// ErrProfileNotFound is returned by Lookup for unknown users.
	ErrProfileNotFound = errors.New("accounts: profile not found")
)

// Login is what an upstream sign-in tells us about a user.
type Login struct {
	Backend     string
	Subject     string
	Email       string
	DisplayName string
	Role        string
}

// ServiceConfig describes the dependencies of the profile cache.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service persists profiles and serves repeated lookups from memory.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Remember upserts the profile of login and stamps its last login time.
func (s *Service) Remember(ctx context.Context, login Login) (Profile, error) {
	backend := normalize(login.Backend)
	subject := normalize(login.Subject)
	if subject == "" {
		subject = normalize(login.Email)
	}
	if backend == "" || subject == "" {
		return Profile{}, ErrInvalidLogin
	}

	profile := Profile{
		Backend:     backend,
		Subject:     subject,
		UserID:      CanonicalUserID(backend, subject),
		Email:       normalize(login.Email),
		DisplayName: normalize(login.DisplayName),
		Role:        normalize(login.Role),
		LastLoginAt: s.now().UTC(),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = profile.Email
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "backend"}, {Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "role", "last_login_at", "updated_at"}),
	}).Create(&profile).Error
	if err != nil {
		return Profile{}, err
	}

	s.cache.Store(profile.UserID, profile)
	return profile, nil
}

// Lookup returns the profile of userID, preferring the in-memory copy.
func (s *Service) Lookup(ctx context.Context, userID string) (Profile, error) {
	userID = normalize(userID)
	if userID == "" {
		return Profile{}, ErrProfileNotFound
	}
	if cached, ok := s.cache.Load(userID); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	s.cache.Store(userID, profile)
	return profile, nil
}
