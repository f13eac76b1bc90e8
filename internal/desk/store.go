package desk

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// WindowRecord persists one window of a user's layout.
type WindowRecord struct {
	UserID         string `gorm:"column:user_id;primaryKey;size:190;not null"`
	WindowID       string `gorm:"column:window_id;primaryKey;size:190;not null"`
	Ordinal        int    `gorm:"column:ordinal;not null"`
	Type           string `gorm:"column:window_type;size:32;not null"`
	Title          string `gorm:"column:title;size:320;not null;default:''"`
	Backend        string `gorm:"column:backend;size:64;not null;default:''"`
	Table          string `gorm:"column:table_name;size:190;not null;default:''"`
	RecordID       string `gorm:"column:record_id;size:190;not null;default:''"`
	X              int    `gorm:"column:x;not null"`
	Y              int    `gorm:"column:y;not null"`
	Width          int    `gorm:"column:width;not null"`
	Height         int    `gorm:"column:height;not null"`
	IsMinimized    bool   `gorm:"column:is_minimized;not null;default:false"`
	IsMaximized    bool   `gorm:"column:is_maximized;not null;default:false"`
	ZIndex         int64  `gorm:"column:z_index;not null"`
	OriginalX      *int   `gorm:"column:original_x"`
	OriginalY      *int   `gorm:"column:original_y"`
	OriginalWidth  *int   `gorm:"column:original_width"`
	OriginalHeight *int   `gorm:"column:original_height"`
}

// TableName provides the explicit table binding for GORM.
func (WindowRecord) TableName() string {
	return "desk_windows"
}

// SettingsRecord persists desk-wide geometry and selection.
type SettingsRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	ActiveWindowID   string `gorm:"column:active_window_id;size:190;not null;default:''"`
	ViewportWidth    int    `gorm:"column:viewport_width;not null"`
	ViewportHeight   int    `gorm:"column:viewport_height;not null"`
	SidebarWidth     int    `gorm:"column:sidebar_width;not null"`
	CascadeCounter   int    `gorm:"column:cascade_counter;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SettingsRecord) TableName() string {
	return "desk_settings"
}

// Store saves and loads desk layouts.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore constructs a layout store on top of an already migrated database.
func NewStore(db *gorm.DB, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}, nil
}

// Save replaces the persisted layout of userID.
func (s *Store) Save(ctx context.Context, userID UserID, layout Layout) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID.String()).Delete(&WindowRecord{}).Error; err != nil {
			return err
		}
		if len(layout.Windows) > 0 {
			records := make([]WindowRecord, 0, len(layout.Windows))
			for ordinal, window := range layout.Windows {
				records = append(records, toRecord(userID, ordinal, window))
			}
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		settings := SettingsRecord{
			UserID:           userID.String(),
			ActiveWindowID:   layout.ActiveID,
			ViewportWidth:    layout.Viewport.Width,
			ViewportHeight:   layout.Viewport.Height,
			SidebarWidth:     layout.SidebarWidth,
			CascadeCounter:   layout.CascadeCounter,
			UpdatedAtSeconds: s.clock().UTC().Unix(),
		}
		return tx.Save(&settings).Error
	})
}

// Load returns the persisted layout of userID. The boolean is false when none was saved.
func (s *Store) Load(ctx context.Context, userID UserID) (Layout, bool, error) {
	var settings SettingsRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Layout{}, false, nil
	}
	if err != nil {
		return Layout{}, false, err
	}

	var records []WindowRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("ordinal ASC").
		Find(&records).Error; err != nil {
		return Layout{}, false, err
	}

	layout := Layout{
		Windows:        make([]Window, 0, len(records)),
		ActiveID:       settings.ActiveWindowID,
		Viewport:       Size{Width: settings.ViewportWidth, Height: settings.ViewportHeight},
		SidebarWidth:   settings.SidebarWidth,
		CascadeCounter: settings.CascadeCounter,
	}
	for _, record := range records {
		layout.Windows = append(layout.Windows, fromRecord(record))
	}
	return layout, true, nil
}

func toRecord(userID UserID, ordinal int, window Window) WindowRecord {
	record := WindowRecord{
		UserID:      userID.String(),
		WindowID:    window.ID,
		Ordinal:     ordinal,
		Type:        string(window.Type),
		Title:       window.Title,
		X:           window.Position.X,
		Y:           window.Position.Y,
		Width:       window.Size.Width,
		Height:      window.Size.Height,
		IsMinimized: window.IsMinimized,
		IsMaximized: window.IsMaximized,
		ZIndex:      window.ZIndex,
	}
	if window.Table != nil {
		record.Backend = window.Table.Backend
		record.Table = window.Table.Name
		record.RecordID = window.Table.RecordID
	}
	if window.OriginalPosition != nil {
		record.OriginalX = &window.OriginalPosition.X
		record.OriginalY = &window.OriginalPosition.Y
	}
	if window.OriginalSize != nil {
		record.OriginalWidth = &window.OriginalSize.Width
		record.OriginalHeight = &window.OriginalSize.Height
	}
	return record
}

func fromRecord(record WindowRecord) Window {
	window := Window{
		ID:          record.WindowID,
		Type:        WindowType(record.Type),
		Title:       record.Title,
		Position:    Point{X: record.X, Y: record.Y},
		Size:        Size{Width: record.Width, Height: record.Height},
		IsMinimized: record.IsMinimized,
		IsMaximized: record.IsMaximized,
		ZIndex:      record.ZIndex,
	}
	if record.Table != "" {
		window.Table = &TableRef{Backend: record.Backend, Name: record.Table, RecordID: record.RecordID}
	}
	if record.OriginalX != nil && record.OriginalY != nil {
		window.OriginalPosition = &Point{X: *record.OriginalX, Y: *record.OriginalY}
	}
	if record.OriginalWidth != nil && record.OriginalHeight != nil {
		window.OriginalSize = &Size{Width: *record.OriginalWidth, Height: *record.OriginalHeight}
	}
	return window
}
