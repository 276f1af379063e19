package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Preference keys.
const (
	KeyIncludeRenditions = "export.include_renditions"
	KeyIncludeViewer     = "export.include_viewer"
	KeyLastFolder        = "export.last_folder"
)

// Preferences are the user choices remembered between jobs.
type Preferences struct {
	IncludeRenditions bool
	IncludeViewer     bool
	LastFolder        string
}

// DefaultPreferences includes renditions and the viewer.
func DefaultPreferences() Preferences {
	return Preferences{IncludeRenditions: true, IncludeViewer: true}
}

// Get returns the stored value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// LoadPreferences reads the export preferences. Boolean values are stored as
// "true"/"false". A missing toggle keeps its default; any stored value other
// than a case-insensitive "true" reads as false.
func (s *Store) LoadPreferences(ctx context.Context) (Preferences, error) {
	prefs := DefaultPreferences()
	for key, dst := range map[string]*bool{
		KeyIncludeRenditions: &prefs.IncludeRenditions,
		KeyIncludeViewer:     &prefs.IncludeViewer,
	} {
		value, ok, err := s.Get(ctx, key)
		if err != nil {
			return prefs, err
		}
		if !ok {
			continue
		}
		*dst = strings.EqualFold(strings.TrimSpace(value), "true")
	}
	folder, _, err := s.Get(ctx, KeyLastFolder)
	if err != nil {
		return prefs, err
	}
	prefs.LastFolder = folder
	return prefs, nil
}

// SavePreferences writes the export preferences back.
func (s *Store) SavePreferences(ctx context.Context, prefs Preferences) error {
	if err := s.Set(ctx, KeyIncludeRenditions, strconv.FormatBool(prefs.IncludeRenditions)); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyIncludeViewer, strconv.FormatBool(prefs.IncludeViewer)); err != nil {
		return err
	}
	if prefs.LastFolder != "" {
		if err := s.Set(ctx, KeyLastFolder, prefs.LastFolder); err != nil {
			return err
		}
	}
	return nil
}
