// Package preferences stores versioned per-user coordination preferences.
package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/store"
)

// ErrValidationFailed is returned when an update does not satisfy the
// preferences schema. The stored record is left untouched.
var ErrValidationFailed = errors.New("preferences: validation failed")

// DefaultBoost is the boost applied to zones without their own value.
const DefaultBoost = 1.0

// Zone is the per-room override.
type Zone struct {
	RoomID   string  `json:"roomId"`
	RoomName string  `json:"roomName"`
	Enabled  bool    `json:"enabled"`
	Boost    float64 `json:"boost"`
}

// Notifications controls which notifications the user receives.
type Notifications struct {
	Maintenance     bool   `json:"maintenance"`
	Coordination    bool   `json:"coordination"`
	QuietHoursStart string `json:"quietHoursStart,omitempty"`
	QuietHoursEnd   string `json:"quietHoursEnd,omitempty"`
}

// Preferences is one user's coordination configuration.
type Preferences struct {
	Enabled                 bool          `json:"enabled"`
	DefaultBoost            float64       `json:"defaultBoost"`
	Zones                   []Zone        `json:"zones"`
	NotificationPreferences Notifications `json:"notificationPreferences"`
	Version                 int           `json:"version"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// Defaults returns the preferences a user has before the first write.
func Defaults(now time.Time) Preferences {
	return Preferences{
		Enabled:      true,
		DefaultBoost: DefaultBoost,
		Zones:        []Zone{},
		NotificationPreferences: Notifications{
			Maintenance:  true,
			Coordination: true,
		},
		Version:   1,
		UpdatedAt: now,
	}
}

// ZoneEnabled reports whether coordination applies to roomID. Rooms that
// are not listed follow the global flag.
func (p Preferences) ZoneEnabled(roomID string) bool {
	if !p.Enabled {
		return false
	}
	for _, z := range p.Zones {
		if z.RoomID == roomID {
			return z.Enabled
		}
	}
	return true
}

// Boost returns the boost for roomID.
func (p Preferences) Boost(roomID string) float64 {
	for _, z := range p.Zones {
		if z.RoomID == roomID && z.Boost > 0 {
			return z.Boost
		}
	}
	return p.DefaultBoost
}

// Path returns the store path of a user's record.
func Path(userID string) string {
	return "coordination/preferences/" + userID
}

// Store reads and writes preferences.
type Store struct {
	store store.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewStore creates a Store. now may be nil.
func NewStore(st store.Store, now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{store: st, now: now, log: log}
}

// Get returns the stored preferences, or the defaults when the user has
// none. Defaults are not persisted.
func (s *Store) Get(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, fmt.Errorf("%w: empty user id", ErrValidationFailed)
	}
	raw, err := s.store.Get(ctx, Path(userID))
	if errors.Is(err, store.ErrNotFound) {
		return Defaults(s.now()), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("stored preferences unreadable, using defaults")
		return Defaults(s.now()), nil
	}
	return p, nil
}

// Update shallow-merges patch (a JSON object) over the current record,
// validates the result and stores it with the version incremented.
// version and updatedAt in the patch are ignored.
func (s *Store) Update(ctx context.Context, userID string, patch []byte) (Preferences, error) {
	if userID == "" {
		return Preferences{}, fmt.Errorf("%w: empty user id", ErrValidationFailed)
	}
	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return Preferences{}, fmt.Errorf("%w: patch must be a JSON object", ErrValidationFailed)
	}
	delete(fields, "version")
	delete(fields, "updatedAt")

	var out Preferences
	_, err := s.store.Transact(ctx, Path(userID), func(current []byte) ([]byte, error) {
		now := s.now()
		doc, version, err := s.base(current, now)
		if err != nil {
			return nil, err
		}
		for k, v := range fields {
			doc[k] = v
		}
		doc["version"] = float64(version + 1)
		doc["updatedAt"] = now.UTC().Format(time.RFC3339Nano)

		if err := validate(doc); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode preferences: %w", err)
		}
		out = Preferences{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return raw, nil
	})
	if err != nil {
		if errors.Is(err, ErrValidationFailed) {
			return Preferences{}, err
		}
		return Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	s.log.Info().Str("user", userID).Int("version", out.Version).Msg("preferences updated")
	return out, nil
}

// base returns the current record as a generic document and its version.
func (s *Store) base(current []byte, now time.Time) (map[string]any, int, error) {
	if current == nil {
		return toDoc(Defaults(now))
	}
	var doc map[string]any
	if err := json.Unmarshal(current, &doc); err != nil || doc == nil {
		return toDoc(Defaults(now))
	}
	v, _ := doc["version"].(float64)
	version := int(v)
	if version < 1 {
		version = 1
	}
	return doc, version, nil
}

// toDoc returns p as a generic document.
func toDoc(p Preferences) (map[string]any, int, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, 0, fmt.Errorf("encode defaults: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode defaults: %w", err)
	}
	return doc, p.Version, nil
}
