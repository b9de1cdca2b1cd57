// Package session keeps a short-lived per-user record in the cache store: the
// last session snapshot, a preference map and the most recent activity.
//
// Every mutation reads the whole record, merges into it and writes it back
// under the Session TTL tier. A mutation whose read fails is not applied.
// Reads never extend the TTL. Concurrent writers for the same user follow
// last-write-wins.
package session

import (
	"context"
	"encoding/json"
	"time"

	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/common/logging"
	"prompt-cache/internal/keys"
	"prompt-cache/internal/store"
	"prompt-cache/internal/ttl"
)

// MaxActivity bounds the activity log of one record.
const MaxActivity = 50

// Activity is one entry of the activity log.
type Activity struct {
	Action   string                 `json:"action"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	At       time.Time              `json:"at"`
}

// Record is the cached per-user aggregate.
type Record struct {
	UserID      string                 `json:"user_id"`
	Session     json.RawMessage        `json:"session,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	// Activity is newest first.
	Activity  []Activity `json:"activity,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DecodeSession unmarshals the session snapshot into v.
func (r *Record) DecodeSession(v interface{}) error {
	if len(r.Session) == 0 {
		return errors.ValidationError("record has no session snapshot")
	}
	if err := json.Unmarshal(r.Session, v); err != nil {
		return errors.SerializationError("failed to decode session snapshot", err)
	}
	return nil
}

// Cache stores session records.
type Cache struct {
	store  store.Store
	ttl    time.Duration
	now    func() time.Time
	logger logging.Logger
}

// New creates a session cache whose writes use the policy's Session tier.
func New(s store.Store, policy *ttl.Policy, logger logging.Logger) *Cache {
	if policy == nil {
		policy = ttl.Default()
	}
	return &Cache{
		store:  s,
		ttl:    policy.For(keys.SessionRecord),
		now:    time.Now,
		logger: logging.Component(logger, "session"),
	}
}

func recordKey(userID string) string {
	return keys.Build(keys.SessionRecord, userID, nil)
}

// load returns the stored record or a fresh one. found is false when nothing
// usable was stored. err is set only when the store could not be read, in
// which case the returned record must not be written back.
func (c *Cache) load(ctx context.Context, userID string) (*Record, bool, error) {
	raw, found, err := c.store.Lookup(ctx, recordKey(userID))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return &Record{UserID: userID}, false, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("Discarding undecodable session record",
			logging.String("user_id", userID),
			logging.Err(err),
		)
		return &Record{UserID: userID}, false, nil
	}
	rec.UserID = userID
	return &rec, true, nil
}

// loadForUpdate is load for read-merge-write callers. A failed read skips the
// update so an unreadable record is never replaced by a partial one.
func (c *Cache) loadForUpdate(ctx context.Context, userID string) (*Record, bool) {
	rec, _, err := c.load(ctx, userID)
	if err != nil {
		c.logger.Warn("Session record unreadable, update skipped",
			logging.String("user_id", userID),
			logging.Err(err),
		)
		return nil, false
	}
	return rec, true
}

// loadForRead is load for readers, which treat a failed read as a miss.
func (c *Cache) loadForRead(ctx context.Context, userID string) (*Record, bool) {
	rec, found, err := c.load(ctx, userID)
	if err != nil {
		return &Record{UserID: userID}, false
	}
	return rec, found
}

func (c *Cache) save(ctx context.Context, rec *Record) bool {
	rec.UpdatedAt = c.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("Session record not cacheable",
			logging.String("user_id", rec.UserID),
			logging.Err(err),
		)
		return false
	}
	return c.store.Set(ctx, recordKey(rec.UserID), raw, c.ttl)
}

// CacheSession stores snapshot as the user's current session, keeping any
// preferences and activity already recorded.
func (c *Cache) CacheSession(ctx context.Context, userID string, snapshot interface{}) bool {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("Session snapshot not cacheable",
			logging.String("user_id", userID),
			logging.Err(err),
		)
		return false
	}

	rec, ok := c.loadForUpdate(ctx, userID)
	if !ok {
		return false
	}
	rec.Session = raw
	return c.save(ctx, rec)
}

// GetSession returns the user's record. It does not extend the TTL.
func (c *Cache) GetSession(ctx context.Context, userID string) (*Record, bool) {
	rec, found := c.loadForRead(ctx, userID)
	if !found {
		return nil, false
	}
	return rec, true
}

// InvalidateSession removes the whole record.
func (c *Cache) InvalidateSession(ctx context.Context, userID string) bool {
	return c.store.Delete(ctx, recordKey(userID))
}

// MergePreferences overlays prefs on the stored preference map. A nil value
// removes that preference.
func (c *Cache) MergePreferences(ctx context.Context, userID string, prefs map[string]interface{}) bool {
	rec, ok := c.loadForUpdate(ctx, userID)
	if !ok {
		return false
	}
	if rec.Preferences == nil {
		rec.Preferences = make(map[string]interface{}, len(prefs))
	}
	for k, v := range prefs {
		if v == nil {
			delete(rec.Preferences, k)
			continue
		}
		rec.Preferences[k] = v
	}
	return c.save(ctx, rec)
}

// Preferences returns the stored preference map, or an empty map.
func (c *Cache) Preferences(ctx context.Context, userID string) map[string]interface{} {
	rec, _ := c.loadForRead(ctx, userID)
	if rec.Preferences == nil {
		return map[string]interface{}{}
	}
	return rec.Preferences
}

// AppendActivity prepends an entry to the activity log and keeps only the
// MaxActivity most recent entries.
func (c *Cache) AppendActivity(ctx context.Context, userID, action string, metadata map[string]interface{}) bool {
	rec, ok := c.loadForUpdate(ctx, userID)
	if !ok {
		return false
	}

	activity := make([]Activity, 0, len(rec.Activity)+1)
	activity = append(activity, Activity{Action: action, Metadata: metadata, At: c.now().UTC()})
	activity = append(activity, rec.Activity...)
	if len(activity) > MaxActivity {
		activity = activity[:MaxActivity]
	}
	rec.Activity = activity

	return c.save(ctx, rec)
}

// RecentActivity returns up to limit entries, newest first. A non-positive
// limit returns the whole log.
func (c *Cache) RecentActivity(ctx context.Context, userID string, limit int) []Activity {
	rec, _ := c.loadForRead(ctx, userID)
	if limit > 0 && len(rec.Activity) > limit {
		return rec.Activity[:limit]
	}
	return rec.Activity
}
