// Package model holds the drop data shared by the channel, the reconciler,
// the REST client and the local store.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DropKind is the kind of a shared item.
type DropKind string

const (
	KindText DropKind = "text"
	KindCode DropKind = "code"
	KindFile DropKind = "file"
)

// Valid reports whether k is one of the known kinds.
func (k DropKind) Valid() bool {
	switch k {
	case KindText, KindCode, KindFile:
		return true
	default:
		return false
	}
}

// Drop is a single server-confirmed item within a session.
// Timestamps are kept exactly as the backend sent them.
type Drop struct {
	ID            int64    `json:"id"`
	Type          DropKind `json:"type"`
	Content       string   `json:"content,omitempty"`
	Path          string   `json:"path,omitempty"`
	CreatedAt     string   `json:"created_at"`
	ExpiresAt     *string  `json:"expires_at,omitempty"`
	BurnAfterRead bool     `json:"burn_after_read,omitempty"`
}

// Expired reports whether the drop carries an expiry that is not after now.
// Unparseable expiries are treated as not expired; the backend removes drops.
func (d Drop) Expired(now time.Time) bool {
	exp, ok := d.ExpiryTime()
	if !ok {
		return false
	}
	return !exp.After(now)
}

// ExpiryTime parses ExpiresAt. ok is false when the drop has no usable expiry.
func (d Drop) ExpiryTime() (time.Time, bool) {
	if d.ExpiresAt == nil || *d.ExpiresAt == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(*d.ExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RemainingTime renders the countdown label shown next to expiring drops:
// "Expired" once the deadline has passed, otherwise whole seconds ("42s").
// ok is false when the drop does not expire.
func (d Drop) RemainingTime(now time.Time) (label string, ok bool) {
	exp, ok := d.ExpiryTime()
	if !ok {
		return "", false
	}
	diff := exp.Sub(now)
	if diff <= 0 {
		return "Expired", true
	}
	return fmt.Sprintf("%ds", int64(diff/time.Second)), true
}

// timestamp layouts produced by the backend; naive values are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

// Snapshot is the ordered list of drops of one session.
type Snapshot []Drop

// Clone returns a copy that shares no backing array with s.
// A nil snapshot clones to an empty, non-nil one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

// IndexOf returns the position of the drop with id, or -1.
func (s Snapshot) IndexOf(id int64) int {
	for i := range s {
		if s[i].ID == id {
			return i
		}
	}
	return -1
}
