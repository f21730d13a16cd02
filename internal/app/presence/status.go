/*
Package presence maintains each user's liveness signal and derives a
human-readable status from it.

This file holds the pure derivation side: turning a profile's lastActiveAt and
typingTarget snapshot into a display status. Derivation never blocks and never
writes.
*/
package presence

import (
	"time"

	"kwite/internal/app/user"
)

// ActiveWindow is how recent the last heartbeat must be for a user to count
// as active right now.
const ActiveWindow = 3 * time.Minute

// StatusKind enumerates the presence states a viewer can observe.
type StatusKind string

const (
	StatusOffline   StatusKind = "offline"
	StatusActiveNow StatusKind = "active"
	StatusTyping    StatusKind = "typing"
	StatusLastSeen  StatusKind = "last_seen"
)

// Status is the derived presence of one profile as seen by one viewer.
type Status struct {
	Kind StatusKind `json:"kind"`

	// LastSeen is set only for StatusLastSeen.
	LastSeen *time.Time `json:"lastSeen,omitempty"`

	// Label is the display string for the status.
	Label string `json:"label"`
}

// DeriveStatus computes the presence of profile as observed by the viewer.
// Priority order: never active → Offline; typing to the viewer → Typing (a
// typing signal beats staleness); heartbeat within ActiveWindow → ActiveNow;
// otherwise LastSeen. Pure function of the snapshot and clock.
func DeriveStatus(profile user.Profile, viewerFolded string, now time.Time) Status {
	if profile.LastActiveAt == nil {
		return Status{Kind: StatusOffline, Label: "Offline"}
	}

	if profile.TypingTarget != "" && profile.TypingTarget == viewerFolded {
		return Status{Kind: StatusTyping, Label: "Typing..."}
	}

	if now.Sub(*profile.LastActiveAt) < ActiveWindow {
		return Status{Kind: StatusActiveNow, Label: "Active now"}
	}

	at := *profile.LastActiveAt
	return Status{
		Kind:     StatusLastSeen,
		LastSeen: &at,
		Label:    "Last seen " + FormatSeenAt(at, now),
	}
}

// FormatSeenAt renders a timestamp as time-of-day when it falls on the same
// calendar day as now, and as date plus time otherwise.
func FormatSeenAt(at, now time.Time) string {
	sameDay := at.Year() == now.Year() && at.YearDay() == now.YearDay()

	if sameDay {
		return at.Format("15:04")
	}
	return at.Format("Jan 2, 15:04")
}
