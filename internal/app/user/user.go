/*
Package user contains the profile record shared by the identity, presence, and
conversation components.

A profile exists as two store documents with identical bodies: a private copy
keyed by the owner's authID and a public directory entry keyed by the folded
handle. The private copy is authoritative for the owner's own view, the public
copy for directory listings.
*/
package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the approval state of a profile.
type Status string

const (
	// StatusPending marks a registered profile awaiting administrator approval.
	StatusPending Status = "pending"

	// StatusApproved marks a profile cleared for messaging.
	StatusApproved Status = "approved"
)

// ReservedAdminHandle is the folded handle whose first registration becomes
// the administrator.
const ReservedAdminHandle = "admin"

// Profile is the identity record stored in the directory.
type Profile struct {
	// Handle is the user-chosen login name as originally typed.
	Handle string `json:"handle"`

	// AuthID is the opaque key issued by the identity verifier.
	AuthID string `json:"authId"`

	// Status is pending until an administrator approves the account.
	Status Status `json:"status"`

	// IsAdmin is true for exactly the first profile registered under the
	// reserved admin handle.
	IsAdmin bool `json:"isAdmin"`

	// CreatedAt records when the profile was registered.
	CreatedAt time.Time `json:"createdAt"`

	// LastActiveAt is the latest presence heartbeat, nil before the first one.
	LastActiveAt *time.Time `json:"lastActiveAt"`

	// TypingTarget is the folded handle the owner is currently composing a
	// message to, or empty.
	TypingTarget string `json:"typingTarget"`
}

// FoldedHandle returns the profile's directory key form of the handle.
func (p Profile) FoldedHandle() string {
	return FoldHandle(p.Handle)
}

// Approved reports whether the profile may participate in conversations.
// Admin profiles are always approved.
func (p Profile) Approved() bool {
	return p.IsAdmin || p.Status == StatusApproved
}

// FoldHandle normalizes a handle to its directory key form: surrounding
// whitespace trimmed and lowercased.
func FoldHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Encode serializes the profile to its store document body.
func (p Profile) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("user: encode profile %q: %w", p.Handle, err)
	}
	return data, nil
}

// DecodeProfile parses a store document body into a Profile. The document
// shape is closed: unknown fields and missing identity fields are rejected
// here at the store-read boundary rather than propagated into the core.
func DecodeProfile(data []byte) (Profile, error) {
	var p Profile

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("user: decode profile: %w", err)
	}

	if p.Handle == "" || p.AuthID == "" {
		return Profile{}, fmt.Errorf("user: decode profile: missing handle or authId")
	}
	if p.Status != StatusPending && p.Status != StatusApproved {
		return Profile{}, fmt.Errorf("user: decode profile: invalid status %q", p.Status)
	}

	return p, nil
}

// DecodeProfiles parses a directory snapshot, skipping bodies that fail to
// decode so a single corrupt entry cannot blank the listing.
func DecodeProfiles(bodies [][]byte) []Profile {
	profiles := make([]Profile, 0, len(bodies))
	for _, data := range bodies {
		p, err := DecodeProfile(data)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}
