package store

import "strings"

// Key layout. Profiles are written twice so that uniqueness lookups and
// per-user lookups never need a cross-index query: once privately under the
// owner's authID and once publicly under the folded handle.
const (
	// DirectoryPrefix holds the public profile entries, keyed by folded handle.
	DirectoryPrefix = "directory/"

	// MessagesPrefix holds the global message log, keyed by message id.
	MessagesPrefix = "messages/"

	usersPrefix   = "users/"
	profileSuffix = "/profile"
)

// DirectoryKey returns the public directory key for a folded handle.
func DirectoryKey(foldedHandle string) string {
	return DirectoryPrefix + foldedHandle
}

// ProfileKey returns the private profile key for an opaque verifier authID.
func ProfileKey(authID string) string {
	return usersPrefix + authID + profileSuffix
}

// MessageKey returns the message log key for a message id.
func MessageKey(id string) string {
	return MessagesPrefix + id
}

// MessageID extracts the message id back out of a message log key.
func MessageID(key string) string {
	return strings.TrimPrefix(key, MessagesPrefix)
}
