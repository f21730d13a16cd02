package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldHandle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Alice", want: "alice"},
		{in: "  ALICE  ", want: "alice"},
		{in: "bob_99", want: "bob_99"},
		{in: "   ", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FoldHandle(tt.in), "fold %q", tt.in)
	}
}

func TestApproved(t *testing.T) {
	assert.False(t, Profile{Status: StatusPending}.Approved())
	assert.True(t, Profile{Status: StatusApproved}.Approved())
	assert.True(t, Profile{Status: StatusPending, IsAdmin: true}.Approved())
}

func TestProfileRoundTrip(t *testing.T) {
	lastActive := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := Profile{
		Handle:       "Alice",
		AuthID:       "auth-1",
		Status:       StatusApproved,
		CreatedAt:    time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		LastActiveAt: &lastActive,
		TypingTarget: "admin",
	}

	data, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeProfile(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodeProfileRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `nope`},
		{name: "unknown field", data: `{"handle":"a","authId":"x","status":"pending","isAdmin":false,"createdAt":"2026-01-01T00:00:00Z","lastActiveAt":null,"typingTarget":"","extra":1}`},
		{name: "missing handle", data: `{"authId":"x","status":"pending","isAdmin":false,"createdAt":"2026-01-01T00:00:00Z","lastActiveAt":null,"typingTarget":""}`},
		{name: "missing authId", data: `{"handle":"a","status":"pending","isAdmin":false,"createdAt":"2026-01-01T00:00:00Z","lastActiveAt":null,"typingTarget":""}`},
		{name: "bad status", data: `{"handle":"a","authId":"x","status":"banned","isAdmin":false,"createdAt":"2026-01-01T00:00:00Z","lastActiveAt":null,"typingTarget":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProfile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDecodeProfilesSkipsCorruptEntries(t *testing.T) {
	good, err := Profile{Handle: "a", AuthID: "x", Status: StatusPending}.Encode()
	require.NoError(t, err)

	profiles := DecodeProfiles([][]byte{good, []byte(`garbage`)})
	require.Len(t, profiles, 1)
	assert.Equal(t, "a", profiles[0].Handle)
}
