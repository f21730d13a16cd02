package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
)

func seedDirectory(t *testing.T, st *store.Memory, handle string, approved bool) user.Profile {
	t.Helper()

	status := user.StatusPending
	if approved {
		status = user.StatusApproved
	}

	profile := user.Profile{
		Handle:    handle,
		AuthID:    "auth-" + handle,
		Status:    status,
		IsAdmin:   handle == user.ReservedAdminHandle,
		CreatedAt: time.Now(),
	}
	data, err := profile.Encode()
	require.NoError(t, err)

	_, err = st.Create(context.Background(), store.DirectoryKey(profile.FoldedHandle()), data)
	require.NoError(t, err)

	return profile
}

func logMessages(t *testing.T, st *store.Memory) []Message {
	t.Helper()

	docs, err := st.List(context.Background(), store.MessagesPrefix)
	require.NoError(t, err)

	return DecodeMessages(docs)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	admin := seedDirectory(t, st, "admin", true)
	pending := seedDirectory(t, st, "bob", false)

	engine := NewEngine(st)

	longBody := make([]byte, 0, MaxBodyRunes+1)
	for i := 0; i <= MaxBodyRunes; i++ {
		longBody = append(longBody, 'x')
	}

	tests := []struct {
		name     string
		sender   user.Profile
		receiver string
		body     string
		wantCode int
	}{
		{name: "empty body", sender: admin, receiver: "bob", body: "", wantCode: errs.ErrEmptyMessageBody},
		{name: "whitespace body", sender: admin, receiver: "bob", body: "  \n\t ", wantCode: errs.ErrEmptyMessageBody},
		{name: "body too long", sender: admin, receiver: "bob", body: string(longBody), wantCode: errs.ErrMessageTooLong},
		{name: "pending sender", sender: pending, receiver: "admin", body: "hi", wantCode: errs.ErrApprovalPending},
		{name: "self message", sender: admin, receiver: "ADMIN", body: "hi", wantCode: errs.ErrSelfMessage},
		{name: "empty receiver", sender: admin, receiver: "  ", body: "hi", wantCode: errs.ErrSelfMessage},
		{name: "unknown receiver", sender: admin, receiver: "ghost", body: "hi", wantCode: errs.ErrNoCounterpart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, customErr := engine.Send(ctx, tt.sender, tt.receiver, tt.body, nil)
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}

	assert.Empty(t, logMessages(t, st), "rejected sends must not reach the log")
}

func TestSendAppendsUnreadMessage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	admin := seedDirectory(t, st, "admin", true)
	seedDirectory(t, st, "alice", true)

	engine := NewEngine(st)

	msg, customErr := engine.Send(ctx, admin, "Alice", "hello", nil)
	require.Nil(t, customErr)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "admin", msg.Sender)
	assert.Equal(t, "alice", msg.Receiver)
	assert.False(t, msg.Read)
	assert.Nil(t, msg.ReadAt)
	assert.False(t, msg.SentAt.IsZero())

	logged := logMessages(t, st)
	require.Len(t, logged, 1)
	assert.Equal(t, msg.ID, logged[0].ID)
	assert.True(t, logged[0].SentAt.Equal(msg.SentAt))
}

func TestSendSnapshotsReplyByValue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	admin := seedDirectory(t, st, "admin", true)
	seedDirectory(t, st, "alice", true)

	engine := NewEngine(st)

	reply := &ReplyRef{Sender: "alice", Body: "original text"}
	msg, customErr := engine.Send(ctx, admin, "alice", "replying", reply)
	require.Nil(t, customErr)

	// Mutating the caller's struct after the send must not reach the stored copy.
	reply.Body = "mutated"

	logged := logMessages(t, st)
	require.Len(t, logged, 1)
	require.NotNil(t, logged[0].ReplyTo)
	assert.Equal(t, "original text", logged[0].ReplyTo.Body)
	assert.Equal(t, "alice", logged[0].ReplyTo.Sender)
	assert.Equal(t, msg.ID, logged[0].ID)
}

func TestSelectConversation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	all := []Message{
		{ID: "m3", Sender: "alice", Receiver: "admin", SentAt: base.Add(2 * time.Second)},
		{ID: "m1", Sender: "admin", Receiver: "alice", SentAt: base},
		{ID: "mx", Sender: "admin", Receiver: "bob", SentAt: base.Add(time.Second)},
		{ID: "m2", Sender: "alice", Receiver: "admin", SentAt: base.Add(time.Second)},
		{ID: "my", Sender: "bob", Receiver: "alice", SentAt: base},
	}

	t.Run("symmetric pair filter and order", func(t *testing.T) {
		conv := SelectConversation(all, "alice", "admin")
		require.Len(t, conv, 3)
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{conv[0].ID, conv[1].ID, conv[2].ID})
	})

	t.Run("same result for both viewers", func(t *testing.T) {
		a := SelectConversation(all, "alice", "admin")
		b := SelectConversation(all, "admin", "alice")
		assert.Equal(t, a, b)
	})

	t.Run("id breaks timestamp ties", func(t *testing.T) {
		tied := []Message{
			{ID: "b", Sender: "alice", Receiver: "admin", SentAt: base},
			{ID: "a", Sender: "admin", Receiver: "alice", SentAt: base},
		}
		conv := SelectConversation(tied, "alice", "admin")
		require.Len(t, conv, 2)
		assert.Equal(t, "a", conv[0].ID)
		assert.Equal(t, "b", conv[1].ID)
	})

	t.Run("no pair messages", func(t *testing.T) {
		assert.Empty(t, SelectConversation(all, "alice", "carol"))
	})
}

func TestReconcileReadReceipts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	admin := seedDirectory(t, st, "admin", true)
	alice := seedDirectory(t, st, "alice", true)

	engine := NewEngine(st)

	_, customErr := engine.Send(ctx, admin, "alice", "one", nil)
	require.Nil(t, customErr)
	_, customErr = engine.Send(ctx, admin, "alice", "two", nil)
	require.Nil(t, customErr)
	_, customErr = engine.Send(ctx, alice, "admin", "reply", nil)
	require.Nil(t, customErr)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Alice views the conversation: only the admin's messages flip.
	snapshot := logMessages(t, st)
	require.NoError(t, engine.ReconcileReadReceipts(ctx, snapshot, "alice", "admin", now))

	after := logMessages(t, st)
	for _, msg := range after {
		if msg.Receiver == "alice" {
			assert.True(t, msg.Read, "message %s should be read", msg.ID)
			require.NotNil(t, msg.ReadAt)
			assert.True(t, msg.ReadAt.Equal(now))
		} else {
			assert.False(t, msg.Read, "alice's own message must stay unread")
		}
	}

	// A second pass stages nothing and changes nothing.
	later := now.Add(time.Hour)
	require.NoError(t, engine.ReconcileReadReceipts(ctx, after, "alice", "admin", later))

	final := logMessages(t, st)
	for _, msg := range final {
		if msg.Receiver == "alice" {
			require.NotNil(t, msg.ReadAt)
			assert.True(t, msg.ReadAt.Equal(now), "readAt must not move on re-reconcile")
		}
	}
}

func TestPartitionDirectory(t *testing.T) {
	profiles := []user.Profile{
		{Handle: "admin", Status: user.StatusApproved, IsAdmin: true},
		{Handle: "alice", Status: user.StatusApproved},
		{Handle: "bob", Status: user.StatusPending},
		{Handle: "carol", Status: user.StatusPending},
	}

	pending, active := PartitionDirectory(profiles, "admin")

	require.Len(t, pending, 2)
	assert.Equal(t, "bob", pending[0].Handle)
	assert.Equal(t, "carol", pending[1].Handle)

	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].Handle)
}

func TestResolveAdmin(t *testing.T) {
	profiles := []user.Profile{
		{Handle: "alice", Status: user.StatusApproved},
		{Handle: "admin", Status: user.StatusApproved, IsAdmin: true},
	}

	admin, found := ResolveAdmin(profiles)
	require.True(t, found)
	assert.Equal(t, "admin", admin.Handle)

	_, found = ResolveAdmin(profiles[:1])
	assert.False(t, found)
}
