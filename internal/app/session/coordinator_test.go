package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kwite/internal/app/chat"
	"kwite/internal/app/identity"
	"kwite/internal/app/store"
	"kwite/internal/app/user"
)

type fixture struct {
	st     *store.Memory
	ctrl   *identity.Controller
	engine *chat.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(st.Close)

	return &fixture{
		st:     st,
		ctrl:   identity.NewController(st, identity.NewMemoryVerifier()),
		engine: chat.NewEngine(st),
	}
}

func (f *fixture) register(t *testing.T, handle, secret string) user.Profile {
	t.Helper()

	profile, customErr := f.ctrl.Register(context.Background(), handle, secret)
	require.Nil(t, customErr)
	return profile
}

func (f *fixture) startSession(t *testing.T, profile user.Profile) *Coordinator {
	t.Helper()

	coord := NewCoordinator(f.st, f.engine, profile)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go coord.Run(ctx)
	return coord
}

// waitView reads views until one satisfies the predicate. Views are delivered
// latest-wins, so predicates must describe eventually-stable states.
func waitView(t *testing.T, coord *Coordinator, desc string, ok func(View) bool) View {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case view, open := <-coord.Views():
			require.True(t, open, "view stream closed while waiting for: %s", desc)
			if ok(view) {
				return view
			}
		case <-deadline:
			t.Fatalf("timed out waiting for: %s", desc)
		}
	}
}

func TestAdminSeesPendingRegistration(t *testing.T) {
	f := newFixture(t)

	admin := f.register(t, "admin", "secret1")
	f.register(t, "alice", "secret1")

	coord := f.startSession(t, admin)

	view := waitView(t, coord, "alice in pending list", func(v View) bool {
		return len(v.Pending) == 1
	})

	assert.Equal(t, identity.AccessAdmin, view.Access)
	assert.Equal(t, "alice", view.Pending[0].Handle)
	assert.Empty(t, view.Active)
	assert.Contains(t, view.Statuses, "alice")
	assert.Equal(t, "", view.Target)
}

func TestApprovalFlowsToBothSessions(t *testing.T) {
	f := newFixture(t)

	admin := f.register(t, "admin", "secret1")
	alice := f.register(t, "alice", "secret1")

	adminCoord := f.startSession(t, admin)
	aliceCoord := f.startSession(t, alice)

	waitView(t, aliceCoord, "alice starts pending", func(v View) bool {
		return v.Access == identity.AccessPending
	})

	require.Nil(t, f.ctrl.Approve(context.Background(), admin, "alice"))

	// The admin's listing moves alice from pending to active.
	adminView := waitView(t, adminCoord, "alice moves to active", func(v View) bool {
		return len(v.Active) == 1 && len(v.Pending) == 0
	})
	assert.Equal(t, "alice", adminView.Active[0].Handle)

	// Alice's own session observes the approval through her profile stream.
	aliceView := waitView(t, aliceCoord, "alice becomes approved", func(v View) bool {
		return v.Access == identity.AccessApproved
	})
	assert.Equal(t, user.StatusApproved, aliceView.Self.Status)
}

func TestNonAdminAutoSelectsAdmin(t *testing.T) {
	f := newFixture(t)

	admin := f.register(t, "admin", "secret1")
	alice := f.register(t, "alice", "secret1")
	require.Nil(t, f.ctrl.Approve(context.Background(), admin, "alice"))

	coord := f.startSession(t, alice)

	view := waitView(t, coord, "admin auto-selected", func(v View) bool {
		return v.Target == "admin"
	})

	// Non-admin sessions carry no directory partitions.
	assert.Empty(t, view.Pending)
	assert.Empty(t, view.Active)
	assert.Contains(t, view.Statuses, "admin")
}

func TestConversationFlowWithReadReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.register(t, "admin", "secret1")
	alice := f.register(t, "alice", "secret1")
	require.Nil(t, f.ctrl.Approve(ctx, admin, "alice"))

	adminCoord := f.startSession(t, admin)
	aliceCoord := f.startSession(t, alice)

	// Wait for both the auto-selection and the approved profile snapshot, so
	// the send below cannot race a stale pending self.
	waitView(t, aliceCoord, "alice auto-selects admin", func(v View) bool {
		return v.Target == "admin" && v.Access == identity.AccessApproved
	})

	adminCoord.Select("alice")
	waitView(t, adminCoord, "admin selects alice", func(v View) bool {
		return v.Target == "alice"
	})

	// Alice writes; both open conversations converge on the message.
	sent, customErr := aliceCoord.Send(ctx, "admin", "hello there", nil)
	require.Nil(t, customErr)

	adminView := waitView(t, adminCoord, "admin sees the message", func(v View) bool {
		return len(v.Conversation) == 1
	})
	assert.Equal(t, sent.ID, adminView.Conversation[0].ID)
	assert.Equal(t, "alice", adminView.Conversation[0].Sender)

	// The admin has the conversation open, so viewing it marks the message
	// read; the tick then propagates back into alice's view.
	aliceView := waitView(t, aliceCoord, "alice sees the read tick", func(v View) bool {
		return len(v.Conversation) == 1 && v.Conversation[0].Read
	})
	require.NotNil(t, aliceView.Conversation[0].ReadAt)

	// A reply with a value-snapshot quote round-trips the same way.
	replied, customErr := adminCoord.Send(ctx, "alice", "hi!", &chat.ReplyRef{
		Sender: "alice",
		Body:   "hello there",
	})
	require.Nil(t, customErr)

	aliceView = waitView(t, aliceCoord, "alice sees the reply", func(v View) bool {
		return len(v.Conversation) == 2
	})
	assert.Equal(t, replied.ID, aliceView.Conversation[1].ID)
	require.NotNil(t, aliceView.Conversation[1].ReplyTo)
	assert.Equal(t, "hello there", aliceView.Conversation[1].ReplyTo.Body)
}

func TestSwitchingCounterpartResetsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.register(t, "admin", "secret1")
	alice := f.register(t, "alice", "secret1")
	f.register(t, "bob", "secret1")
	require.Nil(t, f.ctrl.Approve(ctx, admin, "alice"))
	require.Nil(t, f.ctrl.Approve(ctx, admin, "bob"))

	aliceCoord := f.startSession(t, alice)
	waitView(t, aliceCoord, "alice auto-selects admin", func(v View) bool {
		return v.Target == "admin" && v.Access == identity.AccessApproved
	})

	_, customErr := aliceCoord.Send(ctx, "admin", "for the admin", nil)
	require.Nil(t, customErr)

	adminCoord := f.startSession(t, admin)
	adminCoord.Select("alice")
	waitView(t, adminCoord, "alice conversation loaded", func(v View) bool {
		return v.Target == "alice" && len(v.Conversation) == 1
	})

	// Switching to bob must replace the conversation, never blend it.
	adminCoord.Select("bob")
	view := waitView(t, adminCoord, "bob conversation empty", func(v View) bool {
		return v.Target == "bob"
	})
	assert.Empty(t, view.Conversation)

	// Deselecting closes the conversation entirely.
	adminCoord.Select("")
	view = waitView(t, adminCoord, "no selection", func(v View) bool {
		return v.Target == ""
	})
	assert.Empty(t, view.Conversation)
}

func TestSessionEndsWithContext(t *testing.T) {
	f := newFixture(t)

	admin := f.register(t, "admin", "secret1")

	coord := NewCoordinator(f.st, f.engine, admin)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	waitView(t, coord, "first view", func(v View) bool { return true })

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on context cancellation")
	}

	// The view stream drains and closes; nothing arrives afterwards.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-coord.Views():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("view stream never closed")
		}
	}
}

func TestSendThroughSessionValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin := f.register(t, "admin", "secret1")
	f.register(t, "alice", "secret1")

	coord := f.startSession(t, admin)

	_, customErr := coord.Send(ctx, "admin", "talking to myself", nil)
	require.NotNil(t, customErr)

	_, customErr = coord.Send(ctx, "alice", "   ", nil)
	require.NotNil(t, customErr)
}
