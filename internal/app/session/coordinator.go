/*
Package session coordinates one connected client: its subscriptions, its
current counterpart selection, and the view model pushed downstream.

A Coordinator runs a single goroutine that owns all session state. Snapshots
from the private profile, the public directory, and the message log arrive on
channels; selection changes arrive on a command channel. Every input recomputes
the full view model and pushes it latest-wins, so a slow consumer only ever
skips intermediate states, never reorders them.
*/
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kwite/internal/app/chat"
	"kwite/internal/app/identity"
	"kwite/internal/app/presence"
	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
)

// View is the full session view model. Each View supersedes the previous one
// entirely; a client renders it without reference to earlier frames.
type View struct {
	// Access is the derived access level of the session.
	Access identity.AccessState `json:"access"`

	// Self is the owner's private profile copy.
	Self user.Profile `json:"self"`

	// Target is the folded handle of the selected counterpart, or empty when
	// no conversation is open.
	Target string `json:"target,omitempty"`

	// Conversation is the ordered message view for the selection. Empty when
	// no counterpart is selected or nothing has been exchanged yet.
	Conversation []chat.Message `json:"conversation"`

	// Statuses maps each visible folded handle to its derived presence, as
	// observed by this session's owner.
	Statuses map[string]presence.Status `json:"statuses"`

	// Pending and Active partition the directory for the admin's listing.
	// Empty for non-admin sessions.
	Pending []user.Profile `json:"pending,omitempty"`
	Active  []user.Profile `json:"active,omitempty"`
}

// Coordinator drives one client session over the store.
type Coordinator struct {
	store   store.Store
	engine  *chat.Engine
	tracker *presence.Tracker

	// selfMu guards self, which the Run goroutine refreshes from profile
	// snapshots while Send reads it from the caller's goroutine.
	selfMu sync.Mutex
	self   user.Profile

	selectCh chan string
	views    chan View

	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator constructs a Coordinator for an authenticated profile.
func NewCoordinator(st store.Store, engine *chat.Engine, self user.Profile) *Coordinator {
	return &Coordinator{
		store:    st,
		engine:   engine,
		tracker:  presence.NewTracker(st, self),
		self:     self,
		selectCh: make(chan string, 1),
		views:    make(chan View, 1),
		logger:   logx.Logger().With().Str("component", "session").Str("handle", self.FoldedHandle()).Logger(),
		now:      time.Now,
	}
}

// Views returns the view model stream. The channel closes when Run returns.
func (c *Coordinator) Views() <-chan View {
	return c.views
}

// Select requests a counterpart switch. Latest-wins: a rapid sequence of
// selections collapses to the last one.
func (c *Coordinator) Select(counterpartHandle string) {
	folded := user.FoldHandle(counterpartHandle)

	for {
		select {
		case c.selectCh <- folded:
			return
		default:
		}
		select {
		case <-c.selectCh:
		default:
		}
	}
}

// Heartbeat records presence for the session owner. Best-effort.
func (c *Coordinator) Heartbeat(ctx context.Context, composingTo string, hasDraft bool) {
	c.tracker.Heartbeat(ctx, composingTo, hasDraft)
}

// Send appends a message from the session owner to the given receiver.
func (c *Coordinator) Send(ctx context.Context, receiverHandle, body string, replyTo *chat.ReplyRef) (chat.Message, *errs.CustomError) {
	return c.engine.Send(ctx, c.getSelf(), receiverHandle, body, replyTo)
}

func (c *Coordinator) getSelf() user.Profile {
	c.selfMu.Lock()
	defer c.selfMu.Unlock()
	return c.self
}

func (c *Coordinator) setSelf(p user.Profile) {
	c.selfMu.Lock()
	c.self = p
	c.selfMu.Unlock()
}

// Run owns the session until ctx is cancelled. It blocks; callers run it in
// its own goroutine and cancel the context to log the session out.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.views)
	defer c.tracker.Stop()

	profileSub, err := c.store.Subscribe(ctx, store.ProfileKey(c.self.AuthID))
	if err != nil {
		c.logger.Error().Err(err).Msg("Profile subscription failed. Session aborted.")
		return
	}
	defer profileSub.Cancel()

	dirSub, err := c.store.Subscribe(ctx, store.DirectoryPrefix)
	if err != nil {
		c.logger.Error().Err(err).Msg("Directory subscription failed. Session aborted.")
		return
	}
	defer dirSub.Cancel()

	go c.tracker.Run(ctx)

	var (
		directory    []user.Profile
		target       string
		conversation []chat.Message

		// msgSub is open only while a counterpart is selected. msgCh is nil
		// otherwise, which parks its select case.
		msgSub *store.Subscription
		msgCh  <-chan []store.Document
	)

	cancelMessages := func() {
		if msgSub != nil {
			msgSub.Cancel()
			msgSub = nil
			msgCh = nil
		}
		conversation = nil
	}
	defer cancelMessages()

	for {
		select {
		case <-ctx.Done():
			return

		case docs, ok := <-profileSub.Updates():
			if !ok {
				return
			}
			if len(docs) == 1 {
				profile, err := user.DecodeProfile(docs[0].Data)
				if err != nil {
					c.logger.Error().Err(err).Msg("Own profile snapshot failed to decode.")
					continue
				}
				c.setSelf(profile)
			}
			c.push(c.compose(directory, target, conversation))

		case docs, ok := <-dirSub.Updates():
			if !ok {
				return
			}
			directory = decodeDirectory(docs)

			// A non-admin converses only with the current admin; re-resolve
			// on every directory change in case the admin identity moved.
			if self := c.getSelf(); !self.IsAdmin {
				if admin, found := chat.ResolveAdmin(directory); found && admin.FoldedHandle() != target {
					cancelMessages()
					target = admin.FoldedHandle()
					msgSub, msgCh = c.openMessages(ctx)
				}
			}
			c.push(c.compose(directory, target, conversation))

		case folded := <-c.selectCh:
			if folded == target {
				continue
			}

			// The superseded subscription is cancelled before the new one is
			// opened, so a late snapshot from it cannot repopulate the view.
			cancelMessages()
			target = folded
			if target != "" {
				msgSub, msgCh = c.openMessages(ctx)
			}
			c.push(c.compose(directory, target, conversation))

		case docs, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			self := c.getSelf()
			conversation = chat.SelectConversation(chat.DecodeMessages(docs), self.FoldedHandle(), target)

			// Viewing the conversation marks the counterpart's messages read.
			// Best-effort: a failed batch is retried by the next snapshot.
			_ = c.engine.ReconcileReadReceipts(ctx, conversation, self.FoldedHandle(), target, c.now())

			c.push(c.compose(directory, target, conversation))
		}
	}
}

// openMessages opens the message log subscription for the current selection.
func (c *Coordinator) openMessages(ctx context.Context) (*store.Subscription, <-chan []store.Document) {
	sub, err := c.store.Subscribe(ctx, store.MessagesPrefix)
	if err != nil {
		c.logger.Error().Err(err).Msg("Message subscription failed.")
		return nil, nil
	}
	return sub, sub.Updates()
}

// compose builds the full view model from the current session state.
func (c *Coordinator) compose(directory []user.Profile, target string, conversation []chat.Message) View {
	self := c.getSelf()
	selfFolded := self.FoldedHandle()
	now := c.now()

	statuses := make(map[string]presence.Status)
	for _, p := range directory {
		folded := p.FoldedHandle()
		if folded == selfFolded {
			continue
		}
		statuses[folded] = presence.DeriveStatus(p, selfFolded, now)
	}

	if conversation == nil {
		conversation = make([]chat.Message, 0)
	}

	view := View{
		Access:       identity.CurrentAccessState(&self),
		Self:         self,
		Target:       target,
		Conversation: conversation,
		Statuses:     statuses,
	}

	if self.IsAdmin {
		view.Pending, view.Active = chat.PartitionDirectory(directory, selfFolded)
	}

	return view
}

// push delivers a view latest-wins: a pending undelivered view is replaced
// rather than queued behind.
func (c *Coordinator) push(view View) {
	for {
		select {
		case c.views <- view:
			return
		default:
		}
		select {
		case <-c.views:
		default:
		}
	}
}

func decodeDirectory(docs []store.Document) []user.Profile {
	bodies := make([][]byte, 0, len(docs))
	for _, doc := range docs {
		bodies = append(bodies, doc.Data)
	}
	return user.DecodeProfiles(bodies)
}
