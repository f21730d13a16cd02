package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/errs"
	"kwite/internal/pkg/logx"
)

// MaxBodyRunes caps the length of a message body.
const MaxBodyRunes = 2000

// Engine owns the write side of conversations.
type Engine struct {
	store  store.Store
	logger zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(st store.Store) *Engine {
	return &Engine{
		store:  st,
		logger: logx.Logger().With().Str("component", "chat").Logger(),
	}
}

// Send validates and appends a message to the log. The reply reference, if
// any, is snapshotted by value at call time. The message starts unread and the
// store assigns its timestamp.
func (e *Engine) Send(ctx context.Context, sender user.Profile, receiverHandle, body string, replyTo *ReplyRef) (Message, *errs.CustomError) {
	if strings.TrimSpace(body) == "" {
		return Message{}, errs.NewError(errs.ErrEmptyMessageBody)
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		return Message{}, errs.NewError(errs.ErrMessageTooLong)
	}

	if !sender.Approved() {
		return Message{}, errs.NewError(errs.ErrApprovalPending)
	}

	senderFolded := sender.FoldedHandle()
	receiverFolded := user.FoldHandle(receiverHandle)

	if receiverFolded == "" || receiverFolded == senderFolded {
		return Message{}, errs.NewError(errs.ErrSelfMessage)
	}

	if _, err := e.store.Get(ctx, store.DirectoryKey(receiverFolded)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Message{}, errs.NewError(errs.ErrNoCounterpart)
		}
		e.logger.Error().Err(err).Str("receiver", receiverFolded).Msg("Counterpart lookup failed during send.")
		return Message{}, errs.NewError(errs.ErrStoreUnavailable)
	}

	var replyCopy *ReplyRef
	if replyTo != nil {
		snapshot := *replyTo
		replyCopy = &snapshot
	}

	msg := Message{
		ID:       uuid.New().String(),
		Sender:   senderFolded,
		Receiver: receiverFolded,
		Body:     body,
		ReplyTo:  replyCopy,
	}

	data, err := msg.Encode()
	if err != nil {
		e.logger.Error().Err(err).Msg("Message encoding failed.")
		return Message{}, errs.NewError(errs.ErrUnknown)
	}

	doc, err := e.store.Create(ctx, store.MessageKey(msg.ID), data)
	if err != nil {
		e.logger.Error().Err(err).Str("sender", senderFolded).Msg("Message write failed.")
		return Message{}, errs.NewError(errs.ErrStoreUnavailable)
	}

	msg.SentAt = doc.CreatedAt

	return msg, nil
}

// SelectConversation filters the log snapshot down to the messages exchanged
// between viewer and counterpart, in either direction, ordered by sent time
// with the message id breaking ties. The order is a stable total order: two
// messages written in the same timestamp tick still sort the same way on every
// derivation.
func SelectConversation(all []Message, viewerFolded, counterpartFolded string) []Message {
	conv := make([]Message, 0)
	for _, msg := range all {
		outbound := msg.Sender == viewerFolded && msg.Receiver == counterpartFolded
		inbound := msg.Sender == counterpartFolded && msg.Receiver == viewerFolded
		if outbound || inbound {
			conv = append(conv, msg)
		}
	}

	sort.Slice(conv, func(i, j int) bool {
		if !conv[i].SentAt.Equal(conv[j].SentAt) {
			return conv[i].SentAt.Before(conv[j].SentAt)
		}
		return conv[i].ID < conv[j].ID
	})

	return conv
}

// ReconcileReadReceipts marks every unread message from the counterpart to the
// viewer as read in one atomic batch. Idempotent: already-read messages are
// never restaged, so a retry or a second concurrent viewer converges on the
// same state. On failure nothing is marked; the next snapshot retries.
func (e *Engine) ReconcileReadReceipts(ctx context.Context, snapshot []Message, viewerFolded, counterpartFolded string, now time.Time) error {
	ops := make([]store.Op, 0)

	for _, msg := range snapshot {
		if msg.Read || msg.Sender != counterpartFolded || msg.Receiver != viewerFolded {
			continue
		}

		readAt := now
		msg.Read = true
		msg.ReadAt = &readAt

		data, err := msg.Encode()
		if err != nil {
			e.logger.Error().Err(err).Str("message", msg.ID).Msg("Read receipt encoding failed.")
			continue
		}

		ops = append(ops, store.Op{Key: store.MessageKey(msg.ID), Data: data})
	}

	if len(ops) == 0 {
		return nil
	}

	if err := e.store.Batch(ctx, ops); err != nil {
		e.logger.Warn().Err(err).Int("count", len(ops)).Msg("Read receipt batch failed. Next snapshot retries.")
		return err
	}

	return nil
}

// PartitionDirectory splits a directory snapshot, minus the viewer, into
// pending registrations and active (approved) counterparts. Order within each
// partition follows the snapshot's commit order.
func PartitionDirectory(profiles []user.Profile, selfFolded string) (pending, active []user.Profile) {
	pending = make([]user.Profile, 0)
	active = make([]user.Profile, 0)

	for _, p := range profiles {
		if p.FoldedHandle() == selfFolded {
			continue
		}
		if p.Approved() {
			active = append(active, p)
		} else {
			pending = append(pending, p)
		}
	}

	return pending, active
}

// ResolveAdmin finds the administrator profile in a directory snapshot.
func ResolveAdmin(profiles []user.Profile) (user.Profile, bool) {
	for _, p := range profiles {
		if p.IsAdmin {
			return p, true
		}
	}
	return user.Profile{}, false
}
