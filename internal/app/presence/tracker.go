/*
Package presence maintains each user's liveness signal and derives a
human-readable status from it.

This file holds the writer side: the per-session Tracker that stamps
lastActiveAt on a fixed cadence and manages the typing pointer with a
debounced self-expiry. All tracker writes are best-effort telemetry; a failed
write is logged and dropped, and the next heartbeat serves as the retry.
*/
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kwite/internal/app/store"
	"kwite/internal/app/user"
	"kwite/internal/pkg/logx"
)

const (
	// HeartbeatInterval is the fixed cadence of liveness writes.
	HeartbeatInterval = 2 * time.Minute

	// TypingExpiry is how long a typing signal survives without a further
	// draft change before the deferred clear fires.
	TypingExpiry = 3 * time.Second
)

// Tracker drives the presence fields of one user's public directory entry.
// It is owned by the user's session and must be stopped with it.
type Tracker struct {
	store store.Store

	// key is the directory entry the tracker writes to.
	key string

	interval  time.Duration
	typingTTL time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	composingTo string
	hasDraft    bool
	clearTimer  *time.Timer
	stopped     bool
}

// NewTracker creates a Tracker for the given profile with default timings.
func NewTracker(st store.Store, self user.Profile) *Tracker {
	return newTracker(st, self, HeartbeatInterval, TypingExpiry, time.Now)
}

func newTracker(st store.Store, self user.Profile, interval, typingTTL time.Duration, now func() time.Time) *Tracker {
	folded := self.FoldedHandle()

	return &Tracker{
		store:     st,
		key:       store.DirectoryKey(folded),
		interval:  interval,
		typingTTL: typingTTL,
		logger:    logx.Logger().With().Str("component", "presence").Str("handle", folded).Logger(),
		now:       now,
	}
}

// Run writes a heartbeat on the fixed cadence until ctx is cancelled. The
// reactive Heartbeat path stays independent of this loop.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			composingTo, hasDraft := t.composingTo, t.hasDraft
			t.mu.Unlock()

			t.writeHeartbeat(ctx, composingTo, hasDraft)
		}
	}
}

// Heartbeat records the current draft state and writes it out immediately.
// It is called reactively whenever the draft's emptiness changes. A non-empty
// draft arms the deferred typing clear; every further call while drafting
// re-arms it (debounce), so the typing signal self-expires after TypingExpiry
// of silence even if the draft is never cleared.
func (t *Tracker) Heartbeat(ctx context.Context, composingTo string, hasDraft bool) {
	t.mu.Lock()

	if t.stopped {
		t.mu.Unlock()
		return
	}

	t.composingTo = composingTo
	t.hasDraft = hasDraft

	if t.clearTimer != nil {
		t.clearTimer.Stop()
		t.clearTimer = nil
	}
	if hasDraft {
		t.clearTimer = time.AfterFunc(t.typingTTL, t.expireTyping)
	}
	t.mu.Unlock()

	t.writeHeartbeat(ctx, composingTo, hasDraft)
}

// Stop disarms the deferred typing clear and prevents further writes.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.clearTimer != nil {
		t.clearTimer.Stop()
		t.clearTimer = nil
	}
}

// writeHeartbeat stamps lastActiveAt and sets or clears the typing pointer on
// the public directory entry. Failures are swallowed: presence is telemetry,
// and the next cadence tick retries naturally.
func (t *Tracker) writeHeartbeat(ctx context.Context, composingTo string, hasDraft bool) {
	now := t.now()

	target := ""
	if hasDraft {
		target = user.FoldHandle(composingTo)
	}

	_, err := t.store.Update(ctx, t.key, func(data []byte) ([]byte, error) {
		profile, err := user.DecodeProfile(data)
		if err != nil {
			return nil, err
		}
		profile.LastActiveAt = &now
		profile.TypingTarget = target
		return profile.Encode()
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("Heartbeat write dropped.")
	}
}

// expireTyping is the deferred clear: it resets only the typing pointer,
// leaving lastActiveAt untouched so an idle user does not look freshly active.
func (t *Tracker) expireTyping() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.composingTo = ""
	t.hasDraft = false
	t.clearTimer = nil
	t.mu.Unlock()

	_, err := t.store.Update(context.Background(), t.key, func(data []byte) ([]byte, error) {
		profile, err := user.DecodeProfile(data)
		if err != nil {
			return nil, err
		}
		if profile.TypingTarget == "" {
			return data, nil
		}
		profile.TypingTarget = ""
		return profile.Encode()
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("Typing expiry write dropped.")
	}
}
