/*
Package store implements the durable, subscribable document store.

This file contains the PostgreSQL backend. Writes go through the documents
table, whose trigger emits a NOTIFY with the changed key; a single listener
goroutine holds a dedicated LISTEN connection and fans the key out to every
subscription whose prefix matches. Each notified subscription then re-queries
its full result set, so consumers always receive authoritative snapshots.
*/
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"kwite/internal/app/db"
	"kwite/internal/pkg/logx"
)

const (
	// documentChannel is the NOTIFY channel emitted by the documents trigger.
	documentChannel = "kwite_documents"

	// listenRetryDelay is the pause before re-acquiring a LISTEN connection
	// after a listener failure.
	listenRetryDelay = 3 * time.Second
)

// Postgres is the PostgreSQL Store backend.
type Postgres struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	subs   map[int64]*pgSub
	nextID int64
	closed bool

	stopListen context.CancelFunc
	wg         sync.WaitGroup

	logger zerolog.Logger
}

type pgSub struct {
	prefix  string
	updates chan []Document

	// notify is buffered with capacity 1 so pending changes coalesce.
	notify chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// NewPostgres creates a Store over an existing connection pool and starts the
// notification listener. The caller keeps ownership of the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	listenCtx, stopListen := context.WithCancel(context.Background())

	p := &Postgres{
		pool:       pool,
		subs:       make(map[int64]*pgSub),
		stopListen: stopListen,
		logger:     logx.Logger().With().Str("component", "store").Logger(),
	}

	p.wg.Add(1)
	go p.listen(listenCtx)

	return p
}

// Create inserts a new document or fails with ErrKeyExists.
func (p *Postgres) Create(ctx context.Context, key string, data []byte) (Document, error) {
	var doc Document

	row := p.pool.QueryRow(ctx,
		`INSERT INTO documents (key, data)
		 VALUES ($1, $2)
		 RETURNING key, data, seq, created_at, updated_at`,
		key, data)

	if err := scanDocument(row, &doc); err != nil {
		if db.IsUniqueViolation(err) {
			return Document{}, ErrKeyExists
		}
		return Document{}, fmt.Errorf("store: create %s: %w", key, err)
	}

	return doc, nil
}

// Put upserts a document with last-writer-wins semantics.
func (p *Postgres) Put(ctx context.Context, key string, data []byte) (Document, error) {
	var doc Document

	row := p.pool.QueryRow(ctx,
		`INSERT INTO documents (key, data)
		 VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = now()
		 RETURNING key, data, seq, created_at, updated_at`,
		key, data)

	if err := scanDocument(row, &doc); err != nil {
		return Document{}, fmt.Errorf("store: put %s: %w", key, err)
	}

	return doc, nil
}

// Get returns a single document or ErrNotFound.
func (p *Postgres) Get(ctx context.Context, key string) (Document, error) {
	var doc Document

	row := p.pool.QueryRow(ctx,
		`SELECT key, data, seq, created_at, updated_at
		 FROM documents
		 WHERE key = $1`,
		key)

	if err := scanDocument(row, &doc); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("store: get %s: %w", key, err)
	}

	return doc, nil
}

// Update applies fn to an existing document inside a transaction, holding a
// row lock across the read-modify-write.
func (p *Postgres) Update(ctx context.Context, key string, fn func(data []byte) ([]byte, error)) (Document, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("store: update begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	row := tx.QueryRow(ctx,
		`SELECT data FROM documents WHERE key = $1 FOR UPDATE`, key)
	if err := row.Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("store: update read %s: %w", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	row = tx.QueryRow(ctx,
		`UPDATE documents
		 SET data = $2, updated_at = now()
		 WHERE key = $1
		 RETURNING key, data, seq, created_at, updated_at`,
		key, next)
	if err := scanDocument(row, &doc); err != nil {
		return Document{}, fmt.Errorf("store: update write %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("store: update commit %s: %w", key, err)
	}

	return doc, nil
}

// List returns all documents under the prefix ordered by commit sequence.
func (p *Postgres) List(ctx context.Context, prefix string) ([]Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, data, seq, created_at, updated_at
		 FROM documents
		 WHERE key LIKE $1 || '%'
		 ORDER BY seq`,
		prefix)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prefix, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, fmt.Errorf("store: list %s: %w", prefix, err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prefix, err)
	}

	return docs, nil
}

// Batch applies all ops inside one transaction: all-or-nothing.
func (p *Postgres) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: batch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (key, data)
			 VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE
			 SET data = EXCLUDED.data, updated_at = now()`,
			op.Key, op.Data)
		if err != nil {
			return fmt.Errorf("store: batch write %s: %w", op.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: batch commit: %w", err)
	}

	return nil
}

// Subscribe opens a standing subscription for the key prefix.
func (p *Postgres) Subscribe(ctx context.Context, prefix string) (*Subscription, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &pgSub{
		prefix:  prefix,
		updates: make(chan []Document, 1),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	// Pre-load a notification so the initial result set is delivered without
	// waiting for the first change.
	sub.notify <- struct{}{}

	id := p.nextID
	p.nextID++
	p.subs[id] = sub
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pump(sub)

	return &Subscription{
		updates: sub.updates,
		cancel: func() {
			p.dropSub(id, sub)
		},
	}, nil
}

// Close stops the listener and cancels all subscriptions. The pool itself is
// left open for its owner to close.
func (p *Postgres) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	subs := p.subs
	p.subs = make(map[int64]*pgSub)
	p.mu.Unlock()

	p.stopListen()
	for _, sub := range subs {
		sub.stop()
	}

	p.wg.Wait()
}

// listen holds a dedicated connection in LISTEN mode and fans incoming keys
// out to matching subscriptions. On connection failure it retries after a
// short delay; subscribers simply miss no state because every wakeup triggers
// a full re-query.
func (p *Postgres) listen(ctx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Msg("Document listener failed. Reconnecting.")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+documentChannel); err != nil {
		return fmt.Errorf("listen %s: %w", documentChannel, err)
	}

	p.logger.Info().Msg("Document change listener established.")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		p.fanOut(notification.Payload)
	}
}

// fanOut wakes every subscription whose prefix covers the changed key.
func (p *Postgres) fanOut(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sub := range p.subs {
		if !strings.HasPrefix(key, sub.prefix) {
			continue
		}

		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// pump re-queries and delivers the full matching result set whenever the
// subscription is notified, then closes the updates channel on cancellation.
func (p *Postgres) pump(sub *pgSub) {
	defer p.wg.Done()
	defer close(sub.updates)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		snapshot, err := p.List(context.Background(), sub.prefix)
		if err != nil {
			p.logger.Warn().Err(err).Str("prefix", sub.prefix).Msg("Subscription re-query failed. Awaiting next change.")
			continue
		}

		select {
		case sub.updates <- snapshot:
		case <-sub.done:
			return
		}
	}
}

func (p *Postgres) dropSub(id int64, sub *pgSub) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()

	sub.stop()
}

func (s *pgSub) stop() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// scanDocument reads one documents row into doc.
func scanDocument(row pgx.Row, doc *Document) error {
	return row.Scan(&doc.Key, &doc.Data, &doc.Seq, &doc.CreatedAt, &doc.UpdatedAt)
}
