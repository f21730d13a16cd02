/*
Package store implements the durable, subscribable document store.

This file contains the in-memory backend. It backs development mode and serves
as the test double for every component above the store, mirroring the pattern
of keeping an in-memory implementation next to the PostgreSQL one.
*/
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the in-memory Store backend. A single mutex guards the document
// map, which trivially gives Batch its all-or-nothing guarantee.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Document
	seq    int64
	subs   map[int64]*memorySub
	nextID int64
	closed bool

	// now is the server clock; injectable for tests.
	now func() time.Time
}

type memorySub struct {
	prefix  string
	updates chan []Document

	// notify is buffered with capacity 1 so pending changes coalesce into a
	// single re-delivery.
	notify chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock creates an in-memory store with an injected server clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		docs: make(map[string]Document),
		subs: make(map[int64]*memorySub),
		now:  now,
	}
}

// Create inserts a new document or fails with ErrKeyExists.
func (m *Memory) Create(ctx context.Context, key string, data []byte) (Document, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return Document{}, ErrClosed
	}

	if _, ok := m.docs[key]; ok {
		m.mu.Unlock()
		return Document{}, ErrKeyExists
	}

	doc := m.insertLocked(key, data)
	m.notifyLocked(key)
	m.mu.Unlock()

	return doc, nil
}

// Put upserts a document, preserving CreatedAt and Seq of an existing one.
func (m *Memory) Put(ctx context.Context, key string, data []byte) (Document, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return Document{}, ErrClosed
	}

	doc := m.putLocked(key, data)
	m.notifyLocked(key)
	m.mu.Unlock()

	return doc, nil
}

// Get returns a copy of the document or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Document{}, ErrClosed
	}

	doc, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

// Update applies fn to an existing document under the store lock.
func (m *Memory) Update(ctx context.Context, key string, fn func(data []byte) ([]byte, error)) (Document, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return Document{}, ErrClosed
	}

	existing, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return Document{}, ErrNotFound
	}

	data, err := fn(append([]byte(nil), existing.Data...))
	if err != nil {
		m.mu.Unlock()
		return Document{}, err
	}

	doc := m.putLocked(key, data)
	m.notifyLocked(key)
	m.mu.Unlock()

	return doc, nil
}

// List returns all documents under the prefix ordered by commit sequence.
func (m *Memory) List(ctx context.Context, prefix string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	return m.listLocked(prefix), nil
}

// Batch applies all ops under a single lock acquisition: all-or-nothing.
func (m *Memory) Batch(ctx context.Context, ops []Op) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	for _, op := range ops {
		m.putLocked(op.Key, op.Data)
	}
	for _, op := range ops {
		m.notifyLocked(op.Key)
	}
	m.mu.Unlock()

	return nil
}

// Subscribe opens a standing subscription for the key prefix.
func (m *Memory) Subscribe(ctx context.Context, prefix string) (*Subscription, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &memorySub{
		prefix:  prefix,
		updates: make(chan []Document, 1),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	// Pre-load a notification so the initial result set is delivered without
	// waiting for the first change.
	sub.notify <- struct{}{}

	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	go m.pump(sub)

	return &Subscription{
		updates: sub.updates,
		cancel: func() {
			m.dropSub(id, sub)
		},
	}, nil
}

// Close shuts the store down and cancels all subscriptions.
func (m *Memory) Close() {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	subs := m.subs
	m.subs = make(map[int64]*memorySub)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (m *Memory) insertLocked(key string, data []byte) Document {
	m.seq++
	now := m.now()

	doc := Document{
		Key:       key,
		Data:      append([]byte(nil), data...),
		Seq:       m.seq,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.docs[key] = doc

	return copyDocument(doc)
}

func (m *Memory) putLocked(key string, data []byte) Document {
	existing, ok := m.docs[key]
	if !ok {
		return m.insertLocked(key, data)
	}

	existing.Data = append([]byte(nil), data...)
	existing.UpdatedAt = m.now()
	m.docs[key] = existing

	return copyDocument(existing)
}

func (m *Memory) listLocked(prefix string) []Document {
	docs := make([]Document, 0)
	for key, doc := range m.docs {
		if strings.HasPrefix(key, prefix) {
			docs = append(docs, copyDocument(doc))
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Seq < docs[j].Seq
	})

	return docs
}

// notifyLocked signals every subscription whose prefix covers the changed key.
// The buffered notify channel coalesces back-to-back changes.
func (m *Memory) notifyLocked(key string) {
	for _, sub := range m.subs {
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
// subscription is notified. It exits once the subscription is cancelled and
// closes the updates channel so no stale snapshot can be observed afterwards.
func (m *Memory) pump(sub *memorySub) {
	defer close(sub.updates)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		snapshot := m.listLocked(sub.prefix)
		m.mu.Unlock()

		select {
		case sub.updates <- snapshot:
		case <-sub.done:
			return
		}
	}
}

func (m *Memory) dropSub(id int64, sub *memorySub) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()

	sub.stop()
}

func (s *memorySub) stop() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func copyDocument(doc Document) Document {
	doc.Data = append([]byte(nil), doc.Data...)
	return doc
}
