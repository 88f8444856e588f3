// Package memory is an in-process implementation of the repository
// interfaces. It enforces the same unique keys as the Postgres schema and
// rolls transactions back by restoring a snapshot, which makes it usable for
// local development (STORAGE=memory) and as the fake behind service tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/lalith-99/courier/internal/models"
	"github.com/lalith-99/courier/internal/repository"
)

type data struct {
	nextID int64

	realms       map[int64]models.Realm
	users        map[int64]models.UserProfile
	clients      map[int64]models.Client
	streams      map[int64]models.Stream
	recipients   map[int64]models.Recipient
	huddles      map[int64]models.Huddle
	subs         map[int64]models.Subscription
	messages     map[int64]models.Message
	userMessages map[int64]models.UserMessage
	defaults     map[int64]models.DefaultStream
}

func newData() *data {
	return &data{
		realms:       make(map[int64]models.Realm),
		users:        make(map[int64]models.UserProfile),
		clients:      make(map[int64]models.Client),
		streams:      make(map[int64]models.Stream),
		recipients:   make(map[int64]models.Recipient),
		huddles:      make(map[int64]models.Huddle),
		subs:         make(map[int64]models.Subscription),
		messages:     make(map[int64]models.Message),
		userMessages: make(map[int64]models.UserMessage),
		defaults:     make(map[int64]models.DefaultStream),
	}
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

func (d *data) clone() *data {
	c := newData()
	c.nextID = d.nextID
	copyMap(c.realms, d.realms)
	copyMap(c.users, d.users)
	copyMap(c.clients, d.clients)
	copyMap(c.streams, d.streams)
	copyMap(c.recipients, d.recipients)
	copyMap(c.huddles, d.huddles)
	copyMap(c.subs, d.subs)
	copyMap(c.messages, d.messages)
	copyMap(c.userMessages, d.userMessages)
	copyMap(c.defaults, d.defaults)
	return c
}

func copyMap[V any](dst, src map[int64]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// Store holds all tables behind one lock. Writers (and whole transactions)
// are serialized by writeMu; readers only take mu.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	d       *data
}

func New() *Store {
	return &Store{d: newData()}
}

// NewStore returns the repository bundle backed by a fresh in-memory store.
func NewStore() *repository.Store {
	return New().Repositories()
}

func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Tx:             s,
		Realms:         realmRepo{s},
		Users:          userRepo{s},
		Clients:        clientRepo{s},
		Streams:        streamRepo{s},
		Recipients:     recipientRepo{s},
		Huddles:        huddleRepo{s},
		Subscriptions:  subscriptionRepo{s},
		Messages:       messageRepo{s},
		UserMessages:   userMessageRepo{s},
		DefaultStreams: defaultStreamRepo{s},
	}
}

// Stats reports row counts per table.
type Stats struct {
	Messages      int
	UserMessages  int
	Streams       int
	Recipients    int
	Huddles       int
	Subscriptions int
	Clients       int
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Messages:      len(s.d.messages),
		UserMessages:  len(s.d.userMessages),
		Streams:       len(s.d.streams),
		Recipients:    len(s.d.recipients),
		Huddles:       len(s.d.huddles),
		Subscriptions: len(s.d.subs),
		Clients:       len(s.d.clients),
	}
}

type txKey struct{ s *Store }

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{s}).(bool)
	return ok
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	snapshot := s.d.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{s}, true))
}

func (s *Store) restore(snapshot *data) {
	s.mu.Lock()
	s.d = snapshot
	s.mu.Unlock()
}

// write runs fn with exclusive access. Outside a transaction it also takes
// writeMu so it cannot interleave with a transaction that might roll back.
func (s *Store) write(ctx context.Context, fn func(d *data) error) error {
	if !s.inTx(ctx) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

func (s *Store) read(fn func(d *data)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.d)
}

func conflict(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrConflict)
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
}
