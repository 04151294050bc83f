// Package memory is an in-memory store.Backend intended for tests and local development.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wilhg/contentstate/pkg/store"
)

func init() {
	_ = store.Register("memory", func(context.Context, string, zerolog.Logger) (store.Backend, error) {
		return New(), nil
	})
}

type finishedKey struct {
	contentID string
	userID    string
}

// Store keeps records in maps keyed by their identity tuple.
type Store struct {
	mu       sync.RWMutex
	records  map[store.Key]store.Record
	finished map[finishedKey]store.FinishedRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records:  make(map[store.Key]store.Record),
		finished: make(map[finishedKey]store.FinishedRecord),
	}
}

func (s *Store) LoadUserData(_ context.Context, contentID, dataType, subContentID string, user store.User) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[store.Key{ContentID: contentID, UserID: user.ID, DataType: dataType, SubContentID: subContentID}]
	return rec, ok, nil
}

func (s *Store) SaveUserData(_ context.Context, rec store.Record, user store.User) error {
	if rec.ContentID == "" || rec.UserID == "" {
		return errors.New("memory store: content id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec
	return nil
}

func (s *Store) DeleteUserDataByUser(_ context.Context, contentID, userID string, _ store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k.ContentID == contentID && k.UserID == userID {
			delete(s.records, k)
		}
	}
	return nil
}

func (s *Store) DeleteAllUserDataForContent(_ context.Context, contentID string, _ store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k.ContentID == contentID {
			delete(s.records, k)
		}
	}
	return nil
}

func (s *Store) ListRecordsForContent(_ context.Context, contentID, userID string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for k, rec := range s.records {
		if k.ContentID == contentID && k.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) RecordCompletion(_ context.Context, rec store.FinishedRecord, _ store.User) error {
	if rec.ContentID == "" || rec.UserID == "" {
		return errors.New("memory store: content id and user id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[finishedKey{contentID: rec.ContentID, userID: rec.UserID}] = rec
	return nil
}

// ListCompletions returns completions for a content item in no particular order.
func (s *Store) ListCompletions(_ context.Context, contentID string) ([]store.FinishedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FinishedRecord
	for k, rec := range s.finished {
		if k.contentID == contentID {
			out = append(out, rec)
		}
	}
	return out, nil
}
