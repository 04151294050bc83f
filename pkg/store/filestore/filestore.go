// Package filestore persists user state as one JSON document per content item.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wilhg/contentstate/pkg/store"
)

func init() {
	_ = store.Register("file", func(_ context.Context, dsn string, log zerolog.Logger) (store.Backend, error) {
		return Open(dsn, log)
	})
}

// document is the on-disk layout of <dir>/<content>.json.
type document struct {
	UserData []store.Record         `json:"userData"`
	Finished []store.FinishedRecord `json:"finished"`
}

// Store serializes all access through a single mutex; every mutation rewrites
// the affected content document via write-to-temp and rename.
type Store struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// Open prepares dir for use, creating it when missing.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: ensure dir: %w", err)
	}
	return &Store{dir: dir, log: log.With().Str("component", "filestore").Logger()}, nil
}

func (s *Store) path(contentID string) string {
	return filepath.Join(s.dir, url.PathEscape(contentID)+".json")
}

func (s *Store) read(contentID string) (document, error) {
	var doc document
	b, err := os.ReadFile(s.path(contentID))
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("filestore: read %s: %w", contentID, err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("filestore: decode %s: %w", contentID, err)
	}
	return doc, nil
}

func (s *Store) write(contentID string, doc document) error {
	target := s.path(contentID)
	if len(doc.UserData) == 0 && len(doc.Finished) == 0 {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("filestore: remove %s: %w", contentID, err)
		}
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", contentID, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", contentID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %s: %w", contentID, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", contentID, err)
	}
	return nil
}

// update applies fn to the content document under the store lock and persists the result.
func (s *Store) update(contentID string, fn func(doc *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(contentID)
	if err != nil {
		return err
	}
	fn(&doc)
	return s.write(contentID, doc)
}

func (s *Store) LoadUserData(_ context.Context, contentID, dataType, subContentID string, user store.User) (store.Record, bool, error) {
	s.mu.Lock()
	doc, err := s.read(contentID)
	s.mu.Unlock()
	if err != nil {
		return store.Record{}, false, err
	}
	want := store.Key{ContentID: contentID, UserID: user.ID, DataType: dataType, SubContentID: subContentID}
	for _, r := range doc.UserData {
		if r.Key() == want {
			return r, true, nil
		}
	}
	return store.Record{}, false, nil
}

func (s *Store) SaveUserData(_ context.Context, rec store.Record, _ store.User) error {
	if rec.ContentID == "" || rec.UserID == "" {
		return errors.New("filestore: content id and user id are required")
	}
	return s.update(rec.ContentID, func(doc *document) {
		for i, r := range doc.UserData {
			if r.Key() == rec.Key() {
				doc.UserData[i] = rec
				return
			}
		}
		doc.UserData = append(doc.UserData, rec)
	})
}

func (s *Store) DeleteUserDataByUser(_ context.Context, contentID, userID string, requestingUser store.User) error {
	s.log.Debug().Str("content_id", contentID).Str("user_id", userID).Str("requested_by", requestingUser.ID).Msg("delete user data")
	return s.update(contentID, func(doc *document) {
		kept := doc.UserData[:0]
		for _, r := range doc.UserData {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		doc.UserData = kept
	})
}

func (s *Store) DeleteAllUserDataForContent(_ context.Context, contentID string, requestingUser store.User) error {
	s.log.Debug().Str("content_id", contentID).Str("requested_by", requestingUser.ID).Msg("delete content user data")
	return s.update(contentID, func(doc *document) {
		doc.UserData = nil
	})
}

func (s *Store) ListRecordsForContent(_ context.Context, contentID, userID string) ([]store.Record, error) {
	s.mu.Lock()
	doc, err := s.read(contentID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []store.Record
	for _, r := range doc.UserData {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) RecordCompletion(_ context.Context, rec store.FinishedRecord, _ store.User) error {
	if rec.ContentID == "" || rec.UserID == "" {
		return errors.New("filestore: content id and user id are required")
	}
	return s.update(rec.ContentID, func(doc *document) {
		for i, f := range doc.Finished {
			if f.UserID == rec.UserID {
				doc.Finished[i] = rec
				return
			}
		}
		doc.Finished = append(doc.Finished, rec)
	})
}

// ListCompletions returns completions in the order they were first recorded.
func (s *Store) ListCompletions(_ context.Context, contentID string) ([]store.FinishedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read(contentID)
	if err != nil {
		return nil, err
	}
	return doc.Finished, nil
}
