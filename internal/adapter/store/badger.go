package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

const maxConflictRetries = 10

// BadgerStore is a ConversationStore persisted in an embedded BadgerDB.
// Each conversation is one JSON record under "conv/<id>".
type BadgerStore struct {
	db       *badger.DB
	maxTurns int
}

type badgerRecord struct {
	Title string        `json:"title,omitempty"`
	Turns []domain.Turn `json:"turns"`
}

var _ port.ConversationStore = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the database in dir.
func NewBadgerStore(dir string, maxTurns int) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	slog.Info("💾 conversation store opened", "backend", "badger", "dir", dir)
	return &BadgerStore{db: db, maxTurns: maxTurns}, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func conversationKey(id string) []byte {
	return []byte("conv/" + id)
}

func (s *BadgerStore) read(txn *badger.Txn, id string) (badgerRecord, error) {
	var rec badgerRecord
	item, err := txn.Get(conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

// update runs a read-modify-write transaction, retrying on write conflicts
// so concurrent appends to one conversation are all kept.
func (s *BadgerStore) update(ctx context.Context, id string, fn func(*badgerRecord)) (badgerRecord, error) {
	var rec badgerRecord
	for range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			if rec, err = s.read(txn, id); err != nil {
				return err
			}
			fn(&rec)
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return txn.Set(conversationKey(id), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return rec, err
	}
	return rec, fmt.Errorf("conversation %s: %w", id, badger.ErrConflict)
}

// Append adds a turn.
func (s *BadgerStore) Append(ctx context.Context, conversationID string, role domain.Role, content string) error {
	return s.AppendTurns(ctx, conversationID, domain.Turn{Role: role, Content: content})
}

// AppendTurns adds turns in one transaction.
func (s *BadgerStore) AppendTurns(ctx context.Context, conversationID string, turns ...domain.Turn) error {
	now := time.Now().UTC()
	_, err := s.update(ctx, conversationID, func(rec *badgerRecord) {
		for _, t := range turns {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			rec.Turns = append(rec.Turns, t)
		}
		if s.maxTurns > 0 && len(rec.Turns) > s.maxTurns {
			rec.Turns = rec.Turns[len(rec.Turns)-s.maxTurns:]
		}
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns returns the turns in order.
func (s *BadgerStore) Turns(_ context.Context, conversationID string) ([]domain.Turn, error) {
	var rec badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.read(txn, conversationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	if rec.Turns == nil {
		return []domain.Turn{}, nil
	}
	return rec.Turns, nil
}

// Title returns the cached title.
func (s *BadgerStore) Title(_ context.Context, conversationID string) (string, error) {
	var rec badgerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.read(txn, conversationID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return rec.Title, nil
}

// SetTitleIfEmpty stores title unless one is already set.
func (s *BadgerStore) SetTitleIfEmpty(ctx context.Context, conversationID, title string) (string, error) {
	rec, err := s.update(ctx, conversationID, func(rec *badgerRecord) {
		if rec.Title == "" {
			rec.Title = title
		}
	})
	if err != nil {
		return "", fmt.Errorf("set title: %w", err)
	}
	return rec.Title, nil
}

// Delete removes the conversation record.
func (s *BadgerStore) Delete(_ context.Context, conversationID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(conversationKey(conversationID))
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
