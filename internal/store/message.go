package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
)

// Open opens the Badger directory at path, or an in-memory instance.
func Open(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.WARNING)
	}
	return badger.Open(opts)
}

type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewMessageStore(db *badger.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log, now: time.Now}
}

// Append persists m under
// "msg:{len(a)}:{len(b)}:{a}{b}:{unixnano padded to 19}:{id}" where (a, b)
// is the sorted identity pair, so one prefix scan covers both directions
// and keys sort chronologically. The lengths keep pair prefixes from
// overlapping whatever characters the identities contain.
func (s *MessageStore) Append(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStoreFailure, err)
	}
	if err := chat.Validate(m); err != nil {
		return chat.Message{}, err
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if err := chat.CheckTimestamp(m.Timestamp); err != nil {
		return chat.Message{}, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.ID = uuid.NewString()

	value, err := json.Marshal(m)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStoreFailure, err)
	}
	key := messageKey(m)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStoreFailure, err)
	}
	s.log.Debug("Message stored", "message_id", m.ID, "sender", m.Sender, "recipient", m.Recipient)
	return m, nil
}

// Conversation scans the pair prefix. With a positive limit it walks
// backwards from the newest key and flips the page before returning.
func (s *MessageStore) Conversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStoreFailure, err)
	}
	prefix := conversationPrefix(a, b)
	messages := []chat.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = limit > 0
		it := txn.NewIterator(opts)
		defer it.Close()

		if opts.Reverse {
			it.Seek(append(slices.Clone(prefix), 0xFF))
		} else {
			it.Seek(prefix)
		}
		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var m chat.Message
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			})
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStoreFailure, err)
	}
	if limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

func conversationPrefix(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(fmt.Sprintf("msg:%d:%d:%s%s:", len(a), len(b), a, b))
}

func messageKey(m chat.Message) []byte {
	key := conversationPrefix(m.Sender, m.Recipient)
	return fmt.Appendf(key, "%019d:%s", m.Timestamp.UnixNano(), m.ID)
}
