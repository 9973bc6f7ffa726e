//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package chat

import (
	"context"
	"io"
)

// MessageStore is the append-only durable message log.
type MessageStore interface {
	// Append validates m, assigns its ID (and Timestamp when zero) and
	// persists it atomically. It fails with ErrValidation or ErrStoreFailure.
	Append(ctx context.Context, m Message) (Message, error)
	// Conversation returns the messages exchanged between a and b in either
	// direction, ascending by timestamp. A positive limit keeps only the most
	// recent messages.
	Conversation(ctx context.Context, a, b string, limit int) ([]Message, error)
}

// BlobStore keeps uploaded attachment bytes and hands back a reference
// that AttachmentResolver accepts.
type BlobStore interface {
	Put(ctx context.Context, filename string, r io.Reader) (string, error)
}
