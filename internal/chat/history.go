package chat

import (
	"context"
	"fmt"
	"strings"
)

// History answers point-in-time conversation reads. It never consults presence.
type History struct {
	store MessageStore
	limit int
}

// NewHistory builds a history service; defaultLimit of 0 returns full conversations.
func NewHistory(store MessageStore, defaultLimit int) *History {
	return &History{store: store, limit: defaultLimit}
}

func (h *History) GetHistory(ctx context.Context, a, b string) ([]Message, error) {
	return h.Page(ctx, a, b, h.limit)
}

// Page is GetHistory with an explicit limit.
func (h *History) Page(ctx context.Context, a, b string, limit int) ([]Message, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return nil, fmt.Errorf("%w: sender", ErrMissingParameter)
	case b == "":
		return nil, fmt.Errorf("%w: recipient", ErrMissingParameter)
	}
	if limit < 0 {
		limit = 0
	}
	msgs, err := h.store.Conversation(ctx, a, b, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
