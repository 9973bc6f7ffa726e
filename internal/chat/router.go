package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Router validates submitted messages, persists them and pushes the
// persisted copy to whichever of recipient and sender are online.
type Router struct {
	store    MessageStore
	presence *Presence
	resolver *AttachmentResolver
	log      *slog.Logger

	trustClientTimestamp bool
}

type RouterOption func(*Router)

// WithClientTimestamps keeps a client-supplied timestamp instead of letting
// the store stamp the message.
func WithClientTimestamps(trust bool) RouterOption {
	return func(r *Router) { r.trustClientTimestamp = trust }
}

func NewRouter(log *slog.Logger, store MessageStore, presence *Presence, resolver *AttachmentResolver, opts ...RouterOption) *Router {
	r := &Router{store: store, presence: presence, resolver: resolver, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit runs one message through validation, persistence and delivery.
// A failure is reported to origin only; origin may be nil for HTTP callers.
// Delivery misses are not errors.
func (r *Router) Submit(ctx context.Context, p Payload, origin Handle) (Message, error) {
	m, err := r.persist(ctx, p)
	if err != nil {
		if errors.Is(err, ErrStoreFailure) {
			r.log.Error("Message not persisted", "sender", p.Sender, "recipient", p.Recipient, "error", err)
		} else {
			r.log.Debug("Message rejected", "sender", p.Sender, "recipient", p.Recipient, "error", err)
		}
		if origin != nil {
			origin.Push(errorNotice(err))
		}
		return Message{}, err
	}
	r.deliver(m)
	return m, nil
}

func (r *Router) persist(ctx context.Context, p Payload) (Message, error) {
	p = p.normalize()
	if err := Validate(p); err != nil {
		return Message{}, err
	}
	m := Message{Sender: p.Sender, Recipient: p.Recipient, Text: p.Text}
	if p.Attachment != "" {
		ref, err := r.resolver.Resolve(p.Attachment)
		if err != nil {
			return Message{}, err
		}
		m.Attachment = ref
	}
	if r.trustClientTimestamp && p.Timestamp != nil && !p.Timestamp.IsZero() {
		if err := CheckTimestamp(*p.Timestamp); err != nil {
			return Message{}, err
		}
		m.Timestamp = p.Timestamp.UTC()
	}

	saved, err := r.store.Append(ctx, m)
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrStoreFailure) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return saved, nil
}

func (r *Router) deliver(m Message) {
	evt := receiveMessage(m)
	to, ok := r.presence.Lookup(m.Recipient)
	switch {
	case !ok:
		r.log.Info("Recipient offline", "message_id", m.ID, "recipient", m.Recipient)
	case !to.Push(evt):
		r.log.Info("Recipient push dropped", "message_id", m.ID, "recipient", m.Recipient, "session", to.ID())
	}

	from, ok := r.presence.Lookup(m.Sender)
	switch {
	case !ok:
		r.log.Info("Sender offline", "message_id", m.ID, "sender", m.Sender)
	case to != nil && to.ID() == from.ID():
		// talking to oneself: already pushed
	case !from.Push(evt):
		r.log.Info("Sender push dropped", "message_id", m.ID, "sender", m.Sender, "session", from.ID())
	}
}
