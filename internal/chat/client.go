package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const writeWait = 10 * time.Second

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

type State int

const (
	Connected State = iota
	Identified
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Identified:
		return "identified"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the server side of one socket. Frames are handled one at a
// time by the read loop; pushes from other sessions go through a bounded
// queue drained by the write loop.
type Session struct {
	id       string
	conn     ConnLike
	send     chan []byte
	done     chan struct{}
	router   *Router
	presence *Presence
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	identity string
}

func NewSession(log *slog.Logger, conn ConnLike, router *Router, presence *Presence, bufferSize int) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		router:   router,
		presence: presence,
		log:      log.With("session", id),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Push never blocks: a full queue or a closed session drops the event.
func (s *Session) Push(evt Envelope) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("Unable to encode event", "event", evt.Event, "error", err)
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Run pumps the connection until the peer goes away, then closes the session.
func (s *Session) Run(ctx context.Context) {
	written := make(chan struct{})
	go func() {
		defer close(written)
		s.WritePump()
	}()
	s.ReadPump(ctx)
	s.Close()
	<-written
}

func (s *Session) ReadPump(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug("Read loop ended", "error", err)
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.Push(errorNotice(fmt.Errorf("%w: malformed frame", ErrValidation)))
			continue
		}
		if err := s.HandleFrame(ctx, frame); err != nil {
			s.log.Debug("Frame not handled", "event", frame.Event, "error", err)
		}
		if s.State() == Closed {
			return
		}
	}
}

func (s *Session) WritePump() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("Write failed", "error", err)
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// HandleFrame applies one inbound event. Errors are also pushed back to
// this session as an error event; the session stays open.
func (s *Session) HandleFrame(ctx context.Context, f Frame) error {
	var err error
	switch f.Event {
	case EventSetUsername:
		var identity string
		if err = json.Unmarshal(f.Data, &identity); err != nil {
			err = fmt.Errorf("%w: identity must be a string", ErrValidation)
			break
		}
		return s.SetUsername(identity)
	case EventSendMessage:
		var p Payload
		if err = json.Unmarshal(f.Data, &p); err != nil {
			err = fmt.Errorf("%w: malformed message", ErrValidation)
			break
		}
		_, err = s.SendMessage(ctx, p)
		return err
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrValidation, f.Event)
	}
	s.Push(errorNotice(err))
	return err
}

// SetUsername binds identity to this session. Calling it again with another
// identity releases the previous one first.
func (s *Session) SetUsername(identity string) error {
	identity = strings.TrimSpace(identity)
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if identity == "" {
		s.mu.Unlock()
		err := fmt.Errorf("%w: identity is required", ErrValidation)
		s.Push(errorNotice(err))
		return err
	}
	previous := s.identity
	s.identity = identity
	s.state = Identified
	s.mu.Unlock()

	// presence locks before pushing to sessions, so never call it with s.mu held
	if previous != "" && previous != identity {
		s.presence.Unbind(previous, s)
	}
	s.presence.Bind(identity, s)
	if s.State() == Closed {
		s.presence.Unbind(identity, s)
		return ErrSessionClosed
	}
	s.log.Info("User connected", "identity", identity)
	return nil
}

// SendMessage submits p on behalf of the bound identity. An empty sender is
// filled in; a different sender is rejected.
func (s *Session) SendMessage(ctx context.Context, p Payload) (Message, error) {
	s.mu.Lock()
	state, identity := s.state, s.identity
	s.mu.Unlock()

	var err error
	switch {
	case state == Closed:
		return Message{}, ErrSessionClosed
	case state != Identified:
		err = ErrNotIdentified
	case strings.TrimSpace(p.Sender) == "":
		p.Sender = identity
	case strings.TrimSpace(p.Sender) != identity:
		err = fmt.Errorf("%w: sender does not match session identity", ErrValidation)
	}
	if err != nil {
		s.Push(errorNotice(err))
		return Message{}, err
	}
	return s.router.Submit(ctx, p, s)
}

// Close is idempotent. The presence entry is released only if it still
// points at this session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	identity := s.identity
	s.state = Closed
	close(s.done)
	s.mu.Unlock()

	if identity != "" {
		s.presence.Unbind(identity, s)
	}
	s.log.Info("User disconnected", "identity", identity)
}
