package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeConn feeds frames from in and collects writes on out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.out <- data
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, event string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(chat.Frame{Event: event, Data: raw})
	require.NoError(t, err)
	c.in <- frame
}

// next waits for the next written frame with the given event name.
func (c *fakeConn) next(t *testing.T, event string) chat.Frame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.out:
			var f chat.Frame
			require.NoError(t, json.Unmarshal(data, &f))
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s event written", event)
		}
	}
}

type fixture struct {
	store    *mocks.MockMessageStore
	presence *chat.Presence
	router   *chat.Router
	log      *slog.Logger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := mocks.NewMockMessageStore(gomock.NewController(t))
	presence := chat.NewPresence(log)
	presence.Observe(chat.PresenceObserverFunc(chat.BroadcastUserList))
	return fixture{
		store:    store,
		presence: presence,
		router:   newRouter(t, store, presence),
		log:      log,
	}
}

func (f fixture) session(conn chat.ConnLike) *chat.Session {
	return chat.NewSession(f.log, conn, f.router, f.presence, 16)
}

func onlineList(identities ...string) chat.Envelope {
	return chat.Envelope{Event: chat.EventUserList, Data: identities}
}

func TestSession_State_Machine(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session(newFakeConn())

	// Given a fresh connection
	req.Equal(chat.Connected, s.State())

	// When it announces an identity
	req.NoError(s.SetUsername(" a@x "))

	// Then it is identified and reachable
	req.Equal(chat.Identified, s.State())
	req.Equal("a@x", s.Identity())
	h, ok := f.presence.Lookup("a@x")
	req.True(ok)
	req.Equal(s.ID(), h.ID())

	// When it disconnects
	s.Close()
	s.Close()

	// Then it is closed, unreachable and refuses further events
	req.Equal(chat.Closed, s.State())
	_, ok = f.presence.Lookup("a@x")
	req.False(ok)
	req.ErrorIs(s.SetUsername("a@x"), chat.ErrSessionClosed)
	_, err := s.SendMessage(context.Background(), chat.Payload{Recipient: "b@x", Text: "hi"})
	req.ErrorIs(err, chat.ErrSessionClosed)
	req.False(s.Push(onlineList()))
}

func TestSession_Close_Before_Identity_Leaves_Presence_Untouched(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	other := newHandle()
	f.presence.Bind("b@x", other)

	s := f.session(newFakeConn())
	s.Close()

	req.Equal([]string{"b@x"}, f.presence.Identities())
	// b only saw its own bind broadcast
	req.Len(other.received(chat.EventUserList), 1)
}

func TestSession_Stale_Close_Keeps_Newer_Session(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	older := f.session(newFakeConn())
	newer := f.session(newFakeConn())

	// Given the same identity connects twice
	req.NoError(older.SetUsername("a@x"))
	req.NoError(newer.SetUsername("a@x"))

	// When the older connection goes away
	older.Close()

	// Then the newer binding survives
	h, ok := f.presence.Lookup("a@x")
	req.True(ok)
	req.Equal(newer.ID(), h.ID())
}

func TestSession_Rebinding_Releases_Previous_Identity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session(newFakeConn())

	req.NoError(s.SetUsername("a@x"))
	req.NoError(s.SetUsername("c@x"))

	req.Equal([]string{"c@x"}, f.presence.Identities())
}

func TestSession_SendMessage_Requires_Identity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session(newFakeConn())

	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.SendMessage(context.Background(), chat.Payload{Sender: "a@x", Recipient: "b@x", Text: "hi"})

	req.ErrorIs(err, chat.ErrNotIdentified)
}

func TestSession_SendMessage_Sender_Must_Match_Identity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session(newFakeConn())
	req.NoError(s.SetUsername("a@x"))

	// Only the message with a matching sender reaches the store
	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, m chat.Message) (chat.Message, error) {
			req.Equal("a@x", m.Sender)
			return persisted(ctx, m)
		}).Times(1)

	_, err := s.SendMessage(context.Background(), chat.Payload{Sender: "mallory@x", Recipient: "b@x", Text: "hi"})
	req.ErrorIs(err, chat.ErrValidation)

	// An omitted sender is taken from the session
	m, err := s.SendMessage(context.Background(), chat.Payload{Recipient: "b@x", Text: "hi"})
	req.NoError(err)
	req.Equal("a@x", m.Sender)
	req.NotEmpty(m.ID)
}

func TestSession_Run_Relays_Between_Two_Connections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceConn, bobConn := newFakeConn(), newFakeConn()
	alice, bob := f.session(aliceConn), f.session(bobConn)
	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)

	var wg sync.WaitGroup
	for _, s := range []*chat.Session{alice, bob} {
		wg.Add(1)
		go func(s *chat.Session) {
			defer wg.Done()
			s.Run(context.Background())
		}(s)
	}

	// Given both users identify over the socket
	bobConn.send(t, chat.EventSetUsername, "bob@x")
	bobConn.next(t, chat.EventUserList)
	aliceConn.send(t, chat.EventSetUsername, "alice@x")
	var online []string
	req.NoError(json.Unmarshal(aliceConn.next(t, chat.EventUserList).Data, &online))
	req.Equal([]string{"alice@x", "bob@x"}, online)

	// When alice sends a message
	aliceConn.send(t, chat.EventSendMessage, chat.Payload{Sender: "alice@x", Recipient: "bob@x", Text: "hi"})

	// Then bob and alice both receive the persisted copy
	var toBob, toAlice chat.Message
	req.NoError(json.Unmarshal(bobConn.next(t, chat.EventReceiveMessage).Data, &toBob))
	req.NoError(json.Unmarshal(aliceConn.next(t, chat.EventReceiveMessage).Data, &toAlice))
	req.NotEmpty(toBob.ID)
	req.Equal(toBob.ID, toAlice.ID)
	req.Equal("hi", toBob.Text)

	// When alice sends garbage, only alice hears about it
	aliceConn.in <- []byte("{not json")
	var notice chat.ErrorNotice
	req.NoError(json.Unmarshal(aliceConn.next(t, chat.EventError).Data, &notice))
	req.Equal("validation", notice.Code)

	// When alice disconnects, bob sees the updated list
	close(aliceConn.in)
	req.NoError(json.Unmarshal(bobConn.next(t, chat.EventUserList).Data, &online))
	req.Equal([]string{"bob@x"}, online)

	close(bobConn.in)
	wg.Wait()
	req.Empty(f.presence.Identities())
}

func TestSession_HandleFrame_Unknown_Event(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.session(newFakeConn())

	err := s.HandleFrame(context.Background(), chat.Frame{Event: "typing"})
	req.ErrorIs(err, chat.ErrValidation)

	err = s.HandleFrame(context.Background(), chat.Frame{Event: chat.EventSetUsername, Data: json.RawMessage(`42`)})
	req.ErrorIs(err, chat.ErrValidation)
	req.Equal(chat.Connected, s.State())
}

func TestSession_Push_Drops_When_Queue_Full(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := chat.NewSession(f.log, newFakeConn(), f.router, f.presence, 1)

	req.True(s.Push(onlineList("a@x")))
	req.False(s.Push(onlineList("a@x")))
}
