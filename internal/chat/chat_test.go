package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/broker/internal/history"
	"github.com/coldvault/broker/internal/model"
	"github.com/coldvault/broker/internal/presence"
)

// frame is a decoded server event.
type frame struct {
	Type      string        `json:"type"`
	ID        string        `json:"id"`
	User      string        `json:"user"`
	Text      string        `json:"text"`
	Timestamp string        `json:"timestamp"`
	Messages  []WireMessage `json:"messages"`
	Users     []string      `json:"users"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
}

type fakeConn struct {
	id string

	mu        sync.Mutex
	frames    []frame
	limit     int
	down      bool
	malformed int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return false
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		c.down = true
		return false
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) ReportMalformed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed++
	return false
}

func (c *fakeConn) ClearMalformed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed = 0
}

func (c *fakeConn) all() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func (c *fakeConn) last() frame {
	frames := c.all()
	if len(frames) == 0 {
		return frame{}
	}
	return frames[len(frames)-1]
}

func (c *fakeConn) types() []string {
	var types []string
	for _, f := range c.all() {
		types = append(types, f.Type)
	}
	return types
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func newTestBroker(limit int) *Broker {
	clock := time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local)
	return NewBroker(presence.NewRegistry(), history.NewStore(limit), nil,
		WithClock(func() time.Time { return clock }))
}

func join(t *testing.T, b *Broker, name string) (*Participant, *fakeConn) {
	t.Helper()
	conn := newFakeConn("conn-" + name)
	p := NewParticipant(conn)
	require.NoError(t, b.Join(p, "", name))
	return p, conn
}

func TestBroker_JoinEmptyRoom(t *testing.T) {
	b := newTestBroker(50)
	p, conn := join(t, b, "alice")

	frames := conn.all()
	require.Len(t, frames, 3)

	assert.Equal(t, "history", frames[0].Type)
	assert.NotNil(t, frames[0].Messages)
	assert.Empty(t, frames[0].Messages)

	assert.Equal(t, "system", frames[1].Type)
	assert.Equal(t, "alice joined the community!", frames[1].Text)
	assert.Equal(t, "13:04:05", frames[1].Timestamp)
	assert.NotEmpty(t, frames[1].ID)

	assert.Equal(t, "user_list", frames[2].Type)
	assert.Equal(t, []string{"alice"}, frames[2].Users)

	assert.Equal(t, StateJoined, p.State())
	assert.Equal(t, "alice", p.Name())
}

func TestBroker_JoinReplaysHistoryFirst(t *testing.T) {
	b := newTestBroker(50)
	alice, aliceConn := join(t, b, "A")
	require.NoError(t, b.Send(alice, "hi"))
	aliceConn.reset()

	_, bobConn := join(t, b, "B")

	frames := bobConn.all()
	require.Len(t, frames, 3)
	require.Equal(t, "history", frames[0].Type)
	require.Len(t, frames[0].Messages, 2)
	assert.Equal(t, "A joined the community!", frames[0].Messages[0].Text)
	assert.Equal(t, "system", frames[0].Messages[0].Type)
	assert.Equal(t, "hi", frames[0].Messages[1].Text)
	assert.Equal(t, "A", frames[0].Messages[1].User)
	assert.Equal(t, "message", frames[0].Messages[1].Type)

	assert.Equal(t, "B joined the community!", frames[1].Text)
	assert.Equal(t, []string{"A", "B"}, frames[2].Users)

	assert.Equal(t, []string{"system", "user_list"}, aliceConn.types())
	assert.Equal(t, []string{"A", "B"}, aliceConn.last().Users)
}

func TestBroker_NameTaken(t *testing.T) {
	b := newTestBroker(50)
	_, aliceConn := join(t, b, "A")
	aliceConn.reset()

	conn := newFakeConn("dup")
	dup := NewParticipant(conn)
	err := b.Join(dup, "", "A")
	assert.ErrorIs(t, err, model.ErrNameTaken)
	assert.Equal(t, StateUnjoined, dup.State())
	assert.Empty(t, conn.all())
	assert.Empty(t, aliceConn.all())
	assert.Equal(t, []string{"A"}, b.Users(DefaultRoom))

	// Names are case-sensitive and the participant may retry
	require.NoError(t, b.Join(dup, "", "a"))
	assert.Equal(t, []string{"A", "a"}, b.Users(DefaultRoom))
}

func TestBroker_JoinStateMachine(t *testing.T) {
	b := newTestBroker(50)
	p, _ := join(t, b, "A")

	assert.ErrorIs(t, b.Join(p, "", "B"), model.ErrAlreadyJoined)

	b.Leave(p)
	assert.Equal(t, StateLeft, p.State())
	assert.ErrorIs(t, b.Join(p, "", "A"), model.ErrSessionClosed)
	assert.ErrorIs(t, b.Send(p, "hello"), model.ErrNotJoined)
}

func TestBroker_JoinValidation(t *testing.T) {
	b := newTestBroker(50)

	p := NewParticipant(newFakeConn("long"))
	err := b.Join(p, "", strings.Repeat("x", MaxNameLength+1))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
	assert.Equal(t, StateUnjoined, p.State())

	anon := NewParticipant(newFakeConn("anon"))
	require.NoError(t, b.Join(anon, "", ""))
	assert.Equal(t, DefaultName, anon.Name())
}

func TestBroker_SendRequiresJoin(t *testing.T) {
	b := newTestBroker(50)
	p := NewParticipant(newFakeConn("x"))

	assert.ErrorIs(t, b.Send(p, "hello"), model.ErrNotJoined)
	assert.Empty(t, b.History(DefaultRoom))
}

func TestBroker_SendValidation(t *testing.T) {
	b := newTestBroker(50)
	p, _ := join(t, b, "A")

	assert.ErrorIs(t, b.Send(p, ""), model.ErrMalformedMessage)
	assert.ErrorIs(t, b.Send(p, strings.Repeat("x", MaxTextLength+1)), model.ErrMalformedMessage)
	require.NoError(t, b.Send(p, strings.Repeat("x", MaxTextLength)))
}

func TestBroker_SendBroadcastsToAll(t *testing.T) {
	b := newTestBroker(50)
	alice, aliceConn := join(t, b, "A")
	_, bobConn := join(t, b, "B")
	aliceConn.reset()
	bobConn.reset()

	require.NoError(t, b.Send(alice, "hello"))

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		frames := conn.all()
		require.Len(t, frames, 1)
		assert.Equal(t, "message", frames[0].Type)
		assert.Equal(t, "A", frames[0].User)
		assert.Equal(t, "hello", frames[0].Text)
	}
}

func TestBroker_Leave(t *testing.T) {
	b := newTestBroker(50)
	alice, aliceConn := join(t, b, "A")
	_, bobConn := join(t, b, "B")
	bobConn.reset()
	aliceConn.reset()

	b.Leave(alice)
	b.Leave(alice)

	assert.Empty(t, aliceConn.all())
	frames := bobConn.all()
	require.Len(t, frames, 2)
	assert.Equal(t, "A left the community", frames[0].Text)
	assert.Equal(t, []string{"B"}, frames[1].Users)
	assert.Equal(t, []string{"B"}, b.Users(DefaultRoom))

	// Leaving without joining is a no-op
	ghost := NewParticipant(newFakeConn("ghost"))
	b.Leave(ghost)
	assert.Len(t, bobConn.all(), 2)
	assert.Equal(t, StateUnjoined, ghost.State())
	require.NoError(t, b.Join(ghost, "", "C"))
	assert.Equal(t, []string{"B", "C"}, b.Users(DefaultRoom))
}

func TestBroker_RoomsAreIndependent(t *testing.T) {
	b := newTestBroker(50)
	lobby := NewParticipant(newFakeConn("lobby"))
	require.NoError(t, b.Join(lobby, "lobby", "A"))

	other := newFakeConn("other")
	require.NoError(t, b.Join(NewParticipant(other), "btc", "A"))

	require.NoError(t, b.Send(lobby, "only lobby"))
	for _, f := range other.all() {
		assert.NotEqual(t, "only lobby", f.Text)
	}

	rooms := b.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, RoomInfo{Name: "btc", Users: 1, Messages: 1}, rooms[0])
	assert.Equal(t, RoomInfo{Name: "lobby", Users: 1, Messages: 2}, rooms[1])
}

func TestBroker_HistoryBound(t *testing.T) {
	b := newTestBroker(3)
	p, _ := join(t, b, "A")
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Send(p, fmt.Sprintf("m%d", i)))
	}

	_, conn := join(t, b, "B")
	replay := conn.all()[0].Messages
	require.Len(t, replay, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{replay[0].Text, replay[1].Text, replay[2].Text})
}

func TestBroker_SlowConsumerDoesNotStallRoom(t *testing.T) {
	b := newTestBroker(50)
	alice, aliceConn := join(t, b, "A")

	slow := newFakeConn("slow")
	slow.limit = 4
	require.NoError(t, b.Join(NewParticipant(slow), "", "S"))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Send(alice, fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, "m9", aliceConn.last().Text)
	assert.Len(t, slow.all(), 4)
}

func TestBroker_ConcurrentSendersSeeSameOrder(t *testing.T) {
	b := newTestBroker(1000)

	const senders = 4
	const perSender = 50

	var parts []*Participant
	var conns []*fakeConn
	for i := 0; i < senders; i++ {
		p, c := join(t, b, fmt.Sprintf("user%d", i))
		parts = append(parts, p)
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.reset()
	}

	var wg sync.WaitGroup
	for i, p := range parts {
		wg.Add(1)
		go func(i int, p *Participant) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, b.Send(p, fmt.Sprintf("%d-%d", i, j)))
			}
		}(i, p)
	}
	wg.Wait()

	ids := func(c *fakeConn) []string {
		var out []string
		for _, f := range c.all() {
			out = append(out, f.ID)
		}
		return out
	}

	want := ids(conns[0])
	require.Len(t, want, senders*perSender)
	for _, c := range conns[1:] {
		assert.Equal(t, want, ids(c))
	}

	hist := b.History(DefaultRoom)
	tail := hist[len(hist)-senders*perSender:]
	for i, m := range tail {
		assert.Equal(t, want[i], m.ID)
	}
}
