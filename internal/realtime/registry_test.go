package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/observability"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// stubVerifier maps "staff:<id>" tokens to staff identities and everything
// else to customer identities; empty tokens fail.
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, errors.New("missing token")
	}
	if id, ok := strings.CutPrefix(token, "staff:"); ok {
		return domain.Identity{ID: id, IsStaff: true}, nil
	}
	return domain.Identity{ID: token}, nil
}

type fakeSink struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (s *fakeSink) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("transport closing")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) events(t *testing.T) []Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.frames))
	for _, frame := range s.frames {
		var evt Event
		require.NoError(t, json.Unmarshal(frame, &evt))
		out = append(out, evt)
	}
	return out
}

func newTestRegistry(bufSize int) *Registry {
	return NewRegistry(stubVerifier{}, bufSize, zap.NewNop(), observability.NewMetrics())
}

func TestRegisterRejectsBadToken(t *testing.T) {
	registry := newTestRegistry(8)

	conn, err := registry.Register(&fakeSink{}, "")
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperrors.CodeOf(err))
}

func TestRegisterAllocatesEmptyRoomSet(t *testing.T) {
	registry := newTestRegistry(8)

	conn, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "u1", conn.Identity.ID)
	assert.False(t, conn.Identity.IsStaff)
	assert.Empty(t, registry.MembersOf(domain.ChatRoom("u1")))
}

func TestJoinRoomAuthorization(t *testing.T) {
	registry := newTestRegistry(8)

	customer, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)
	staff, err := registry.Register(&fakeSink{}, "staff:s1")
	require.NoError(t, err)

	// A customer may only join their own chat room.
	require.NoError(t, registry.JoinRoom(customer.ID, domain.ChatRoom("u1")))

	err = registry.JoinRoom(customer.ID, domain.ChatRoom("u2"))
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))
	assert.Empty(t, registry.MembersOf(domain.ChatRoom("u2")))

	err = registry.JoinRoom(customer.ID, domain.StaffRoom)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))

	// Staff may join the staff room and any customer conversation.
	require.NoError(t, registry.JoinRoom(staff.ID, domain.StaffRoom))
	require.NoError(t, registry.JoinRoom(staff.ID, domain.ChatRoom("u1")))
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	registry := newTestRegistry(8)

	conn, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)

	room := domain.ChatRoom("u1")
	require.NoError(t, registry.JoinRoom(conn.ID, room))
	require.NoError(t, registry.JoinRoom(conn.ID, room))
	assert.Len(t, registry.MembersOf(room), 1)

	registry.LeaveRoom(conn.ID, room)
	registry.LeaveRoom(conn.ID, room)
	assert.Empty(t, registry.MembersOf(room))
}

func TestJoinRoomAfterDisconnectFailsNotFound(t *testing.T) {
	registry := newTestRegistry(8)

	conn, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)
	registry.Unregister(conn.ID)

	err = registry.JoinRoom(conn.ID, domain.ChatRoom("u1"))
	assert.Equal(t, "NOT_FOUND", apperrors.CodeOf(err))
}

func TestUnregisterRemovesAllMemberships(t *testing.T) {
	registry := newTestRegistry(8)

	staff, err := registry.Register(&fakeSink{}, "staff:s1")
	require.NoError(t, err)
	require.NoError(t, registry.JoinRoom(staff.ID, domain.StaffRoom))
	require.NoError(t, registry.JoinRoom(staff.ID, domain.ChatRoom("u1")))

	registry.Unregister(staff.ID)

	assert.Empty(t, registry.MembersOf(domain.StaffRoom))
	assert.Empty(t, registry.MembersOf(domain.ChatRoom("u1")))
	assert.False(t, registry.InRoom(staff.ID, domain.StaffRoom))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	registry := newTestRegistry(8)

	conn, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)

	registry.Unregister(conn.ID)
	registry.Unregister(conn.ID)
}

func TestConnectionGaugeTracksLifecycle(t *testing.T) {
	metrics := observability.NewMetrics()
	registry := NewRegistry(stubVerifier{}, 8, zap.NewNop(), metrics)

	connA, err := registry.Register(&fakeSink{}, "u1")
	require.NoError(t, err)
	_, err = registry.Register(&fakeSink{}, "staff:s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.LiveConnections())

	registry.Unregister(connA.ID)
	assert.Equal(t, int64(1), metrics.LiveConnections())

	registry.CloseAll()
	assert.Equal(t, int64(0), metrics.LiveConnections())
}

func TestCloseAllTearsDownConnections(t *testing.T) {
	registry := newTestRegistry(8)

	sink := &fakeSink{}
	conn, err := registry.Register(sink, "u1")
	require.NoError(t, err)
	require.NoError(t, registry.JoinRoom(conn.ID, domain.ChatRoom("u1")))

	done := make(chan struct{})
	go func() {
		conn.WritePump()
		close(done)
	}()

	registry.CloseAll()
	<-done

	assert.Empty(t, registry.MembersOf(domain.ChatRoom("u1")))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}
