package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/events"
	"github.com/spec-kit/dealer-support/internal/observability"
	"github.com/spec-kit/dealer-support/internal/realtime"
	"github.com/spec-kit/dealer-support/internal/repository"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// memTicketRepo is an in-memory TicketRepository. Setting casConflict makes
// the next CompareAndSetStatus report a lost race.
type memTicketRepo struct {
	mu          sync.Mutex
	tickets     map[string]*domain.Ticket
	casConflict bool
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	return nil
}

func (r *memTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *memTicketRepo) GetByExternalKey(_ context.Context, key string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.ExternalKey == key {
			copied := *ticket
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memTicketRepo) CompareAndSetStatus(_ context.Context, id string, expected, next domain.TicketStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.casConflict {
		r.casConflict = false
		return false, nil
	}
	ticket, ok := r.tickets[id]
	if !ok || ticket.Status != expected {
		return false, nil
	}
	ticket.Status = next
	ticket.UpdatedAt = time.Now()
	return true, nil
}

func (r *memTicketRepo) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now()
	return nil
}

func (r *memTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.OwnerID != nil && ticket.OwnerID != *filter.OwnerID {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if ticket.Status == status {
					matched = true
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, *ticket)
	}
	// Most recently active first, matching the store query.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memTicketMsgRepo struct {
	mu   sync.Mutex
	msgs []domain.TicketMessage
}

func (r *memTicketMsgRepo) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	r.msgs = append(r.msgs, *msg)
	return nil
}

func (r *memTicketMsgRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketMessage
	for _, msg := range r.msgs {
		if msg.TicketID == ticketID {
			out = append(out, msg)
		}
	}
	return out, nil
}

var (
	asCustomer = domain.Identity{ID: "u1", IsStaff: false}
	asStranger = domain.Identity{ID: "u2", IsStaff: false}
	asStaff    = domain.Identity{ID: "s1", IsStaff: true}
)

func newTicketFixture() (*TicketService, *memTicketRepo, *memTicketMsgRepo) {
	repo := newMemTicketRepo()
	msgs := &memTicketMsgRepo{}
	svc := NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		MessageRepo: msgs,
		Dispatcher:  events.NewInMemoryDispatcher(),
	})
	return svc, repo, msgs
}

func TestCreateTicketStartsOpen(t *testing.T) {
	svc, _, _ := newTicketFixture()

	ticket, err := svc.Create(context.Background(), asCustomer, "  نیاز به کمک  ", "the car alarm keeps going off")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "u1", ticket.OwnerID)
	assert.Equal(t, "نیاز به کمک", ticket.Title)
	assert.True(t, strings.HasPrefix(ticket.ExternalKey, "TCK-"))
	assert.Len(t, ticket.ExternalKey, len("TCK-")+8)
}

func TestCreateTicketValidation(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, asCustomer, "   ", "desc")
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))

	_, err = svc.Create(ctx, asCustomer, "title", "")
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))
}

func TestSetStatusFollowsLifecycle(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "نیاز به کمک", "need help with my order")
	require.NoError(t, err)

	ticket, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)

	// There is no way back to OPEN.
	_, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusOpen)
	assert.Equal(t, "INVALID_TRANSITION", apperrors.CodeOf(err))

	ticket, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, ticket.Status)

	// A resolved ticket can be reopened into IN_PROGRESS or closed.
	ticket, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, ticket.Status)

	ticket, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatus("ARCHIVED"))
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))
}

func TestSetStatusAccessControl(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, asStranger, ticket.ID, domain.TicketStatusClosed)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))

	// The owner may transition their own ticket.
	_, err = svc.SetStatus(ctx, asCustomer, ticket.ID, domain.TicketStatusClosed)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, asStaff, uuid.NewString(), domain.TicketStatusClosed)
	assert.Equal(t, "NOT_FOUND", apperrors.CodeOf(err))
}

func TestSetStatusLostRaceSurfacesAsInvalidTransition(t *testing.T) {
	svc, repo, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)

	repo.casConflict = true
	_, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusInProgress)
	assert.Equal(t, "INVALID_TRANSITION", apperrors.CodeOf(err))

	// The stored status is untouched and the transition succeeds on retry.
	stored, err := repo.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)

	_, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
}

func TestAppendMessageKeepsStatus(t *testing.T) {
	svc, repo, msgs := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)

	msg, err := svc.AppendMessage(ctx, asStaff, ticket.ID, "we are looking into it")
	require.NoError(t, err)
	assert.True(t, msg.IsStaffReply)
	assert.Equal(t, "s1", msg.SenderID)

	stored, err := repo.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)

	thread, err := msgs.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _, _ := newTicketFixture()
	svc.maxLength = 10
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, asCustomer, ticket.ID, "  ")
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))

	_, err = svc.AppendMessage(ctx, asCustomer, ticket.ID, strings.Repeat("x", 11))
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))

	_, err = svc.AppendMessage(ctx, asStranger, ticket.ID, "hello")
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))
}

func TestAppendMessageBumpsActivityOrder(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	first, err := svc.Create(ctx, asCustomer, "first", "desc")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := svc.Create(ctx, asCustomer, "second", "desc")
	require.NoError(t, err)

	listed, err := svc.ListMine(ctx, asCustomer, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID)

	// A new reply moves the older ticket back to the top.
	time.Sleep(2 * time.Millisecond)
	_, err = svc.AppendMessage(ctx, asStaff, first.ID, "any update?")
	require.NoError(t, err)

	listed, err = svc.ListMine(ctx, asCustomer, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
}

func TestListMineScopesToOwnerUnlessStaff(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	_, err := svc.Create(ctx, asCustomer, "mine", "desc")
	require.NoError(t, err)
	_, err = svc.Create(ctx, asStranger, "theirs", "desc")
	require.NoError(t, err)

	mine, err := svc.ListMine(ctx, asCustomer, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "u1", mine[0].OwnerID)

	all, err := svc.ListMine(ctx, asStaff, nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListMineFiltersByStatus(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	open, err := svc.Create(ctx, asCustomer, "still open", "desc")
	require.NoError(t, err)
	closed, err := svc.Create(ctx, asCustomer, "already done", "desc")
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, asStaff, closed.ID, domain.TicketStatusClosed)
	require.NoError(t, err)

	listed, err := svc.ListMine(ctx, asCustomer, []domain.TicketStatus{domain.TicketStatusOpen}, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, open.ID, listed[0].ID)

	_, err = svc.ListMine(ctx, asCustomer, []domain.TicketStatus{"ARCHIVED"}, 10, 0)
	assert.Equal(t, "INVALID_ARGUMENT", apperrors.CodeOf(err))
}

func TestGetByKeyResolvesTicket(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, asCustomer, ticket.ID, "details attached")
	require.NoError(t, err)

	got, thread, err := svc.GetByKey(ctx, asCustomer, ticket.ExternalKey)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
	require.Len(t, thread, 1)

	_, _, err = svc.GetByKey(ctx, asStranger, ticket.ExternalKey)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))

	_, _, err = svc.GetByKey(ctx, asStaff, "TCK-MISSING1")
	assert.Equal(t, "NOT_FOUND", apperrors.CodeOf(err))
}

func TestMessagePreviewKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "short", stringPreview("short", 120))
	assert.Equal(t, "trimmed", stringPreview("   trimmed  ", 120))

	persian := strings.Repeat("ک", 10)
	got := stringPreview(persian, 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ک", 4)+"...", got)

	assert.Equal(t, "کم", stringPreview("کمک خواستن", 2))
}

func TestGetReturnsThread(t *testing.T) {
	svc, _, _ := newTicketFixture()
	ctx := context.Background()

	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, asCustomer, ticket.ID, "ping")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, asStaff, ticket.ID, "pong")
	require.NoError(t, err)

	got, thread, err := svc.Get(ctx, asCustomer, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)
	require.Len(t, thread, 2)
	assert.Equal(t, "ping", thread[0].Content)
	assert.Equal(t, "pong", thread[1].Content)

	_, _, err = svc.Get(ctx, asStranger, ticket.ID)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))
}

// Lifecycle events reach staff connections as ticket.updated pushes.
func TestTicketEventsReachStaffRoom(t *testing.T) {
	registry := realtime.NewRegistry(tokenVerifier{}, 64, zap.NewNop(), observability.NewMetrics())
	broadcaster := realtime.NewBroadcaster(registry, zap.NewNop(), observability.NewMetrics())
	dispatcher := events.NewInMemoryDispatcher()

	NewNotificationService(dispatcher, broadcaster, zap.NewNop()).RegisterHandlers()

	svc := NewTicketService(TicketDependencies{
		TicketRepo:  newMemTicketRepo(),
		MessageRepo: &memTicketMsgRepo{},
		Dispatcher:  dispatcher,
	})

	sink := &memSink{}
	conn, err := registry.Register(sink, "staff:s1")
	require.NoError(t, err)
	require.NoError(t, registry.JoinRoom(conn.ID, domain.StaffRoom))

	ctx := context.Background()
	ticket, err := svc.Create(ctx, asCustomer, "title", "desc")
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, asStaff, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, asStaff, ticket.ID, "taking this one")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		conn.WritePump()
		close(done)
	}()
	registry.Unregister(conn.ID)
	<-done

	pushed := sink.events(t)
	require.Len(t, pushed, 3)
	kinds := make([]string, 0, len(pushed))
	for _, evt := range pushed {
		require.Equal(t, realtime.EventTicketUpdated, evt.Event)
		var view TicketUpdateView
		require.NoError(t, json.Unmarshal(evt.Payload, &view))
		assert.Equal(t, ticket.ID, view.TicketID)
		kinds = append(kinds, view.Kind)
	}
	assert.Equal(t, []string{
		string(events.EventTicketCreated),
		string(events.EventTicketStatusChanged),
		string(events.EventTicketMessageAppended),
	}, kinds)
}
