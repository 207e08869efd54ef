package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/chat/chattest"
	"github.com/iliyamo/event-seat-bot/internal/logging"
	"github.com/iliyamo/event-seat-bot/internal/model"
	"github.com/iliyamo/event-seat-bot/internal/repository"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/reservation/reservationtest"
)

const staff = "-100"

type catalog struct{}

func (catalog) GetByID(_ context.Context, id uint64) (model.ScheduledEvent, error) {
	if id != 1 {
		return model.ScheduledEvent{}, repository.ErrNotFound
	}
	return model.ScheduledEvent{ID: 1, EventID: 3, StartsAt: time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC)}, nil
}

func (catalog) GetEvent(_ context.Context, id uint64) (model.Event, error) {
	return model.Event{ID: id, Title: "Puppet theatre"}, nil
}

type fixture struct {
	h         *reservationtest.Harness
	chat      *chattest.Recorder
	approvals *MemoryApprovalStore
	ch        *Channel
	res       model.Reservation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := reservationtest.NewHarness(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	h.Seed(1, model.Counters{ChildTotal: 5, ChildFree: 5, AdultTotal: 5, AdultFree: 5})
	h.Tickets[1] = model.TicketType{ID: 1, Name: "Family", Seats: model.Seats{Child: 2, Adult: 1}, PriceCents: 3000}
	f := &fixture{h: h, chat: &chattest.Recorder{}, approvals: NewMemoryApprovalStore()}
	f.ch = NewChannel(staff, f.chat, h.Service, f.approvals, catalog{}, h.Tickets, h.Clock, logging.Discard())

	res, err := h.Service.Create(context.Background(), reservation.CreateRequest{
		TicketTypeID: 1, ScheduledEventID: 1, ChatID: 77,
		People: []model.Person{{FullName: "Anna Smith", Role: model.RoleBuyer, Phone: "+4915112345678", Email: "anna@example.com"}},
	})
	require.NoError(t, err)
	f.res = res
	return f
}

func TestRequestApprovalPostsButtons(t *testing.T) {
	f := newFixture(t)
	receipt := &chat.Attachment{FileID: "file-1", MIME: "image/jpeg"}
	require.NoError(t, f.ch.RequestApproval(context.Background(), f.res, receipt))

	msg, ok := f.chat.Last(staff)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "Reservation #1")
	assert.Contains(t, msg.Text, "Puppet theatre")
	assert.Contains(t, msg.Text, "Ticket: Family")
	assert.Contains(t, msg.Text, "Buyer: Anna Smith")
	assert.Contains(t, msg.Text, "receipt")
	require.Len(t, msg.Options, 2)
	assert.Equal(t, "approve:1", msg.Options[0].Value)
	assert.Equal(t, "reject:1", msg.Options[1].Value)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, 1, f.approvals.Len())

	waiting, err := f.ch.AwaitingDecision(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, waiting)
}

func TestApproveSendsTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ch.RequestApproval(ctx, f.res, nil))
	ref := f.chat.LastRef(staff)

	changed, err := f.ch.HandleClick(ctx, chat.Inbound{SessionID: staff, Kind: chat.KindButton, Payload: "approve:1", MessageRef: ref, UserID: 5})
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, model.StatusApproved, f.h.Repo.Status(1))
	assert.Equal(t, []string{ref}, f.chat.Cleared)
	buyer, ok := f.chat.Last("77")
	require.True(t, ok)
	assert.Contains(t, buyer.Text, "confirmed")
	require.Len(t, buyer.Attachments, 2)
	assert.Equal(t, "image/png", buyer.Attachments[0].MIME)
	assert.Equal(t, "application/pdf", buyer.Attachments[1].MIME)

	c := f.h.DB.Get(1)
	assert.Equal(t, 3, c.ChildFree)
	assert.Zero(t, c.ChildPending)
}

func TestRejectReleasesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ch.RequestApproval(ctx, f.res, nil))

	changed, err := f.ch.HandleClick(ctx, chat.Inbound{SessionID: staff, Payload: "reject:1", MessageRef: f.chat.LastRef(staff)})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StatusRejected, f.h.Repo.Status(1))
	assert.Equal(t, 5, f.h.DB.Get(1).ChildFree)
	buyer, _ := f.chat.Last("77")
	assert.Contains(t, buyer.Text, "declined")
}

func TestDoubleClickIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ch.RequestApproval(ctx, f.res, nil))
	ref := f.chat.LastRef(staff)
	applies := f.h.DB.ApplyCount()

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := f.ch.HandleClick(ctx, chat.Inbound{SessionID: staff, Payload: "approve:1", MessageRef: ref})
			assert.NoError(t, err)
			results <- changed
		}()
	}
	wg.Wait()
	close(results)
	n := 0
	for changed := range results {
		if changed {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, applies+1, f.h.DB.ApplyCount())
	assert.Len(t, f.chat.To("77"), 1)

	// A later click on the already answered message changes nothing.
	before := f.chat.Len()
	changed, err := f.ch.HandleClick(ctx, chat.Inbound{SessionID: staff, Payload: "reject:1", MessageRef: ref})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusApproved, f.h.Repo.Status(1))
	assert.Equal(t, before, f.chat.Len())
}

func TestClickWithoutRecordIsIgnored(t *testing.T) {
	f := newFixture(t)
	changed, err := f.ch.HandleClick(context.Background(), chat.Inbound{SessionID: staff, Payload: "approve:1", MessageRef: "staff:99"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusCreated, f.h.Repo.Status(1))
	assert.Zero(t, f.chat.Len())
}

func TestParseAction(t *testing.T) {
	a, id, ok := ParseAction("approve:12")
	assert.True(t, ok)
	assert.Equal(t, "approve", a)
	assert.Equal(t, uint64(12), id)
	for _, v := range []string{"approve", "delete:1", "reject:x", ""} {
		_, _, ok := ParseAction(v)
		assert.False(t, ok, v)
	}
}

func TestRedisApprovalStoreTakeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisApprovalStore(rdb, "", time.Hour)
	ctx := context.Background()

	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, "-100:5", Approval{ReservationID: 9, RequestedAt: at}))
	assert.True(t, mr.Exists("seatbot:approval:-100:5"))
	waiting, err := store.Outstanding(ctx, 9)
	require.NoError(t, err)
	assert.True(t, waiting)

	a, ok, err := store.Take(ctx, "-100:5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), a.ReservationID)
	assert.True(t, at.Equal(a.RequestedAt))

	waiting, err = store.Outstanding(ctx, 9)
	require.NoError(t, err)
	assert.False(t, waiting)

	_, ok, err = store.Take(ctx, "-100:5")
	require.NoError(t, err)
	assert.False(t, ok)
}
