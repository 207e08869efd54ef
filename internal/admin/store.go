package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Approval is an outstanding staff decision attached to one message.
type Approval struct {
	ReservationID uint64    `json:"reservation_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ApprovalStore keeps outstanding approvals keyed by message reference.
// Take removes and returns the record atomically so that only the first
// of several concurrent clicks gets it.  Outstanding reports whether any
// message still waits for a decision on a reservation.
type ApprovalStore interface {
	Put(ctx context.Context, messageRef string, a Approval) error
	Take(ctx context.Context, messageRef string) (Approval, bool, error)
	Outstanding(ctx context.Context, reservationID uint64) (bool, error)
}

// MemoryApprovalStore is an ApprovalStore for tests and single runs.
type MemoryApprovalStore struct {
	mu   sync.Mutex
	data map[string]Approval
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{data: make(map[string]Approval)}
}

func (m *MemoryApprovalStore) Put(_ context.Context, ref string, a Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ref] = a
	return nil
}

func (m *MemoryApprovalStore) Take(_ context.Context, ref string) (Approval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data[ref]
	delete(m.data, ref)
	return a, ok, nil
}

func (m *MemoryApprovalStore) Outstanding(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.data {
		if a.ReservationID == id {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of outstanding approvals.
func (m *MemoryApprovalStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// RedisApprovalStore keeps approvals in Redis so they survive restarts.
type RedisApprovalStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisApprovalStore stores records under prefix.  A zero ttl keeps
// them until taken.
func NewRedisApprovalStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisApprovalStore {
	if prefix == "" {
		prefix = "seatbot:approval"
	}
	return &RedisApprovalStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisApprovalStore) key(ref string) string { return r.prefix + ":" + ref }

func (r *RedisApprovalStore) byReservation(id uint64) string {
	return fmt.Sprintf("%s:reservation:%d", r.prefix, id)
}

// Put writes the record and a per-reservation counter used by
// Outstanding.
func (r *RedisApprovalStore) Put(ctx context.Context, ref string, a Approval) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key(ref), raw, r.ttl)
	pipe.Incr(ctx, r.byReservation(a.ReservationID))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.byReservation(a.ReservationID), r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisApprovalStore) Outstanding(ctx context.Context, id uint64) (bool, error) {
	n, err := r.rdb.Get(ctx, r.byReservation(id)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Take uses GETDEL, which is atomic on the server.
func (r *RedisApprovalStore) Take(ctx context.Context, ref string) (Approval, bool, error) {
	raw, err := r.rdb.GetDel(ctx, r.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Approval{}, false, nil
	}
	if err != nil {
		return Approval{}, false, err
	}
	var a Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return Approval{}, false, fmt.Errorf("approval %s: %w", ref, err)
	}
	if n, err := r.rdb.Decr(ctx, r.byReservation(a.ReservationID)).Result(); err == nil && n <= 0 {
		r.rdb.Del(ctx, r.byReservation(a.ReservationID))
	}
	return a, true, nil
}
