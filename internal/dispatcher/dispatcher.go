// Package dispatcher serializes inbound chat events per session.  Each
// session gets a FIFO queue drained by its own goroutine, so events of one
// session never overlap while different sessions run side by side.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Handler processes one event.  It runs on the session's worker.
type Handler func(ctx context.Context, ev chat.Inbound)

type queue struct {
	events []chat.Inbound
}

// Dispatcher fans events out to per-session workers.  A worker exits when
// its queue is empty and is started again by the next event.
type Dispatcher struct {
	handle Handler
	log    *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queues  map[string]*queue
	stopped bool
	wg      sync.WaitGroup
}

func New(handle Handler, logger *log.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{handle: handle, log: logger, ctx: ctx, cancel: cancel, queues: make(map[string]*queue)}
}

// Submit queues ev behind the events already waiting for its session.
func (d *Dispatcher) Submit(ev chat.Inbound) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	q, running := d.queues[ev.SessionID]
	if !running {
		q = &queue{}
		d.queues[ev.SessionID] = q
	}
	q.events = append(q.events, ev)
	if !running {
		d.wg.Add(1)
		go d.work(ev.SessionID, q)
	}
	return nil
}

func (d *Dispatcher) work(key string, q *queue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.events) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()
		d.run(ev)
	}
}

func (d *Dispatcher) run(ev chat.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("session %s: %s event panicked: %v", ev.SessionID, ev.Kind, r)
		}
	}()
	d.handle(d.ctx, ev)
}

// Active returns the number of sessions with a running worker.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Stop rejects new events, lets the queued ones finish and waits for the
// workers.  The handler context is canceled once the workers are done or
// ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	defer d.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
