// Package chattest records outbound chat traffic for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

// Recorder is a chat.Sender that keeps every message.
type Recorder struct {
	mu      sync.Mutex
	next    int
	Sent    []chat.Outbound
	Refs    []string
	Cleared []string
	Fail    bool
}

func (r *Recorder) Send(_ context.Context, out chat.Outbound) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return "", fmt.Errorf("send to %s failed", out.SessionID)
	}
	r.next++
	ref := fmt.Sprintf("%s:%d", out.SessionID, r.next)
	r.Sent = append(r.Sent, out)
	r.Refs = append(r.Refs, ref)
	return ref, nil
}

func (r *Recorder) ClearControls(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cleared = append(r.Cleared, ref)
	return nil
}

// To returns the messages sent to one session.
func (r *Recorder) To(sessionID string) []chat.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.Outbound
	for _, m := range r.Sent {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the last message sent to a session.
func (r *Recorder) Last(sessionID string) (chat.Outbound, bool) {
	msgs := r.To(sessionID)
	if len(msgs) == 0 {
		return chat.Outbound{}, false
	}
	return msgs[len(msgs)-1], true
}

// LastRef returns the reference of the last message sent to a session.
func (r *Recorder) LastRef(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Sent) - 1; i >= 0; i-- {
		if r.Sent[i].SessionID == sessionID {
			return r.Refs[i]
		}
	}
	return ""
}

// Len returns the number of messages sent.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
