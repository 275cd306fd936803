// Package requests tracks which reply request is current for each session
// so that stale or duplicated work can be recognised and dropped.
package requests

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// inboundMemory bounds how many client request ids are remembered per
// session for duplicate detection.
const inboundMemory = 64

type sessionState struct {
	current string

	inbound      map[string]struct{}
	inboundOrder []string
}

type Correlator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	now      func() time.Time
}

func NewCorrelator() *Correlator {
	return &Correlator{
		sessions: map[string]*sessionState{},
		now:      time.Now,
	}
}

func (c *Correlator) session(id string) *sessionState {
	state, ok := c.sessions[id]
	if !ok {
		state = &sessionState{
			inbound: map[string]struct{}{},
		}
		c.sessions[id] = state
	}
	return state
}

// NewRequest issues a fresh request id and makes it the session's current
// one. Ids combine a millisecond timestamp with a random suffix.
func (c *Correlator) NewRequest(session string) string {
	id := strconv.FormatInt(c.now().UnixMilli(), 10) + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session(session).current = id
	return id
}

func (c *Correlator) IsCurrent(session, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.sessions[session]
	return ok && id != "" && state.current == id
}

// Current returns the session's current request id, empty when idle.
func (c *Correlator) Current(session string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.sessions[session]; ok {
		return state.current
	}
	return ""
}

// Retire ends the request. Only the first retire of the current id reports
// true; repeated or stale retires are no-ops.
func (c *Correlator) Retire(session, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.sessions[session]
	if !ok || id == "" || state.current != id {
		return false
	}
	state.current = ""
	return true
}

// AcceptInbound reports whether a client supplied request id is seen for the
// first time. Empty ids are always accepted.
func (c *Correlator) AcceptInbound(session, clientRequestID string) bool {
	if clientRequestID == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.session(session)
	if _, seen := state.inbound[clientRequestID]; seen {
		return false
	}
	state.inbound[clientRequestID] = struct{}{}
	state.inboundOrder = append(state.inboundOrder, clientRequestID)
	if len(state.inboundOrder) > inboundMemory {
		delete(state.inbound, state.inboundOrder[0])
		state.inboundOrder = state.inboundOrder[1:]
	}
	return true
}

func (c *Correlator) Forget(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, session)
}
