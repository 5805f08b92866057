package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

// Conn is the sending half of a relay connection.
type Conn interface {
	Send(msg api.Message) error
	Close() error
}

// Session is the relay state of one code. Its mutex serializes every frame
// and the teardown for that code.
type Session struct {
	Code  string
	Owner string

	registry *Registry

	mu      sync.Mutex
	state   State
	conns   [2]Conn
	touched time.Time
	closed  bool
}

// ErrSessionClosed is returned by Apply after teardown.
var ErrSessionClosed = errors.New("relay session closed")

// Apply runs one frame through Transition and delivers the resulting
// actions. done is set when the pairing finished and was torn down.
func (s *Session) Apply(from Role, msg api.Message) (done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true, ErrSessionClosed
	}

	next, actions, err := Transition(s.state, from, msg)
	if err != nil {
		return false, err
	}
	s.state = next
	s.touched = s.registry.now()

	for _, a := range actions {
		targets := []Role{from.peer()}
		if a.To == ToBoth {
			targets = []Role{RoleNew, RoleOld}
		}
		for _, r := range targets {
			if c := s.conns[r]; c != nil {
				if err := c.Send(a.Msg); err != nil {
					return false, err
				}
			}
		}
		if a.Close {
			s.teardownLocked(nil)
			return true, nil
		}
	}
	return false, nil
}

// Stage reports the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stage
}

// Teardown closes both connections and drops the code. When reason is not
// nil the still-open sides get an error frame first. It is safe to call
// more than once and from either side.
func (s *Session) Teardown(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(reason)
}

func (s *Session) teardownLocked(reason error) {
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.conns {
		if c == nil {
			continue
		}
		if reason != nil {
			_ = c.Send(api.Message{Type: api.MsgError, Msg: reason.Error()})
		}
		_ = c.Close()
	}
	s.registry.Remove(s.Code)
}

// Registry indexes live sessions by code.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, now: time.Now, sessions: make(map[string]*Session)}
}

// Allocate issues a fresh code for a new device owned by owner. The code is
// generated and inserted under the registry lock, so two callers can never
// receive the same code.
func (r *Registry) Allocate(owner string, conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.sessions[code]; taken {
			continue
		}
		s := &Session{Code: code, Owner: owner, registry: r, touched: r.now()}
		s.conns[RoleNew] = conn
		r.sessions[code] = s
		return s, nil
	}
}

// Pair attaches an old device to a waiting code. A code issued to another
// account looks exactly like an unknown one.
func (r *Registry) Pair(code, owner string, conn Conn) (*Session, error) {
	s, ok := r.Get(code)
	if !ok || s.Owner != owner {
		return nil, common.ErrCodeNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrCodeNotFound
	}
	if s.conns[RoleOld] != nil || s.state.Stage != AwaitingPeer {
		return nil, common.ErrAlreadyPaired
	}
	s.conns[RoleOld] = conn
	s.touched = r.now()
	return s, nil
}

func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[code]
	return s, ok
}

func (r *Registry) Remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, code)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep tears down sessions idle for longer than the TTL and returns how
// many went away.
func (r *Registry) Sweep(now time.Time) int {
	// snapshot first: teardown takes the session lock and then the registry lock
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range all {
		s.mu.Lock()
		if !s.closed && now.Sub(s.touched) > r.ttl {
			s.teardownLocked(errCodeExpired)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

var errCodeExpired = errors.New("migration code expired")

// CloseAll tears down every live session, e.g. on shutdown.
func (r *Registry) CloseAll(reason error) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Teardown(reason)
	}
}
