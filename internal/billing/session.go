package billing

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
)

type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// Session is one operator's billing flow. Its cart is never shared; the mutex
// only serializes requests that arrive for the same session.
type Session struct {
	mu       sync.Mutex
	id       string
	operator string
	openedAt time.Time
	cart     Cart
	state    State
	closed   bool
}

func newSession(operator string, now time.Time) *Session {
	return &Session{
		id:       uuid.NewString(),
		operator: operator,
		openedAt: now,
		state:    StateEmpty,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Operator() string {
	return s.operator
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) View() domain.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() domain.CartView {
	return domain.CartView{
		SessionID:  s.id,
		Operator:   s.operator,
		State:      s.state.String(),
		Lines:      s.cart.Lines(),
		ItemCount:  s.cart.ItemCount(),
		GrandTotal: s.cart.GrandTotal(),
	}
}

// Decorate pairs each product with the stock this session can still add.
func (s *Session) Decorate(products []domain.Product) []domain.ProductMatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]domain.ProductMatch, 0, len(products))
	for _, p := range products {
		matches = append(matches, domain.ProductMatch{Product: p, Available: s.cart.Available(p)})
	}
	return matches
}

// Add merges qty units of product into the cart and returns the refreshed
// view with the product's remaining availability.
func (s *Session) Add(product domain.Product, qty int) (domain.CartView, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.CartView{}, 0, apperr.NotFound("session", s.id)
	}
	if s.state == StateCommitting {
		return domain.CartView{}, 0, apperr.Conflict("checkout in progress")
	}
	if _, err := s.cart.Add(product, qty); err != nil {
		return domain.CartView{}, 0, err
	}
	s.state = StateBuilding
	return s.viewLocked(), s.cart.Available(product), nil
}

func (s *Session) Remove(code string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.CartView{}, apperr.NotFound("session", s.id)
	}
	if s.state == StateCommitting {
		return domain.CartView{}, apperr.Conflict("checkout in progress")
	}
	if err := s.cart.Remove(code); err != nil {
		return domain.CartView{}, err
	}
	if s.cart.Len() == 0 {
		s.state = StateEmpty
	}
	return s.viewLocked(), nil
}

// BeginCommit moves the session to Committing and hands back the lines to
// persist. The cart stays intact until FinishCommit.
func (s *Session) BeginCommit() ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, apperr.NotFound("session", s.id)
	case s.state == StateCommitting:
		return nil, apperr.Conflict("checkout in progress")
	case s.cart.Len() == 0:
		return nil, apperr.Validation("cart", "is empty")
	}
	s.state = StateCommitting
	return s.cart.Lines(), nil
}

// FinishCommit clears the cart after a successful commit, or returns the
// session to Building with the cart unchanged after a rollback.
func (s *Session) FinishCommit(committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCommitting {
		return
	}
	if committed {
		s.cart.Clear()
		s.state = StateEmpty
		return
	}
	s.state = StateBuilding
}

// Registry holds the open billing sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (r *Registry) Open(operator string) *Session {
	session := newSession(operator, r.now().UTC())

	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()
	return session
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	return session, nil
}

// Close drops the session and whatever its cart held.
func (r *Registry) Close(id string) error {
	return r.CloseIf(id, func(State) error { return nil })
}

// CloseIf drops the session only when check accepts its current state. The
// session stays locked from the check until it is marked closed, so no commit
// can begin in between.
func (r *Registry) CloseIf(id string, check func(State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return apperr.NotFound("session", id)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := check(session.state); err != nil {
		return err
	}
	session.closed = true
	delete(r.sessions, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
