package session

import "sync"

// Registry holds the live teller sessions keyed by their auth token. Each
// session gets its own Queue from the factory so subscriptions stay
// per-session.
type Registry struct {
	mu       sync.Mutex
	factory  func() Queue
	sessions map[string]*Controller
}

func NewRegistry(factory func() Queue) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*Controller),
	}
}

func (r *Registry) Get(token string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	controller, ok := r.sessions[token]
	return controller, ok
}

// GetOrCreate returns the session for token, creating one on first use.
func (r *Registry) GetOrCreate(token, identity, counter string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if controller, ok := r.sessions[token]; ok {
		return controller
	}
	controller := New(r.factory(), identity, counter)
	r.sessions[token] = controller
	return controller
}

// Remove closes and drops the session for token, if present.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	controller, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()
	if ok {
		controller.Close()
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Controller, 0, len(r.sessions))
	for _, controller := range r.sessions {
		sessions = append(sessions, controller)
	}
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()
	for _, controller := range sessions {
		controller.Close()
	}
}
