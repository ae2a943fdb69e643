package session

import "sync"

// Registry indexes live sessions by user id, giving the wire handlers a way
// to find a user's other connections (disconnectOtherSocketClients) and
// giving the broadcast scheduler a way to reach every authenticated session
// without threading a connection list through it by hand.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byUserID map[uint]map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Session),
		byUserID: make(map[uint]map[string]*Session),
	}
}

// Add registers a newly connected session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

// Remove unregisters a session, from both the id index and (if
// authenticated) the per-user index.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, s.ID())
	if s.IsAuthenticated() {
		if peers, ok := r.byUserID[s.UserID()]; ok {
			delete(peers, s.ID())
			if len(peers) == 0 {
				delete(r.byUserID, s.UserID())
			}
		}
	}
}

// MarkAuthenticated indexes an already-added session under its user id,
// once Authenticate has assigned it one. Call after Session.Authenticate.
func (r *Registry) MarkAuthenticated(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers, ok := r.byUserID[s.UserID()]
	if !ok {
		peers = make(map[string]*Session)
		r.byUserID[s.UserID()] = peers
	}
	peers[s.ID()] = s
}

// OthersForUser returns every registered session for userID other than
// exceptID, used to implement disconnectOtherSocketClients.
func (r *Registry) OthersForUser(userID uint, exceptID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := r.byUserID[userID]
	out := make([]*Session, 0, len(peers))
	for id, s := range peers {
		if id == exceptID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Authenticated returns every currently authenticated session, used by the
// broadcast scheduler to push stackList/agentStatus/etc to everyone.
func (r *Registry) Authenticated() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		if s.IsAuthenticated() {
			out = append(out, s)
		}
	}
	return out
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Count reports the number of currently connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
