package runtime

import (
	"cmp"
	"slices"

	"hire-chat/contract"
	"hire-chat/domain"
)

type Set map[domain.SessionID]struct{}

// Presence tracks the sessions joined to one room.
// It is owned by the room goroutine and is not safe for concurrent use.
type Presence struct {
	sessions map[domain.SessionID]contract.Session // map session -> Sink
	users    map[domain.UserID]Set                 // map user to sessions
	remote   map[domain.UserID]struct{}            // users online on other processes
}

func NewPresence() *Presence {
	return &Presence{
		sessions: make(map[domain.SessionID]contract.Session),
		users:    make(map[domain.UserID]Set),
		remote:   make(map[domain.UserID]struct{}),
	}
}

// Add registers the session. first is true when it is the user's first session in the room.
func (p *Presence) Add(session contract.Session) (added, first bool) {
	if _, ok := p.sessions[session.ID()]; ok {
		return false, false
	}
	p.sessions[session.ID()] = session

	userID := session.UserID()
	if _, ok := p.users[userID]; !ok {
		p.users[userID] = make(Set)
		first = true
	}
	p.users[userID][session.ID()] = struct{}{}
	return true, first
}

// Remove drops the session. last is true when the user has no session left in the room.
func (p *Presence) Remove(sessionID domain.SessionID) (userID domain.UserID, removed, last bool) {
	session, ok := p.sessions[sessionID]
	if !ok {
		return "", false, false
	}
	delete(p.sessions, sessionID)

	userID = session.UserID()
	if sessions, ok := p.users[userID]; ok {
		delete(sessions, sessionID)
		// No empty sets are left behind
		if len(sessions) == 0 {
			delete(p.users, userID)
			last = true
		}
	}
	return userID, true, last
}

func (p *Presence) Has(sessionID domain.SessionID) bool {
	_, ok := p.sessions[sessionID]
	return ok
}

func (p *Presence) Online(userID domain.UserID) bool {
	_, ok := p.users[userID]
	return ok
}

// Sessions returns the joined sessions in a stable order.
func (p *Presence) Sessions() []contract.Session {
	res := make([]contract.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		res = append(res, s)
	}
	slices.SortFunc(res, func(a, b contract.Session) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return res
}

// Members returns every online user, local or remote, sorted.
func (p *Presence) Members() []domain.UserID {
	res := make([]domain.UserID, 0, len(p.users)+len(p.remote))
	for userID := range p.users {
		res = append(res, userID)
	}
	for userID := range p.remote {
		if _, local := p.users[userID]; !local {
			res = append(res, userID)
		}
	}
	slices.Sort(res)
	return res
}

func (p *Presence) SetRemote(userID domain.UserID, online bool) {
	if online {
		p.remote[userID] = struct{}{}
		return
	}
	delete(p.remote, userID)
}

func (p *Presence) Empty() bool {
	return len(p.sessions) == 0
}
