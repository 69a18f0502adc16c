// Package broker is the illustrative message bus the stomp-tcpd and
// stomp-wsd daemons use to fan a SEND out to every other connected
// session subscribed to the same destination. It sits outside the
// core engine packages entirely: internal/server knows nothing about
// it, and a different embedder is free to replace it with a real
// broker backend.
package broker

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/life-stream-dev/stomp-engine/internal/logger"
	"github.com/life-stream-dev/stomp-engine/internal/server"
)

// Session couples one connected client's server engine with the
// subscription bookkeeping the broker needs to address it: which
// destination maps to which subscription id on THIS connection (every
// connection mints its own ids independently).
type Session struct {
	ID     string
	Engine *server.Engine

	mu   sync.Mutex
	subs map[string]string // destination -> subscription id
}

// NewSession wraps engine for registration with a Registry.
func NewSession(id string, engine *server.Engine) *Session {
	return &Session{ID: id, Engine: engine, subs: make(map[string]string)}
}

// AddSub records that this session's destination is now addressed by
// subscription id. Call from the embedder's OnSubscribe callback.
func (s *Session) AddSub(id, destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[destination] = id
}

// RemoveSub forgets a destination. Call from OnUnsubscribe.
func (s *Session) RemoveSub(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, destination)
}

func (s *Session) subscriptionID(destination string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.subs[destination]
	return id, ok
}

// Registry tracks every connected Session and implements fan-out
// delivery. Safe for concurrent use by multiple connection goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seen     *lru.Cache[string, struct{}]
}

// NewRegistry builds an empty Registry. dedupSize bounds the recently-
// delivered message-id cache used only to downgrade repeat-delivery
// log lines from warnings to debug noise; it has no bearing on
// protocol correctness.
func NewRegistry(dedupSize int) *Registry {
	if dedupSize <= 0 {
		dedupSize = 1
	}
	cache, _ := lru.New[string, struct{}](dedupSize)
	return &Registry{sessions: make(map[string]*Session), seen: cache}
}

// Add registers a newly connected session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	logger.InfoF("session %s connected (%d active)", s.ID, len(r.sessions))
}

// Remove drops a session, typically called once its transport closes.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	logger.InfoF("session %s disconnected (%d active)", id, len(r.sessions))
}

// Publish delivers body to every other connected session subscribed to
// destination, via each target's own server.Engine.Message. It returns
// the number of sessions the message was actually handed to.
func (r *Registry) Publish(originID, destination, contentType string, body []byte) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == originID {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		subID, ok := s.subscriptionID(destination)
		if !ok {
			continue
		}
		headers := map[string]string{
			"destination":  destination,
			"content-type": contentType,
			"subscription": subID,
		}
		messageID, _, err := s.Engine.Message(headers, body)
		if err != nil {
			logger.WarnF("session %s: delivery to %s failed: %v", s.ID, destination, err)
			continue
		}
		delivered++
		if _, dup := r.seen.Get(messageID); dup {
			logger.DebugF("session %s: redelivered %s", s.ID, messageID)
		} else {
			r.seen.Add(messageID, struct{}{})
			logger.DebugF("session %s: delivered %s", s.ID, messageID)
		}
	}
	return delivered
}
