package httpapi

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "concierge_sessions_active",
	Help: "Number of unexpired login sessions",
})

//SessionStore is an interface to an arbitrary session backend.
type SessionStore interface {
	//Create returns a new sessionID with the given User id. If the backend malfunctions,
	//sessionID will be an empty string and err will be non-nil.
	Create(userID int64) (sessionID string, err error)

	//Check returns whether or not sessionID is a valid session.
	//If sessionID is not valid, session will be nil.
	//If the backend malfunctions, session will be nil and err will be non-nil.
	Check(sessionID string) (session *Session, err error)
}

//Session represents a login session
type Session struct {
	UserID  int64
	Expires time.Time
}

//MemorySessionStore represents a SessionStore that uses an in-memory map.
//Sessions slide: every successful Check extends the expiration.
type MemorySessionStore struct {
	store    map[string]*Session
	duration time.Duration
	now      func() time.Time
	mu       *sync.Mutex
}

//scavenge removes stale records every interval until ctx is done
func (m *MemorySessionStore) scavenge(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.removeExpired()
		}
	}
}

func (m *MemorySessionStore) removeExpired() {
	now := m.now()
	m.mu.Lock()
	for id, s := range m.store {
		if s.Expires.Before(now) {
			delete(m.store, id)
		}
	}
	sessionsActive.Set(float64(len(m.store)))
	m.mu.Unlock()
}

//NewMemorySessionStore returns a new MemorySessionStore with the given expiration duration.
//Expired sessions are removed hourly until ctx is done.
func NewMemorySessionStore(ctx context.Context, duration time.Duration) *MemorySessionStore {
	m := &MemorySessionStore{
		store:    make(map[string]*Session),
		duration: duration,
		now:      time.Now,
		mu:       new(sync.Mutex),
	}
	go m.scavenge(ctx, time.Hour)
	return m
}

//newSessionKey returns 64 hex characters from two random UUIDs
func newSessionKey() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

//Create returns a new sessionID with the given User id. err will always be nil.
func (m *MemorySessionStore) Create(userID int64) (sessionID string, err error) {
	id := newSessionKey()
	m.mu.Lock()
	m.store[id] = &Session{
		UserID:  userID,
		Expires: m.now().Add(m.duration),
	}
	sessionsActive.Set(float64(len(m.store)))
	m.mu.Unlock()
	return id, nil
}

//Check returns whether or not sessionID is a valid session. If sessionID is not valid, session will be nil.
//err will always be nil.
func (m *MemorySessionStore) Check(sessionID string) (session *Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.store[sessionID]; ok {
		now := m.now()
		if s.Expires.After(now) {
			s.Expires = now.Add(m.duration)
			cp := *s
			return &cp, nil
		}
		delete(m.store, sessionID)
		sessionsActive.Set(float64(len(m.store)))
	}
	return nil, nil
}
