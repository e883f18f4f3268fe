package service

import (
	"sync"
	"time"
)

//History limits. Once more than HistoryCleanupThreshold events are held,
//only the most recent MaxHistory are kept.
const (
	MaxHistory              = 100
	HistoryCleanupThreshold = 120
)

//EventKind classifies a session Event
type EventKind string

//EventKinds
const (
	EventInput  EventKind = "input"
	EventAction EventKind = "action"
	EventOutput EventKind = "output"
)

//Event is an entry of a session's history
type Event struct {
	Kind      EventKind `json:"kind"`
	Name      string    `json:"name"`
	Detail    string    `json:"detail,omitempty"`
	ServiceID string    `json:"service_id"`
	At        time.Time `json:"at"`
}

//Session is the mutable state of one guided service: whether it is active, the current
//step, the data collected so far, and a bounded event history. Concrete services embed it.
type Session struct {
	mu        sync.Mutex
	serviceID string
	active    bool
	step      string
	data      map[string]any
	history   []Event
	trimmed   bool
	ctx       Context
	now       func() time.Time
}

//NewSession returns an empty, inactive Session for serviceID
func NewSession(serviceID string) *Session {
	return &Session{
		serviceID: serviceID,
		data:      make(map[string]any),
		now:       time.Now,
	}
}

//SetClock replaces the clock used to timestamp events
func (s *Session) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

//Now returns the session clock's current time
func (s *Session) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

//Reset records sc and puts the session at step with no collected data or history
func (s *Session) Reset(sc Context, step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = s.ctx.Merge(sc)
	s.step = step
	s.data = make(map[string]any)
	s.history = nil
	s.trimmed = false
}

//Clear drops collected data and history and marks the session inactive
func (s *Session) Clear(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.step = step
	s.data = make(map[string]any)
	s.history = nil
	s.trimmed = false
}

//Activate marks the session active
func (s *Session) Activate() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

//IsActive returns true if the session is active
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

//ServiceID returns the id of the service owning the session
func (s *Session) ServiceID() string {
	return s.serviceID
}

//Context returns the identifiers recorded by Reset
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

//Step returns the current step id
func (s *Session) Step() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

//SetStep moves the session to step
func (s *Session) SetStep(step string) {
	s.mu.Lock()
	s.step = step
	s.mu.Unlock()
}

//Set stores a collected value
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

//Get returns a collected value
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

//Data returns a copy of the collected values
func (s *Session) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

//AddEvent appends e to the history, stamping the time and service id.
//History may grow to HistoryCleanupThreshold entries; once that is exceeded it is trimmed
//to the most recent MaxHistory entries and held there from then on.
func (s *Session) AddEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ServiceID = s.serviceID
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.history = append(s.history, e)

	if len(s.history) > HistoryCleanupThreshold {
		s.trimmed = true
	}
	if s.trimmed && len(s.history) > MaxHistory {
		kept := make([]Event, MaxHistory)
		copy(kept, s.history[len(s.history)-MaxHistory:])
		s.history = kept
	}
}

//History returns a copy of the event history, oldest first
func (s *Session) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}
